package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/judacas/AutoDJ/internal/audio"
	"github.com/judacas/AutoDJ/internal/config"
	"github.com/judacas/AutoDJ/pkg/autodj"
	"github.com/judacas/AutoDJ/pkg/logger"
	"github.com/judacas/AutoDJ/pkg/models"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Global flags. Empty values fall back to config.yaml and AUTODJ_* env.
var (
	dbPath     string
	clipDir    string
	configDir  string
	workers    int
	badgerPath string
)

func init() {
	flag.StringVar(&dbPath, "db", "", "Path to the SQLite database file (env: AUTODJ_STORAGE_DB_PATH)")
	flag.StringVar(&clipDir, "clips", "", "Directory for extracted transition clips (env: AUTODJ_CLIPS_DIR)")
	flag.StringVar(&configDir, "config", ".", "Directory holding config.yaml")
	flag.IntVar(&workers, "workers", 0, "Concurrent units during run (env: AUTODJ_WORKER_WORKERS)")
	flag.StringVar(&badgerPath, "badger", "", "Keep fingerprints in a badger store at this directory")
}

var log *logger.Logger

func main() {
	flag.Usage = printUsage
	flag.Parse()

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log = cfg.NewLogger()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, rest := args[0], args[1:]
	log.Debugf("Executing command: %s", command)

	handlers := map[string]func(context.Context, *config.Config, []string) error{
		"index-song":  handleIndexSong,
		"process-mix": handleProcessMix,
		"run":         handleRun,
		"recognize":   handleRecognize,
		"neighbors":   handleNeighbors,
		"edges":       handleEdges,
		"path":        handlePath,
		"stats":       handleStats,
		"remove-edge": handleRemoveEdge,
	}
	handler, ok := handlers[command]
	if !ok {
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err := handler(ctx, cfg, rest); err != nil {
		fmt.Printf("\n❌ %s failed: %v\n", command, err)
		log.Errorf("%s failed: %v", command, err)
		os.Exit(exitCode(err))
	}
}

// exitCode separates bad input (2) from everything else (1).
func exitCode(err error) int {
	if errors.Is(err, models.ErrInvalidInput) || errors.Is(err, models.ErrNotFound) {
		return 2
	}
	return 1
}

func createService(ctx context.Context, cfg *config.Config, extra ...autodj.Option) (autodj.Service, error) {
	opts := cfg.ServiceOptions()
	if dbPath != "" {
		opts = append(opts, autodj.WithDBPath(dbPath))
	}
	if clipDir != "" {
		opts = append(opts, autodj.WithClipDir(clipDir))
	}
	if workers > 0 {
		opts = append(opts, autodj.WithWorkers(workers))
	}
	if badgerPath != "" {
		opts = append(opts, autodj.WithBadgerFingerprints(badgerPath))
	}
	opts = append(opts, autodj.WithLogger(log))
	opts = append(opts, extra...)
	return autodj.NewService(ctx, opts...)
}

// songInput builds a song input from a file, filling metadata from its tags
// unless overridden.
func songInput(path, songID, ref string) models.AssetInput {
	in := models.AssetInput{Path: path, Origin: models.OriginSong, SongID: songID, MetadataRef: ref}
	meta, err := audio.ReadTags(path)
	if err != nil {
		log.Warnf("Could not read tags of %s: %v", path, err)
		meta = &audio.Metadata{Filename: filepath.Base(path)}
	}
	if in.SongID == "" {
		in.SongID = strings.TrimSuffix(meta.Filename, filepath.Ext(meta.Filename))
	}
	if in.MetadataRef == "" {
		in.MetadataRef = meta.Ref()
	}
	in.Attributes = meta.Attributes()
	return in
}

func mixInput(path string) models.AssetInput {
	return models.AssetInput{Path: path, Origin: models.OriginMix}
}

func handleIndexSong(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("index-song", flag.ExitOnError)
	id := fs.String("id", "", "Song id (default: file name without extension)")
	ref := fs.String("ref", "", "Metadata reference (default: \"artist - title\" from tags)")
	path, err := positional(fs, args, "index-song <audio_file> [--id <id>] [--ref <ref>]")
	if err != nil {
		return err
	}

	svc, err := createService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Println("🎵 Fingerprinting song...")
	asset, err := svc.AddSong(ctx, songInput(path, *id, *ref))
	if err != nil {
		return err
	}
	fmt.Println("\n✅ Song indexed")
	fmt.Printf("   ID:       %s\n", asset.SongID)
	fmt.Printf("   Hash:     %s\n", asset.ContentHash)
	fmt.Printf("   Duration: %s\n", formatDuration(asset.DurationMs))
	return nil
}

func handleProcessMix(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("process-mix", flag.ExitOnError)
	path, err := positional(fs, args, "process-mix <mix_file>")
	if err != nil {
		return err
	}

	svc, err := createService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Println("🔍 Recognizing songs and extracting transitions...")
	summary, err := svc.ProcessMix(ctx, mixInput(path))
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(summary)
	return nil
}

func handleRun(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	songDir := fs.String("songs", "", "Directory of song files")
	mixDir := fs.String("mixes", "", "Directory of mix files")
	fs.Parse(args)
	if *songDir == "" && *mixDir == "" {
		return fmt.Errorf("%w: usage: run --songs <dir> --mixes <dir>", models.ErrInvalidInput)
	}

	songPaths, err := audioFiles(*songDir)
	if err != nil {
		return err
	}
	mixPaths, err := audioFiles(*mixDir)
	if err != nil {
		return err
	}
	songs := make([]models.AssetInput, 0, len(songPaths))
	for _, p := range songPaths {
		songs = append(songs, songInput(p, "", ""))
	}
	mixes := make([]models.AssetInput, 0, len(mixPaths))
	for _, p := range mixPaths {
		mixes = append(mixes, mixInput(p))
	}

	barOpts := []mpb.ContainerOption{mpb.WithWidth(64)}
	if log.Level() == logger.DEBUG {
		// debug lines would tear through the bars
		barOpts = append(barOpts, mpb.WithOutput(nil))
	}
	progress := mpb.NewWithContext(ctx, barOpts...)
	bars := map[string]*mpb.Bar{
		"index": addBar(progress, "Indexing: ", len(songs)),
		"mix":   addBar(progress, "Mixes:    ", len(mixes)),
	}
	svc, err := createService(ctx, cfg, autodj.WithProgress(func(stage string, out autodj.Outcome) {
		if bar, ok := bars[stage]; ok {
			bar.Increment()
		}
	}))
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := svc.Run(ctx, songs, mixes)
	for _, bar := range bars {
		// a canceled run leaves bars short; drop them so Wait returns
		if !bar.Completed() {
			bar.Abort(false)
		}
	}
	progress.Wait()
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(report)
	if n := len(report.Failed); n > 0 {
		return fmt.Errorf("%d unit(s) failed", n)
	}
	return nil
}

func addBar(p *mpb.Progress, name string, total int) *mpb.Bar {
	return p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(name),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.AverageETA(decor.ET_STYLE_GO),
		),
	)
}

func handleRecognize(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("recognize", flag.ExitOnError)
	songID := fs.String("song", "", "Song id to locate (required)")
	path, err := positional(fs, args, "recognize <mix_file> --song <id>")
	if err != nil {
		return err
	}
	if *songID == "" {
		return fmt.Errorf("%w: --song is required", models.ErrInvalidInput)
	}

	svc, err := createService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	occs, err := svc.RecognizeSong(ctx, mixInput(path), *songID)
	if err != nil {
		return err
	}
	fmt.Printf("\n✅ %s plays %d time(s):\n\n", *songID, len(occs))
	for i, o := range occs {
		fmt.Printf("%d. %s → %s in the mix (song from %s), confidence %.2f\n", i+1,
			formatDuration(o.StartMs), formatDuration(o.EndMs),
			formatDuration(o.StartMs-o.AlignMs), o.Confidence)
	}
	return nil
}

func handleNeighbors(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: usage: neighbors <song_id>", models.ErrInvalidInput)
	}
	svc, err := createService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if _, ok := svc.Song(args[0]); !ok {
		return fmt.Errorf("%w: song %q", models.ErrNotFound, args[0])
	}
	next := svc.Neighbors(args[0])
	if len(next) == 0 {
		fmt.Println("\n📭 No observed transitions out of", args[0])
		return nil
	}
	fmt.Printf("\n🎧 %s has been followed by:\n\n", args[0])
	for i, id := range next {
		fmt.Printf("%d. %s\n", i+1, describe(svc, id))
	}
	return nil
}

func handleEdges(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("edges", flag.ExitOnError)
	minConf := fs.Float64("min-confidence", 0, "Only show edges at or above this confidence")
	songID, err := positional(fs, args, "edges <song_id> [--min-confidence <c>]")
	if err != nil {
		return err
	}
	svc, err := createService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	edges := svc.OutEdges(songID, *minConf)
	fmt.Printf("\n🔗 %d transition(s) out of %s:\n\n", len(edges), songID)
	for i, e := range edges {
		fmt.Printf("%d. → %s at %s in mix %s (confidence %.2f)\n", i+1,
			e.To, formatDuration(e.TimestampMs), shortHash(e.MixAssetHash), e.Confidence)
		if clip := e.Extra["clip"]; clip != "" {
			fmt.Printf("   Clip: %s\n", clip)
		}
		fmt.Printf("   Key:  %s %s %s %d\n", e.From, e.To, e.MixAssetHash, e.TimestampMs)
	}
	return nil
}

func handlePath(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("path", flag.ExitOnError)
	start := fs.String("from", "", "Start song (default: search every song)")
	depth := fs.Int("depth", 50, "Maximum path length")
	beam := fs.Int("beam", 0, "Use beam search with this width instead of exhaustive search")
	fs.Parse(args)

	svc, err := createService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	var path []string
	if *beam > 0 {
		path = svc.BeamPath(*beam, *depth)
	} else if path, err = svc.LongestPath(*start, *depth); err != nil {
		return err
	}
	if len(path) == 0 {
		fmt.Println("\n📭 Graph is empty")
		return nil
	}
	fmt.Printf("\n🎶 Set of %d song(s):\n\n", len(path))
	for i, id := range path {
		fmt.Printf("%2d. %s\n", i+1, describe(svc, id))
	}
	return nil
}

func handleStats(ctx context.Context, cfg *config.Config, _ []string) error {
	svc, err := createService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	st := svc.Stats()
	fmt.Println("\n📊 Transition graph")
	fmt.Printf("   Songs:          %s\n", humanize.Comma(int64(st.Songs)))
	fmt.Printf("   Transitions:    %s\n", humanize.Comma(int64(st.Transitions)))
	fmt.Printf("   Sources:        %s\n", humanize.Comma(int64(st.Sources)))
	fmt.Printf("   Max out-degree: %d\n", st.MaxOutDegree)
	fmt.Printf("   Shards:         %d\n", st.Shards)
	return nil
}

func handleRemoveEdge(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("%w: usage: remove-edge <from> <to> <mix_hash> <timestamp_ms>", models.ErrInvalidInput)
	}
	ts, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp: %v", models.ErrInvalidInput, err)
	}
	svc, err := createService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	key := models.EdgeKey{From: args[0], To: args[1], MixAssetID: args[2], TimestampMs: ts}
	if err := svc.RemoveTransition(ctx, key); err != nil {
		return err
	}
	fmt.Printf("\n✅ Removed %s → %s at %s\n", key.From, key.To, formatDuration(key.TimestampMs))
	return nil
}

// positional pulls the leading non-flag argument and parses the flags after
// it, so "cmd file --flag x" works like the flag package expects.
func positional(fs *flag.FlagSet, args []string, usage string) (string, error) {
	var arg string
	var flagArgs []string
	for i, a := range args {
		if !strings.HasPrefix(a, "-") && arg == "" {
			arg = a
		} else {
			flagArgs = append(flagArgs, args[i:]...)
			break
		}
	}
	fs.Parse(flagArgs)
	if arg == "" {
		return "", fmt.Errorf("%w: usage: %s", models.ErrInvalidInput, usage)
	}
	return arg, nil
}

var audioExts = map[string]bool{".wav": true, ".mp3": true, ".flac": true, ".m4a": true, ".ogg": true, ".aac": true}

func audioFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", models.ErrInvalidInput, dir)
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !audioExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func describe(svc autodj.Service, id string) string {
	if node, ok := svc.Song(id); ok && node.MetadataRef != "" && node.MetadataRef != id {
		return fmt.Sprintf("%s (%s)", id, node.MetadataRef)
	}
	return id
}

func formatDuration(ms int64) string {
	s := ms / 1000
	return fmt.Sprintf("%d:%02d.%03d", s/60, s%60, ms%1000)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func printUsage() {
	fmt.Println("AutoDJ - learn song transitions from DJ mixes")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>        SQLite database (env: AUTODJ_STORAGE_DB_PATH, default: autodj.sqlite3)")
	fmt.Println("  --clips <dir>      Clip output directory (env: AUTODJ_CLIPS_DIR)")
	fmt.Println("  --badger <dir>     Store fingerprints in badger instead of SQLite")
	fmt.Println("  --workers <n>      Concurrent units during run (env: AUTODJ_WORKER_WORKERS)")
	fmt.Println("  --config <dir>     Directory holding config.yaml (default: .)")
	fmt.Println("\nUsage:")
	fmt.Println("  autodj [global-options] index-song <audio_file> [--id <id>] [--ref <ref>]")
	fmt.Println("  autodj [global-options] process-mix <mix_file>")
	fmt.Println("  autodj [global-options] run --songs <dir> --mixes <dir>")
	fmt.Println("  autodj [global-options] recognize <mix_file> --song <id>")
	fmt.Println("  autodj [global-options] neighbors <song_id>")
	fmt.Println("  autodj [global-options] edges <song_id> [--min-confidence <c>]")
	fmt.Println("  autodj [global-options] path [--from <id>] [--depth <n>] [--beam <width>]")
	fmt.Println("  autodj [global-options] stats")
	fmt.Println("  autodj [global-options] remove-edge <from> <to> <mix_hash> <timestamp_ms>")
	fmt.Println("\nExamples:")
	fmt.Println("  # Index a library and learn from a folder of sets")
	fmt.Println("  autodj --clips ./clips run --songs ./library --mixes ./sets")
	fmt.Println()
	fmt.Println("  # Build a long set from what DJs actually play")
	fmt.Println("  autodj path --beam 8 --depth 30")
}
