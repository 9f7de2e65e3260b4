package recognition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/judacas/AutoDJ/pkg/models"
)

// Config tunes voting and boundary inference. All durations are milliseconds.
type Config struct {
	BucketMs        int64 // width of a vote bucket over alignment offsets
	MinVotes        int   // merged bucket score needed to become a candidate
	MinSeparationMs int64 // two candidates of one song must differ by this much in offset
	MaxPerSong      int   // cap on occurrences of a song per mix

	RefineWindowMs   int64 // matches within this distance of the coarse offset are refined
	AlignToleranceMs int64 // matches within this distance of the refined offset are aligned

	DensityBinMs   int64   // song-time bin width for boundary inference
	DecayThreshold float64 // fraction of the seed bin's ratio a bin must keep to extend the region
	GapBins        int     // weak bins tolerated inside a region
	EdgePadMs      int64   // slack added after the last aligned match

	MinConfidence        float64 // occurrences below are dropped
	StrongConfidence     float64 // occurrences below are flagged low confidence
	AmbiguityToleranceMs int64   // start distance under which overlapping songs are ambiguous
}

func DefaultConfig() Config {
	return Config{
		BucketMs:             50,
		MinVotes:             20,
		MinSeparationMs:      10_000,
		MaxPerSong:           8,
		RefineWindowMs:       250,
		AlignToleranceMs:     40,
		DensityBinMs:         1000,
		DecayThreshold:       0.3,
		GapBins:              2,
		EdgePadMs:            250,
		MinConfidence:        0.15,
		StrongConfidence:     0.5,
		AmbiguityToleranceMs: 2000,
	}
}

func (c Config) Validate() error {
	if c.BucketMs <= 0 || c.DensityBinMs <= 0 {
		return errors.New("recognition: bucket and bin widths must be positive")
	}
	if c.MinVotes < 1 || c.MaxPerSong < 1 {
		return errors.New("recognition: min votes and max per song must be at least 1")
	}
	if c.RefineWindowMs < c.BucketMs || c.AlignToleranceMs <= 0 {
		return fmt.Errorf("recognition: refine window %dms must cover a bucket (%dms)", c.RefineWindowMs, c.BucketMs)
	}
	if c.DecayThreshold <= 0 || c.DecayThreshold > 1 {
		return fmt.Errorf("recognition: decay threshold %v outside (0,1]", c.DecayThreshold)
	}
	if c.MinConfidence < 0 || c.StrongConfidence < c.MinConfidence || c.StrongConfidence > 1 {
		return errors.New("recognition: confidence thresholds must satisfy 0 <= min <= strong <= 1")
	}
	return nil
}

// Logger is the subset of the project logger the recognizer needs.
type Logger interface {
	Debugf(format string, args ...any)
}

type Recognizer struct {
	cfg Config
	log Logger
}

func NewRecognizer(cfg Config, log Logger) (*Recognizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Recognizer{cfg: cfg, log: log}, nil
}

// match is one mix landmark that hit a catalog posting.
type match struct {
	lm     int // index of the mix landmark
	mixMs  int64
	songMs int64
}

func (m match) delta() int64 { return m.mixMs - m.songMs }

// Recognize finds every catalog song occurring in mix. The result is sorted
// by start time; an empty result is not an error.
func (r *Recognizer) Recognize(ctx context.Context, mix models.AudioAsset, fp models.Fingerprint, snap *Snapshot) ([]models.Occurrence, error) {
	matches, votes, err := r.vote(ctx, fp, snap, -1)
	if err != nil {
		return nil, err
	}

	var out []models.Occurrence
	for song, hist := range votes {
		entry := snap.Song(song)
		for _, coarse := range r.candidates(hist) {
			occ, ok := r.refine(entry, matches[song], coarse, mix.DurationMs)
			if !ok {
				continue
			}
			occ.MixAssetHash = mix.ContentHash
			out = append(out, occ)
		}
	}

	out = dedupeSameSong(out)
	sortOccurrences(out)
	r.flag(out)
	if r.log != nil {
		r.log.Debugf("recognized %d occurrences in %s against catalog v%d", len(out), mix, snap.Version())
	}
	return out, nil
}

// RecognizeSong restricts recognition to one song. It returns
// ErrNoOccurrenceFound when the song is catalogued but absent from the mix.
func (r *Recognizer) RecognizeSong(ctx context.Context, mix models.AudioAsset, fp models.Fingerprint, snap *Snapshot, songID string) ([]models.Occurrence, error) {
	idx, ok := snap.SongIndex(songID)
	if !ok {
		return nil, fmt.Errorf("song %s: %w", songID, models.ErrNotFound)
	}
	matches, votes, err := r.vote(ctx, fp, snap, idx)
	if err != nil {
		return nil, err
	}

	var out []models.Occurrence
	for _, coarse := range r.candidates(votes[idx]) {
		occ, ok := r.refine(snap.Song(idx), matches[idx], coarse, mix.DurationMs)
		if ok {
			occ.MixAssetHash = mix.ContentHash
			out = append(out, occ)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("song %s in %s: %w", songID, mix, models.ErrNoOccurrenceFound)
	}
	out = dedupeSameSong(out)
	sortOccurrences(out)
	return out, nil
}

// vote builds the per-song offset histograms. only >= 0 restricts voting to
// one song index.
func (r *Recognizer) vote(ctx context.Context, fp models.Fingerprint, snap *Snapshot, only int32) (map[int32][]match, map[int32]map[int64]int, error) {
	matches := make(map[int32][]match)
	votes := make(map[int32]map[int64]int)

	for i, lm := range fp.Landmarks {
		if i&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		for _, p := range snap.Lookup(lm.Hash) {
			if only >= 0 && p.Song != only {
				continue
			}
			m := match{lm: i, mixMs: int64(lm.AnchorMs), songMs: int64(p.AnchorMs)}
			matches[p.Song] = append(matches[p.Song], m)

			hist := votes[p.Song]
			if hist == nil {
				hist = make(map[int64]int)
				votes[p.Song] = hist
			}
			hist[floorDiv(m.delta(), r.cfg.BucketMs)]++
		}
	}
	return matches, votes, nil
}

// candidates picks coarse offsets (bucket centers) greedily by merged score.
func (r *Recognizer) candidates(hist map[int64]int) []int64 {
	type scored struct {
		bucket int64
		score  int
	}
	var peaks []scored
	for b, v := range hist {
		s := v + hist[b-1] + hist[b+1]
		if s >= r.cfg.MinVotes {
			peaks = append(peaks, scored{b, s})
		}
	}
	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].score != peaks[j].score {
			return peaks[i].score > peaks[j].score
		}
		return peaks[i].bucket < peaks[j].bucket
	})

	var chosen []int64
	for _, p := range peaks {
		center := p.bucket*r.cfg.BucketMs + r.cfg.BucketMs/2
		near := false
		for _, c := range chosen {
			if abs64(c-center) < r.cfg.MinSeparationMs {
				near = true
				break
			}
		}
		if near {
			continue
		}
		chosen = append(chosen, center)
		if len(chosen) == r.cfg.MaxPerSong {
			break
		}
	}
	return chosen
}

// refine turns a coarse offset into a bounded occurrence.
func (r *Recognizer) refine(entry *SongEntry, all []match, coarse, mixDurationMs int64) (models.Occurrence, bool) {
	var deltas []int64
	for _, m := range all {
		if abs64(m.delta()-coarse) <= r.cfg.RefineWindowMs {
			deltas = append(deltas, m.delta())
		}
	}
	if len(deltas) == 0 {
		return models.Occurrence{}, false
	}
	slices.Sort(deltas)
	align := deltas[len(deltas)/2]

	// A mix landmark counts once even when it hits several postings, so a
	// sustained note cannot inflate the density.
	var aligned []match
	for _, m := range all {
		if abs64(m.delta()-align) > r.cfg.AlignToleranceMs {
			continue
		}
		if n := len(aligned); n > 0 && aligned[n-1].lm == m.lm {
			continue
		}
		aligned = append(aligned, m)
	}

	// Part of the song that can be heard in the mix at this alignment.
	visFrom := max(0, -align)
	visTo := entry.DurationMs
	if mixDurationMs > 0 {
		visTo = min(visTo, mixDurationMs-align)
	}
	if visTo <= visFrom {
		return models.Occurrence{}, false
	}

	reg, ok := r.region(entry, aligned, visFrom, visTo)
	if !ok {
		return models.Occurrence{}, false
	}

	conf := 0.0
	if reg.expected > 0 {
		conf = math.Min(1, float64(reg.matched)/float64(reg.expected))
	}
	if conf < r.cfg.MinConfidence {
		return models.Occurrence{}, false
	}

	start := reg.fromMs + align
	end := reg.toMs + align
	if mixDurationMs > 0 {
		end = min(end, mixDurationMs)
	}
	return models.Occurrence{
		SongID:        entry.SongID,
		SongAssetHash: entry.AssetHash,
		StartMs:       max(0, start),
		EndMs:         end,
		AlignMs:       align,
		Confidence:    conf,
		Votes:         reg.matched,
		LowConfidence: conf < r.cfg.StrongConfidence,
	}, true
}

type region struct {
	fromMs, toMs      int64 // song time
	matched, expected int
}

// region grows the densest song-time bin outwards while the smoothed
// matched/expected ratio stays above DecayThreshold times the seed's own
// ratio. Landmark survival depends on how the song sits on the mix's frame
// grid and on what plays over it, so the reference is the occurrence itself.
func (r *Recognizer) region(entry *SongEntry, aligned []match, visFrom, visTo int64) (region, bool) {
	binMs := r.cfg.DensityBinMs
	n := int((visTo - visFrom + binMs - 1) / binMs)
	binStart := func(i int) int64 { return visFrom + int64(i)*binMs }
	binEnd := func(i int) int64 { return min(visTo, binStart(i+1)) }

	matched := make([]int, n)
	expected := make([]int, n)
	for i := range n {
		expected[i] = entry.Expected(binStart(i), binEnd(i))
	}
	for _, m := range aligned {
		if m.songMs < visFrom || m.songMs >= visTo {
			continue
		}
		matched[int((m.songMs-visFrom)/binMs)]++
	}

	seed := 0
	for i := range n {
		if matched[i] > matched[seed] {
			seed = i
		}
	}
	if matched[seed] == 0 {
		return region{}, false
	}

	// Weighted 1-2-1 smoothing; bins with nothing expected are neutral.
	smoothed := func(i int) (float64, bool) {
		if expected[i] == 0 {
			return 0, false
		}
		var num, den float64
		for d, w := range [3]float64{0.25, 0.5, 0.25} {
			j := i + d - 1
			if j < 0 || j >= n || expected[j] == 0 {
				continue
			}
			num += w * math.Min(1, float64(matched[j])/float64(expected[j]))
			den += w
		}
		return num / den, true
	}

	ref := math.Min(1, float64(matched[seed])/float64(expected[seed]))
	threshold := r.cfg.DecayThreshold * ref

	extend := func(step int) int {
		last, gaps := seed, 0
		for i := seed + step; i >= 0 && i < n; i += step {
			ratio, counted := smoothed(i)
			if !counted {
				continue
			}
			if ratio >= threshold {
				last, gaps = i, 0
				continue
			}
			gaps++
			if gaps > r.cfg.GapBins {
				break
			}
		}
		return last
	}
	lo, hi := extend(-1), extend(1)

	reg := region{fromMs: binStart(lo), toMs: binEnd(hi)}
	for i := lo; i <= hi; i++ {
		reg.matched += matched[i]
		reg.expected += expected[i]
	}

	// Bounds come from the aligned matches themselves. The bins just outside
	// the region are searched too: a cut rarely lands on a bin edge and the
	// partial bin is often too sparse to pass on its own.
	searchFrom, searchTo := binStart(max(lo-1, 0)), binEnd(min(hi+1, n-1))
	firstMatch, lastMatch := int64(math.MaxInt64), int64(math.MinInt64)
	for _, m := range aligned {
		if m.songMs >= searchFrom && m.songMs < searchTo {
			firstMatch = min(firstMatch, m.songMs)
			lastMatch = max(lastMatch, m.songMs)
		}
	}
	reg.fromMs = firstMatch
	reg.toMs = min(searchTo, lastMatch+r.cfg.EdgePadMs)
	return reg, true
}

// flag marks overlapping occurrences of different songs that start at nearly
// the same time. Both are kept.
func (r *Recognizer) flag(occs []models.Occurrence) {
	for i := range occs {
		for j := i + 1; j < len(occs); j++ {
			if occs[j].StartMs-occs[i].StartMs > r.cfg.AmbiguityToleranceMs {
				break
			}
			if occs[i].SongID != occs[j].SongID && occs[j].StartMs < occs[i].EndMs {
				occs[i].Ambiguous = true
				occs[j].Ambiguous = true
			}
		}
	}
}

// dedupeSameSong keeps the stronger of two overlapping occurrences of one song,
// which happens when a song repeats material internally.
func dedupeSameSong(occs []models.Occurrence) []models.Occurrence {
	sort.Slice(occs, func(i, j int) bool {
		if occs[i].Votes != occs[j].Votes {
			return occs[i].Votes > occs[j].Votes
		}
		return occs[i].StartMs < occs[j].StartMs
	})
	var kept []models.Occurrence
	for _, o := range occs {
		dup := false
		for _, k := range kept {
			if k.SongID == o.SongID && o.StartMs < k.EndMs && k.StartMs < o.EndMs {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, o)
		}
	}
	return kept
}

func sortOccurrences(occs []models.Occurrence) {
	sort.Slice(occs, func(i, j int) bool {
		if occs[i].StartMs != occs[j].StartMs {
			return occs[i].StartMs < occs[j].StartMs
		}
		return occs[i].SongID < occs[j].SongID
	})
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
