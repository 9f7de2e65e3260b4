package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dhowden/tag"
)

type Metadata struct {
	Filename    string
	Title       string
	Artist      string
	Album       string
	Genre       string
	Year        int
	DurationSec float64
	SampleRate  int
	Channels    int
	BitDepth    int
	Format      string
}

// Ref is the catalog reference used for graph nodes: "artist - title" when
// both are known, otherwise the file name.
func (m *Metadata) Ref() string {
	switch {
	case m.Artist != "" && m.Title != "":
		return m.Artist + " - " + m.Title
	case m.Title != "":
		return m.Title
	default:
		return m.Filename
	}
}

// Attributes flattens the non-empty descriptive fields for a graph node.
func (m *Metadata) Attributes() map[string]string {
	attrs := make(map[string]string)
	put := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			attrs[k] = v
		}
	}
	put("title", m.Title)
	put("artist", m.Artist)
	put("album", m.Album)
	put("genre", m.Genre)
	if m.Year > 0 {
		attrs["year"] = strconv.Itoa(m.Year)
	}
	put("format", m.Format)
	return attrs
}

// ReadTags reads embedded ID3/MP4/FLAC/OGG tags. Files without tags return
// metadata holding only the file name.
func ReadTags(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	meta := &Metadata{Filename: filepath.Base(path)}
	m, err := tag.ReadFrom(f)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return meta, nil
		}
		return nil, fmt.Errorf("reading tags of %s: %w", meta.Filename, err)
	}

	meta.Title = m.Title()
	meta.Artist = m.Artist()
	meta.Album = m.Album()
	meta.Genre = m.Genre()
	meta.Year = m.Year()
	meta.Format = string(m.FileType())
	return meta, nil
}

type ffprobeOutput struct {
	Format struct {
		Filename string            `json:"filename"`
		Duration string            `json:"duration"`
		Format   string            `json:"format_name"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType     string `json:"codec_type"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

func (p *ffprobeOutput) firstAudioStream() *ffprobeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

// ReadMetadataFFmpeg reads stream layout and duration with ffprobe.
func ReadMetadataFFmpeg(ctx context.Context, path string) (*Metadata, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		"ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	var info ffprobeOutput
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, err
	}

	audioStream := info.firstAudioStream()
	if audioStream == nil {
		return nil, errors.New("no audio stream found")
	}

	duration, _ := strconv.ParseFloat(info.Format.Duration, 64)
	sampleRate, _ := strconv.Atoi(audioStream.SampleRate)

	meta := &Metadata{
		Filename:    filepath.Base(path),
		DurationSec: duration,
		SampleRate:  sampleRate,
		Channels:    audioStream.Channels,
		BitDepth:    audioStream.BitsPerSample,
		Format:      info.Format.Format,
	}

	if info.Format.Tags != nil {
		meta.Title = info.Format.Tags["title"]
		meta.Artist = info.Format.Tags["artist"]
		meta.Album = info.Format.Tags["album"]
		meta.Genre = info.Format.Tags["genre"]
	}

	return meta, nil
}
