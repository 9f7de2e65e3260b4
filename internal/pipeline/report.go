package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/judacas/AutoDJ/pkg/models"
)

// MixSummary is what a user sees for one processed mix.
type MixSummary struct {
	MixAssetHash         string                        `json:"mix_asset_hash"`
	Label                string                        `json:"label"`
	DurationMs           int64                         `json:"duration_ms"`
	SongsRecognized      []string                      `json:"songs_recognized"`
	Occurrences          int                           `json:"occurrences"`
	TransitionsFound     int                           `json:"transitions_found"`
	TransitionsExtracted int                           `json:"transitions_extracted"`
	EdgesAdded           int                           `json:"edges_added"`
	Diagnostics          map[models.DiagnosticKind]int `json:"diagnostics,omitempty"`
	Errors               map[models.ErrorKind]int      `json:"errors,omitempty"`
	Clips                []string                      `json:"clips,omitempty"`
}

func (s *MixSummary) countError(err error) {
	if s.Errors == nil {
		s.Errors = make(map[models.ErrorKind]int)
	}
	s.Errors[models.KindOf(err)]++
}

func (s *MixSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mix %s (%s)\n", s.Label, formatMs(s.DurationMs))
	fmt.Fprintf(&b, "  songs recognized:      %d %v\n", len(s.SongsRecognized), s.SongsRecognized)
	fmt.Fprintf(&b, "  transitions found:     %d\n", s.TransitionsFound)
	fmt.Fprintf(&b, "  transitions extracted: %d\n", s.TransitionsExtracted)
	fmt.Fprintf(&b, "  graph edges added:     %d\n", s.EdgesAdded)
	for _, k := range sortedKeys(s.Diagnostics) {
		fmt.Fprintf(&b, "  diagnostic %s: %d\n", k, s.Diagnostics[k])
	}
	for _, k := range sortedKeys(s.Errors) {
		fmt.Fprintf(&b, "  error %s: %d\n", k, s.Errors[k])
	}
	return b.String()
}

// RunReport aggregates outcomes of one Run. It is safe for concurrent use.
type RunReport struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	mu          sync.Mutex
	Indexed     int
	Reused      int
	Mixes       []*MixSummary
	Failures    map[models.ErrorKind]int
	Failed      map[string]string // unit key -> error
	Diagnostics map[models.DiagnosticKind]int
}

func newRunReport(runID string) *RunReport {
	return &RunReport{
		RunID:    runID,
		Started:  time.Now(),
		Failures:    make(map[models.ErrorKind]int),
		Failed:      make(map[string]string),
		Diagnostics: make(map[models.DiagnosticKind]int),
	}
}

func (r *RunReport) fail(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures[models.KindOf(err)]++
	r.Failed[key] = err.Error()
}

func (r *RunReport) indexed(reused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reused {
		r.Reused++
	} else {
		r.Indexed++
	}
}

func (r *RunReport) addMix(s *MixSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Mixes = append(r.Mixes, s)
	// per-candidate failures count toward the run too
	for k, n := range s.Errors {
		r.Failures[k] += n
	}
	for k, n := range s.Diagnostics {
		r.Diagnostics[k] += n
	}
}

// DiagnosticCount is the number of skipped pairs of one kind across all mixes.
func (r *RunReport) DiagnosticCount(kind models.DiagnosticKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Diagnostics[kind]
}

// FailureCount is the number of failures of one kind.
func (r *RunReport) FailureCount(kind models.ErrorKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Failures[kind]
}

func (r *RunReport) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "run %s finished %s, took %s\n", r.RunID, humanize.Time(r.Finished), r.Finished.Sub(r.Started).Round(time.Millisecond))
	fmt.Fprintf(&b, "assets indexed: %s (reused %s)\n", humanize.Comma(int64(r.Indexed)), humanize.Comma(int64(r.Reused)))

	var edges, clips int
	for _, m := range r.Mixes {
		edges += m.EdgesAdded
		clips += m.TransitionsExtracted
	}
	fmt.Fprintf(&b, "mixes processed: %d, clips: %s, new edges: %s\n", len(r.Mixes), humanize.Comma(int64(clips)), humanize.Comma(int64(edges)))
	for _, k := range sortedKeys(r.Failures) {
		fmt.Fprintf(&b, "failures %s: %d\n", k, r.Failures[k])
	}
	for _, k := range sortedKeys(r.Diagnostics) {
		fmt.Fprintf(&b, "diagnostics %s: %d\n", k, r.Diagnostics[k])
	}
	for _, m := range r.Mixes {
		b.WriteString(m.String())
	}
	return b.String()
}

func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
