package recognition

import (
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/judacas/AutoDJ/pkg/models"
)

// Posting is one catalog occurrence of a hash.
type Posting struct {
	Song     int32 // index into Snapshot songs
	AnchorMs uint32
}

// SongEntry is a catalog song and the sorted anchor times of its landmarks,
// used to know how many matches a region of the song should produce.
type SongEntry struct {
	SongID     string
	AssetHash  string
	DurationMs int64
	anchors    []uint32
}

// Expected returns the number of landmarks anchored in [fromMs, toMs).
func (e *SongEntry) Expected(fromMs, toMs int64) int {
	if toMs <= fromMs {
		return 0
	}
	lo := sort.Search(len(e.anchors), func(i int) bool { return int64(e.anchors[i]) >= fromMs })
	hi := sort.Search(len(e.anchors), func(i int) bool { return int64(e.anchors[i]) >= toMs })
	return hi - lo
}

func (e *SongEntry) Landmarks() int { return len(e.anchors) }

// Snapshot is an immutable view of the catalog. Recognition runs read exactly
// one snapshot from start to finish.
type Snapshot struct {
	version  uint64
	postings map[uint32][]Posting
	songs    []*SongEntry
	byID     map[string]int32
}

func (s *Snapshot) Version() uint64 { return s.version }
func (s *Snapshot) Songs() int      { return len(s.songs) }

func (s *Snapshot) Lookup(hash uint32) []Posting { return s.postings[hash] }

func (s *Snapshot) Song(idx int32) *SongEntry { return s.songs[idx] }

func (s *Snapshot) SongIndex(songID string) (int32, bool) {
	idx, ok := s.byID[songID]
	return idx, ok
}

// Entry is a song fingerprint to publish.
type Entry struct {
	SongID      string
	DurationMs  int64
	Fingerprint models.Fingerprint
}

// Catalog publishes snapshots copy-on-write. Readers never block; publishers
// are serialized.
type Catalog struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func NewCatalog() *Catalog {
	c := &Catalog{}
	c.current.Store(&Snapshot{
		postings: map[uint32][]Posting{},
		byID:     map[string]int32{},
	})
	return c
}

// Snapshot returns the latest published snapshot.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Publish adds entries and returns the new snapshot. Republishing a song with
// the same asset is a no-op; a song with a new asset replaces the old one.
func (c *Catalog) Publish(entries ...Entry) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current.Load()

	var add []Entry
	replaced := map[string]bool{}
	for _, e := range entries {
		if idx, ok := old.byID[e.SongID]; ok {
			if old.songs[idx].AssetHash == e.Fingerprint.AssetHash {
				continue
			}
			replaced[e.SongID] = true
		}
		add = append(add, e)
	}
	if len(add) == 0 {
		return old
	}

	var next *Snapshot
	if len(replaced) > 0 {
		next = rebuildWithout(old, replaced)
	} else {
		next = &Snapshot{
			postings: make(map[uint32][]Posting, len(old.postings)),
			songs:    slices.Clone(old.songs),
			byID:     make(map[string]int32, len(old.byID)+len(add)),
		}
		for h, ps := range old.postings {
			// Clip so appends below copy instead of writing into the old backing array.
			next.postings[h] = slices.Clip(ps)
		}
		for id, idx := range old.byID {
			next.byID[id] = idx
		}
	}
	next.version = old.version + 1

	for _, e := range add {
		if _, dup := next.byID[e.SongID]; dup {
			continue // repeated within the batch; the first entry wins
		}
		addEntry(next, e)
	}

	c.current.Store(next)
	return next
}

func addEntry(s *Snapshot, e Entry) {
	idx := int32(len(s.songs))
	anchors := make([]uint32, len(e.Fingerprint.Landmarks))
	for i, lm := range e.Fingerprint.Landmarks {
		anchors[i] = lm.AnchorMs
		s.postings[lm.Hash] = append(s.postings[lm.Hash], Posting{Song: idx, AnchorMs: lm.AnchorMs})
	}
	slices.Sort(anchors)
	s.songs = append(s.songs, &SongEntry{
		SongID:     e.SongID,
		AssetHash:  e.Fingerprint.AssetHash,
		DurationMs: e.DurationMs,
		anchors:    anchors,
	})
	s.byID[e.SongID] = idx
}

// rebuildWithout re-indexes every surviving song. Song indexes shift, so
// postings cannot be patched in place.
func rebuildWithout(old *Snapshot, drop map[string]bool) *Snapshot {
	next := &Snapshot{
		postings: make(map[uint32][]Posting, len(old.postings)),
		byID:     make(map[string]int32, len(old.byID)),
	}
	remap := make([]int32, len(old.songs))
	for i, song := range old.songs {
		if drop[song.SongID] {
			remap[i] = -1
			continue
		}
		remap[i] = int32(len(next.songs))
		next.byID[song.SongID] = remap[i]
		next.songs = append(next.songs, song)
	}
	for h, ps := range old.postings {
		var kept []Posting
		for _, p := range ps {
			if idx := remap[p.Song]; idx >= 0 {
				kept = append(kept, Posting{Song: idx, AnchorMs: p.AnchorMs})
			}
		}
		if len(kept) > 0 {
			next.postings[h] = kept
		}
	}
	return next
}
