// Package graph holds the directed multigraph of observed song transitions.
// Nodes are songs; every edge is one transition heard in one mix.
package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	xxhash "github.com/OneOfOne/xxhash"
	"github.com/judacas/AutoDJ/pkg/models"
)

// Persister mirrors graph mutations into durable storage. CommitTransitions
// must apply nodes and edges atomically.
type Persister interface {
	SaveSong(ctx context.Context, node models.SongNode) error
	CommitTransitions(ctx context.Context, nodes []models.SongNode, edges []models.TransitionEdge) error
	DeleteTransition(ctx context.Context, key models.EdgeKey) error
	LoadGraph(ctx context.Context) ([]models.SongNode, []models.TransitionEdge, error)
}

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
}

const defaultShards = 16

// shard owns the out-edges of the songs hashed to it.
type shard struct {
	mu      sync.RWMutex
	edges   []models.TransitionEdge // arena, append only
	removed []bool
	out     map[string][]int // source song -> arena indexes, insertion order
	ids     map[models.EdgeKey]int
}

func newShard() *shard {
	return &shard{out: map[string][]int{}, ids: map[models.EdgeKey]int{}}
}

// Graph is safe for concurrent use. Lock order is the node table first,
// then shards by ascending index.
type Graph struct {
	nodesMu sync.RWMutex
	nodes   map[string]models.SongNode

	shards  []*shard
	strict  bool
	persist Persister
	log     Logger
}

type Option func(*Graph)

// WithShards sets the number of edge shards.
func WithShards(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.shards = make([]*shard, n)
		}
	}
}

// WithStrict makes edges to songs without a metadata ref fail with
// ErrGraphConsistency instead of creating bare nodes.
func WithStrict(strict bool) Option {
	return func(g *Graph) { g.strict = strict }
}

// WithPersister writes every mutation through p before it becomes visible.
func WithPersister(p Persister) Option {
	return func(g *Graph) { g.persist = p }
}

func WithLogger(l Logger) Option {
	return func(g *Graph) { g.log = l }
}

func New(opts ...Option) *Graph {
	g := &Graph{
		nodes:  map[string]models.SongNode{},
		shards: make([]*shard, defaultShards),
	}
	for _, opt := range opts {
		opt(g)
	}
	for i := range g.shards {
		g.shards[i] = newShard()
	}
	return g
}

func (g *Graph) shardIndex(songID string) int {
	return int(xxhash.ChecksumString32(songID) % uint32(len(g.shards)))
}

func (g *Graph) shardFor(songID string) *shard {
	return g.shards[g.shardIndex(songID)]
}

// AddSong inserts node, or merges it into the existing node: non-empty
// fields replace stored ones and attributes are merged. Adding an identical
// node is a no-op.
func (g *Graph) AddSong(ctx context.Context, node models.SongNode) error {
	return g.addSong(ctx, node, g.persist != nil)
}

func (g *Graph) addSong(ctx context.Context, node models.SongNode, write bool) error {
	if err := node.Validate(); err != nil {
		return err
	}

	g.nodesMu.Lock()
	defer g.nodesMu.Unlock()

	merged, changed := mergeNode(g.nodes[node.SongID], node)
	if !changed {
		return nil
	}
	if write {
		if err := g.persist.SaveSong(ctx, merged); err != nil {
			return fmt.Errorf("persisting song %s: %w", node.SongID, err)
		}
	}
	g.nodes[node.SongID] = merged
	return nil
}

func mergeNode(old, in models.SongNode) (models.SongNode, bool) {
	if old.SongID == "" {
		in.Attributes = maps.Clone(in.Attributes)
		return in, true
	}
	out := old
	changed := false
	if in.MetadataRef != "" && in.MetadataRef != old.MetadataRef {
		out.MetadataRef = in.MetadataRef
		changed = true
	}
	if in.DurationMs > 0 && in.DurationMs != old.DurationMs {
		out.DurationMs = in.DurationMs
		changed = true
	}
	var attrs map[string]string
	for k, v := range in.Attributes {
		if cur, ok := old.Attributes[k]; ok && cur == v {
			continue
		}
		if attrs == nil {
			attrs = maps.Clone(old.Attributes)
			if attrs == nil {
				attrs = map[string]string{}
			}
		}
		attrs[k] = v
	}
	if attrs != nil {
		out.Attributes = attrs
		changed = true
	}
	return out, changed
}

// AddTransition records one observation. Re-adding an edge with the same
// identity is a no-op. Missing endpoints are created unless the graph is
// strict.
func (g *Graph) AddTransition(ctx context.Context, e models.TransitionEdge) error {
	_, err := g.AddTransitions(ctx, []models.TransitionEdge{e})
	return err
}

// AddTransitions commits edges all-or-nothing and returns how many were new.
func (g *Graph) AddTransitions(ctx context.Context, edges []models.TransitionEdge) (int, error) {
	return g.addTransitions(ctx, edges, g.persist != nil)
}

func (g *Graph) addTransitions(ctx context.Context, edges []models.TransitionEdge, write bool) (int, error) {
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return 0, err
		}
	}
	if len(edges) == 0 {
		return 0, nil
	}

	g.nodesMu.Lock()
	defer g.nodesMu.Unlock()

	involved := map[int]bool{}
	for _, e := range edges {
		involved[g.shardIndex(e.From)] = true
	}
	order := slices.Sorted(maps.Keys(involved))
	for _, i := range order {
		g.shards[i].mu.Lock()
	}
	defer func() {
		for _, i := range order {
			g.shards[i].mu.Unlock()
		}
	}()

	var (
		newNodes []models.SongNode
		newEdges []models.TransitionEdge
		seen     = map[models.EdgeKey]bool{}
		created  = map[string]bool{}
	)
	for _, e := range edges {
		for _, id := range []string{e.From, e.To} {
			node, ok := g.nodes[id]
			if g.strict && (!ok || node.MetadataRef == "") {
				return 0, fmt.Errorf("%w: edge %s->%s references song %s without metadata", models.ErrGraphConsistency, e.From, e.To, id)
			}
			if !ok && !created[id] {
				created[id] = true
				newNodes = append(newNodes, models.SongNode{SongID: id})
			}
		}
		key := e.Key()
		if _, dup := g.shardFor(e.From).ids[key]; dup || seen[key] {
			continue
		}
		seen[key] = true
		e.Extra = maps.Clone(e.Extra)
		newEdges = append(newEdges, e)
	}
	if len(newEdges) == 0 && len(newNodes) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if write {
		if err := g.persist.CommitTransitions(ctx, newNodes, newEdges); err != nil {
			return 0, fmt.Errorf("persisting %d transitions: %w", len(newEdges), err)
		}
	}

	for _, n := range newNodes {
		g.nodes[n.SongID] = n
	}
	for _, e := range newEdges {
		s := g.shardFor(e.From)
		idx := len(s.edges)
		s.edges = append(s.edges, e)
		s.removed = append(s.removed, false)
		s.out[e.From] = append(s.out[e.From], idx)
		s.ids[e.Key()] = idx
	}
	if g.log != nil {
		g.log.Debugf("committed %d transitions (%d new songs)", len(newEdges), len(newNodes))
	}
	return len(newEdges), nil
}

// RemoveTransition deletes one observation by identity.
func (g *Graph) RemoveTransition(ctx context.Context, key models.EdgeKey) error {
	s := g.shardFor(key.From)
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.ids[key]
	if !ok {
		return fmt.Errorf("transition %s->%s in %s at %dms: %w", key.From, key.To, key.MixAssetID, key.TimestampMs, models.ErrNotFound)
	}
	if g.persist != nil {
		if err := g.persist.DeleteTransition(ctx, key); err != nil {
			return fmt.Errorf("deleting transition: %w", err)
		}
	}
	s.removed[idx] = true
	delete(s.ids, key)
	s.out[key.From] = slices.DeleteFunc(s.out[key.From], func(i int) bool { return i == idx })
	if len(s.out[key.From]) == 0 {
		delete(s.out, key.From)
	}
	return nil
}

// GetNeighbors returns the distinct songs songID has transitioned into,
// sorted by id.
func (g *Graph) GetNeighbors(songID string) []string {
	s := g.shardFor(songID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := map[string]struct{}{}
	for _, idx := range s.out[songID] {
		set[s.edges[idx].To] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// GetOutEdges returns every observation leaving songID in insertion order,
// without filtering.
func (g *Graph) GetOutEdges(songID string) []models.TransitionEdge {
	return g.OutEdgesAbove(songID, 0)
}

// OutEdgesAbove is GetOutEdges restricted to confidence >= minConfidence.
func (g *Graph) OutEdgesAbove(songID string, minConfidence float64) []models.TransitionEdge {
	s := g.shardFor(songID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TransitionEdge, 0, len(s.out[songID]))
	for _, idx := range s.out[songID] {
		e := s.edges[idx]
		if e.Confidence < minConfidence {
			continue
		}
		e.Extra = maps.Clone(e.Extra)
		out = append(out, e)
	}
	return out
}

func (g *Graph) GetSong(songID string) (models.SongNode, bool) {
	g.nodesMu.RLock()
	defer g.nodesMu.RUnlock()
	n, ok := g.nodes[songID]
	if ok {
		n.Attributes = maps.Clone(n.Attributes)
	}
	return n, ok
}

// Songs lists every node sorted by id.
func (g *Graph) Songs() []models.SongNode {
	g.nodesMu.RLock()
	defer g.nodesMu.RUnlock()
	out := make([]models.SongNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SongID < out[j].SongID })
	return out
}

type Stats struct {
	Songs        int
	Transitions  int
	Sources      int // songs with at least one out-edge
	MaxOutDegree int
	Shards       int
	Tombstones   int // removed edges still occupying arena slots
}

func (g *Graph) Stats() Stats {
	g.nodesMu.RLock()
	defer g.nodesMu.RUnlock()

	st := Stats{Songs: len(g.nodes), Shards: len(g.shards)}
	for _, s := range g.shards {
		s.mu.RLock()
		st.Transitions += len(s.ids)
		st.Sources += len(s.out)
		st.Tombstones += len(s.edges) - len(s.ids)
		for _, idxs := range s.out {
			st.MaxOutDegree = max(st.MaxOutDegree, len(idxs))
		}
		s.mu.RUnlock()
	}
	return st
}

// Restore loads the persisted graph into g without writing it back.
func (g *Graph) Restore(ctx context.Context) error {
	if g.persist == nil {
		return nil
	}
	nodes, edges, err := g.persist.LoadGraph(ctx)
	if err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}

	for _, n := range nodes {
		if err := g.addSong(ctx, n, false); err != nil {
			return err
		}
	}
	if _, err := g.addTransitions(ctx, edges, false); err != nil {
		return err
	}
	if g.log != nil {
		g.log.Infof("restored graph: %d songs, %d transitions", len(nodes), len(edges))
	}
	return nil
}
