package graph

import (
	"fmt"
	"sort"

	"github.com/judacas/AutoDJ/pkg/models"
)

// adjacency is a read-only copy of the neighbour lists, so path searches do
// not hold shard locks while they run.
type adjacency struct {
	next map[string][]string
	// best edge confidence per (from, to), used to rank beam paths
	conf map[[2]string]float64
}

func (g *Graph) adjacency() (adjacency, []string) {
	songs := g.Songs()
	adj := adjacency{next: map[string][]string{}, conf: map[[2]string]float64{}}
	ids := make([]string, 0, len(songs))
	for _, n := range songs {
		ids = append(ids, n.SongID)
		adj.next[n.SongID] = g.GetNeighbors(n.SongID)
		for _, e := range g.GetOutEdges(n.SongID) {
			k := [2]string{e.From, e.To}
			adj.conf[k] = max(adj.conf[k], e.Confidence)
		}
	}
	return adj, ids
}

// LongestPath finds the longest simple path starting at start by exhaustive
// depth-first search. maxDepth bounds the number of songs in the path; zero
// means unbounded. The search is exponential, so it only suits small graphs.
func (g *Graph) LongestPath(start string, maxDepth int) ([]string, error) {
	if _, ok := g.GetSong(start); !ok {
		return nil, fmt.Errorf("song %s: %w", start, models.ErrNotFound)
	}
	adj, _ := g.adjacency()
	return adj.longestFrom(start, maxDepth), nil
}

// LongestPathAny runs LongestPath from every song and keeps the longest.
func (g *Graph) LongestPathAny(maxDepth int) []string {
	adj, ids := g.adjacency()
	var best []string
	for _, id := range ids {
		if p := adj.longestFrom(id, maxDepth); len(p) > len(best) {
			best = p
		}
	}
	return best
}

func (a adjacency) longestFrom(start string, maxDepth int) []string {
	visited := map[string]bool{}
	var dfs func(cur string, depth int) []string
	dfs = func(cur string, depth int) []string {
		visited[cur] = true
		defer delete(visited, cur)

		best := []string{cur}
		if maxDepth > 0 && depth >= maxDepth {
			return best
		}
		for _, n := range a.next[cur] {
			if visited[n] {
				continue
			}
			if tail := dfs(n, depth+1); len(tail)+1 > len(best) {
				best = append([]string{cur}, tail...)
			}
		}
		return best
	}
	return dfs(start, 1)
}

type beamPath struct {
	songs []string
	seen  map[string]bool
	conf  float64 // sum of best edge confidences along the path
}

func (p beamPath) extend(song string, conf float64) beamPath {
	seen := make(map[string]bool, len(p.seen)+1)
	for k := range p.seen {
		seen[k] = true
	}
	seen[song] = true
	songs := make([]string, len(p.songs), len(p.songs)+1)
	copy(songs, p.songs)
	return beamPath{songs: append(songs, song), seen: seen, conf: p.conf + conf}
}

// BeamLongestPath approximates the longest simple path from any start by
// keeping the width best partial paths per step. Width 1 is greedy; a width
// at least the number of paths is exhaustive. Ties between equally long
// paths go to the higher summed confidence.
func (g *Graph) BeamLongestPath(width, maxDepth int) []string {
	if width < 1 {
		width = 1
	}
	adj, ids := g.adjacency()

	var best beamPath
	better := func(a, b beamPath) bool {
		if len(a.songs) != len(b.songs) {
			return len(a.songs) > len(b.songs)
		}
		return a.conf > b.conf
	}

	for _, start := range ids {
		beam := []beamPath{{songs: []string{start}, seen: map[string]bool{start: true}}}
		for len(beam) > 0 {
			var next []beamPath
			for _, p := range beam {
				last := p.songs[len(p.songs)-1]
				extended := false
				if maxDepth <= 0 || len(p.songs) < maxDepth {
					for _, n := range adj.next[last] {
						if p.seen[n] {
							continue
						}
						next = append(next, p.extend(n, adj.conf[[2]string{last, n}]))
						extended = true
					}
				}
				if !extended && better(p, best) {
					best = p
				}
			}
			sort.SliceStable(next, func(i, j int) bool { return better(next[i], next[j]) })
			if len(next) > width {
				next = next[:width]
			}
			beam = next
		}
	}
	return best.songs
}
