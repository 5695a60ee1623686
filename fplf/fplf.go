// Package fplf implements the FPLF ("Fill Preferred Link First") Path
// Engine: Dijkstra's shortest path over the topology graph with an edge
// weight that amplifies load differences for low-priority traffic and
// damps them for high-priority traffic (spec.md §4.4).
package fplf

import (
	"container/heap"
	"errors"
	"time"

	"github.com/amankumar00/fplf-controller/topology"
)

// Epsilon is the tie-break constant added to every edge weight so that,
// at equal load, Dijkstra still prefers fewer hops (spec.md §4.4).
const Epsilon = 1.0

// WeightMode selects what "load" means in the weight formula.
type WeightMode int

const (
	// RawLoad uses the link's absolute load in bits/s (spec.md §4.4,
	// the original behavior).
	RawLoad WeightMode = iota
	// Utilization uses load/capacity, so links of differing capacity
	// are weighed by how full they are rather than their raw rate.
	Utilization
)

// ErrNoPath is returned when the destination is unreachable from the
// source switch.
var ErrNoPath = errors.New("fplf: no path exists")

// Engine computes FPLF paths over a topology graph.
type Engine struct {
	Graph      *topology.Graph
	WeightMode WeightMode
	MaxPriority int
}

// New returns an Engine with the raw-load weight mode (spec.md §4.4's
// original formula) and the given P_max (4, per the recognised traffic
// classes VIDEO..UNKNOWN).
func New(g *topology.Graph, maxPriority int) *Engine {
	return &Engine{Graph: g, WeightMode: RawLoad, MaxPriority: maxPriority}
}

// Hop is one edge of a computed path.
type Hop struct {
	Link *topology.Link
}

// Path is a sequence of switches from source to destination, plus the
// link taken at each step (len(Hops) == len(Switches)-1).
type Path struct {
	Switches []uint64
	Hops     []Hop
}

func (e *Engine) weight(l *topology.Link, priority int) float64 {
	var load float64
	switch e.WeightMode {
	case Utilization:
		load = l.Utilization()
	default:
		load = l.Load()
	}
	multiplier := float64(e.MaxPriority + 1 - priority)
	return load*multiplier + Epsilon
}

// item is one entry in the Dijkstra priority queue.
type item struct {
	dpid     uint64
	dist     float64
	hops     int
	via      *topology.Link // edge used to reach this node, nil for source
	fromDPID uint64
	index    int
}

type priorityQueue []*item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	a, b := pq[i], pq[j]
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.hops != b.hops {
		return a.hops < b.hops
	}
	return a.dpid < b.dpid
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*pq)
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}

// best tracks the lowest-weight route found so far to each switch, with
// the tie-break fields needed to reproduce spec.md §4.4's ordering
// (fewer hops, then lexicographically smaller next-hop switch id).
type best struct {
	dist     float64
	hops     int
	via      *topology.Link
	fromDPID uint64
	known    bool
}

// FindPath computes the FPLF path from src to dst for a flow of the given
// priority class (0..MaxPriority). It returns ErrNoPath if dst is
// unreachable.
func (e *Engine) FindPath(src, dst uint64, priority int) (Path, error) {
	if src == dst {
		return Path{Switches: []uint64{src}}, nil
	}

	bestByNode := make(map[uint64]*best)
	bestByNode[src] = &best{dist: 0, hops: 0, known: true}

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &item{dpid: src, dist: 0, hops: 0})

	visited := make(map[uint64]bool)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*item)
		if visited[cur.dpid] {
			continue
		}
		visited[cur.dpid] = true

		if cur.dpid == dst {
			break
		}

		for _, link := range e.Graph.Neighbors(cur.dpid) {
			if visited[link.DstDPID] {
				continue
			}

			w := e.weight(link, priority)
			candidate := best{
				dist:     cur.dist + w,
				hops:     cur.hops + 1,
				via:      link,
				fromDPID: cur.dpid,
				known:    true,
			}

			existing, ok := bestByNode[link.DstDPID]
			if !ok || !existing.known || better(candidate, *existing) {
				bestByNode[link.DstDPID] = &candidate
				heap.Push(pq, &item{dpid: link.DstDPID, dist: candidate.dist, hops: candidate.hops})
			}
		}
	}

	target, ok := bestByNode[dst]
	if !ok || !target.known {
		return Path{}, ErrNoPath
	}

	return reconstruct(bestByNode, src, dst), nil
}

// better reports whether a is preferable to b under spec.md §4.4's
// tie-break order: lower weight, then fewer hops, then lexicographically
// smaller next-hop switch id (the switch this edge arrives from, which is
// the node identity comparison Dijkstra naturally performs since ties are
// broken at the moment a shorter route to the same node is discovered).
func better(a, b best) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.hops != b.hops {
		return a.hops < b.hops
	}
	return a.fromDPID < b.fromDPID
}

func reconstruct(bestByNode map[uint64]*best, src, dst uint64) Path {
	var switches []uint64
	var hops []Hop

	cur := dst
	for cur != src {
		b := bestByNode[cur]
		switches = append([]uint64{cur}, switches...)
		hops = append([]Hop{{Link: b.via}}, hops...)
		cur = b.fromDPID
	}
	switches = append([]uint64{src}, switches...)

	return Path{Switches: switches, Hops: hops}
}

// CommitLoad applies add_load to every edge of a computed path, so later
// computations in the same tick see the congestion this flow introduces
// (spec.md §4.4). now is passed through to Link's decay bookkeeping.
func (p Path) CommitLoad(bandwidthHint float64, now time.Time) {
	for _, h := range p.Hops {
		if h.Link == nil {
			continue
		}
		h.Link.AddLoad(bandwidthHint, now)
	}
}
