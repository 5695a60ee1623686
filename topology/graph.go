package topology

import (
	"math"
	"sync"
	"time"
)

// linkKey identifies one directed link by its exact port pair. The
// invariant from spec.md §3 ("exactly one directed link per ordered port
// pair; parallel links between the same switch pair are permitted on
// distinct ports") is enforced by keying the link map on the full 4-tuple.
type linkKey struct {
	srcDPID, dstDPID uint64
	srcPort, dstPort uint32
}

// Link is a directed edge between two switch ports, with a nominal
// capacity and a mutable, decaying load (spec.md §3, §4.3).
type Link struct {
	SrcDPID, DstDPID uint64
	SrcPort, DstPort uint32

	// CapacityBPS is the nominal link capacity in bits/s.
	CapacityBPS uint64

	mu         sync.Mutex
	loadBPS    float64
	lastUpdate time.Time
}

// Load returns the link's current load in bits/s.
func (l *Link) Load() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadBPS
}

// Utilization returns Load()/CapacityBPS, or 0 if CapacityBPS is 0.
func (l *Link) Utilization() float64 {
	if l.CapacityBPS == 0 {
		return 0
	}
	return l.Load() / float64(l.CapacityBPS)
}

func (l *Link) setLoad(v float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v < 0 {
		v = 0
	}
	l.loadBPS = v
	l.lastUpdate = now
}

func (l *Link) addLoad(delta float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadBPS += delta
	if l.loadBPS < 0 {
		l.loadBPS = 0
	}
	l.lastUpdate = now
}

// AddLoad adds delta (bits/s) to the link's load, used by the Path Engine
// to account for a newly routed flow's expected bandwidth before the next
// decay tick (spec.md §4.4).
func (l *Link) AddLoad(delta float64, now time.Time) {
	l.addLoad(delta, now)
}

// SetLoad overwrites the link's load, used by the Statistics Poller when
// it has a direct measurement (spec.md §4.3).
func (l *Link) SetLoad(v float64, now time.Time) {
	l.setLoad(v, now)
}

// decay applies exponential decay with time constant tau to the link's
// load, bringing stale load back toward zero between measurement ticks
// (spec.md §4.3, §9 "Load decay time-constant").
func (l *Link) decay(now time.Time, tau time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loadBPS == 0 || tau <= 0 {
		l.lastUpdate = now
		return
	}

	dt := now.Sub(l.lastUpdate)
	if dt <= 0 {
		return
	}

	l.loadBPS *= math.Exp(-dt.Seconds() / tau.Seconds())
	l.lastUpdate = now
}

// EdgeSnapshot is an immutable view of one link's state, returned by
// Edges() so callers never race on the live Link.
type EdgeSnapshot struct {
	SrcDPID, DstDPID uint64
	SrcPort, DstPort uint32
	CapacityBPS      uint64
	LoadBPS          float64
}

// Graph is the directed multigraph of switches and links the FPLF Path
// Engine routes over. All methods are safe for concurrent use; changes to
// the switch and link sets (AddLink/RemoveLink/SetPortKind) and readers
// (Edges/Neighbors) are serialized by a single RWMutex per spec.md §5,
// while each Link's load updates and decay are guarded by that Link's own
// mutex.
type Graph struct {
	mu       sync.RWMutex
	switches map[uint64]*Switch
	// links indexes every link by its exact port pair.
	links map[linkKey]*Link
	// out indexes links by source switch for fast neighbor iteration.
	out map[uint64][]*Link
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		switches: make(map[uint64]*Switch),
		links:    make(map[linkKey]*Link),
		out:      make(map[uint64][]*Link),
	}
}

// AddSwitch registers a switch, creating it if it does not already exist.
func (g *Graph) AddSwitch(dpid uint64) *Switch {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addSwitchLocked(dpid)
}

func (g *Graph) addSwitchLocked(dpid uint64) *Switch {
	s, ok := g.switches[dpid]
	if !ok {
		s = newSwitch(dpid)
		g.switches[dpid] = s
	}
	return s
}

// RemoveSwitch tears down a switch and every link touching it (spec.md §7,
// "switch disconnect").
func (g *Graph) RemoveSwitch(dpid uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.switches, dpid)

	for k, l := range g.links {
		if l.SrcDPID == dpid || l.DstDPID == dpid {
			delete(g.links, k)
		}
	}
	for src, links := range g.out {
		filtered := links[:0]
		for _, l := range links {
			if l.SrcDPID != dpid && l.DstDPID != dpid {
				filtered = append(filtered, l)
			}
		}
		if len(filtered) == 0 {
			delete(g.out, src)
		} else {
			g.out[src] = filtered
		}
	}
}

// Switch returns the switch with the given id, or nil.
func (g *Graph) Switch(dpid uint64) *Switch {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.switches[dpid]
}

// SwitchCount returns the number of known switches.
func (g *Graph) SwitchCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.switches)
}

// SetPortKind records whether (dpid, port) faces a host or another switch.
// It creates the switch/port entry if not already known.
func (g *Graph) SetPortKind(dpid uint64, port uint32, kind PortKind) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.addSwitchLocked(dpid)
	p, ok := s.Ports[port]
	if !ok {
		p = &PortInfo{Number: port, Up: true}
		s.Ports[port] = p
	}
	p.Kind = kind
}

// PortKind reports the classification of (dpid, port); unknown ports are
// treated as Access (a port is only ever inter-switch once a link is
// discovered on it).
func (g *Graph) PortKind(dpid uint64, port uint32) PortKind {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s, ok := g.switches[dpid]
	if !ok {
		return Access
	}
	p, ok := s.Ports[port]
	if !ok {
		return Access
	}
	return p.Kind
}

// AddLink installs a directed link from (srcDPID, srcPort) to
// (dstDPID, dstPort), promoting srcPort on srcDPID to InterSwitch
// (spec.md §3). It is idempotent: calling it again for the same port pair
// updates the capacity in place rather than creating a duplicate.
func (g *Graph) AddLink(srcDPID uint64, srcPort uint32, dstDPID uint64, dstPort uint32, capacityBPS uint64) *Link {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.addSwitchLocked(srcDPID)
	g.addSwitchLocked(dstDPID)

	key := linkKey{srcDPID, dstDPID, srcPort, dstPort}
	if l, ok := g.links[key]; ok {
		l.CapacityBPS = capacityBPS
		g.markInterSwitchLocked(srcDPID, srcPort)
		return l
	}

	l := &Link{
		SrcDPID:     srcDPID,
		DstDPID:     dstDPID,
		SrcPort:     srcPort,
		DstPort:     dstPort,
		CapacityBPS: capacityBPS,
		lastUpdate:  time.Now(),
	}
	g.links[key] = l
	g.out[srcDPID] = append(g.out[srcDPID], l)
	g.markInterSwitchLocked(srcDPID, srcPort)

	return l
}

func (g *Graph) markInterSwitchLocked(dpid uint64, port uint32) {
	s := g.addSwitchLocked(dpid)
	p, ok := s.Ports[port]
	if !ok {
		p = &PortInfo{Number: port, Up: true}
		s.Ports[port] = p
	}
	p.Kind = InterSwitch
}

// RemoveLink removes one directed link. The port reverts to Access
// classification since it no longer faces another switch.
func (g *Graph) RemoveLink(srcDPID uint64, srcPort uint32, dstDPID uint64, dstPort uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := linkKey{srcDPID, dstDPID, srcPort, dstPort}
	if _, ok := g.links[key]; !ok {
		return
	}
	delete(g.links, key)

	links := g.out[srcDPID]
	for i, l := range links {
		if l.SrcPort == srcPort && l.DstDPID == dstDPID && l.DstPort == dstPort {
			g.out[srcDPID] = append(links[:i], links[i+1:]...)
			break
		}
	}

	if s, ok := g.switches[srcDPID]; ok {
		if p, ok := s.Ports[srcPort]; ok {
			p.Kind = Access
		}
	}
}

// Neighbors returns every outbound link from dpid. The returned slice and
// the *Link values it holds are live; callers in the Path Engine read
// Load()/Utilization() through their own accessors rather than touching
// fields directly.
func (g *Graph) Neighbors(dpid uint64) []*Link {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Link, len(g.out[dpid]))
	copy(out, g.out[dpid])
	return out
}

// Edges returns a snapshot of every link in the graph.
func (g *Graph) Edges() []EdgeSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := make([]EdgeSnapshot, 0, len(g.links))
	for _, l := range g.links {
		edges = append(edges, EdgeSnapshot{
			SrcDPID:     l.SrcDPID,
			DstDPID:     l.DstDPID,
			SrcPort:     l.SrcPort,
			DstPort:     l.DstPort,
			CapacityBPS: l.CapacityBPS,
			LoadBPS:     l.Load(),
		})
	}
	return edges
}

// LinkCount returns the number of links currently in the graph.
func (g *Graph) LinkCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.links)
}

// Decay applies exponential decay to every link's load (spec.md §4.3). It
// is intended to be called from a periodic task (spec.md §5).
func (g *Graph) Decay(now time.Time, tau time.Duration) {
	g.mu.RLock()
	links := make([]*Link, 0, len(g.links))
	for _, l := range g.links {
		links = append(links, l)
	}
	g.mu.RUnlock()

	for _, l := range links {
		l.decay(now, tau)
	}
}

// Clear removes every switch and link.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.switches = make(map[uint64]*Switch)
	g.links = make(map[linkKey]*Link)
	g.out = make(map[uint64][]*Link)
}
