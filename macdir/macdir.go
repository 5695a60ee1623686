// Package macdir tracks which access port last saw each host MAC address,
// the controller's source of truth for unicast delivery (spec.md §4.2).
// Only access ports ever populate the directory (invariant P1): traffic
// arriving on an inter-switch port never triggers a new learn, since the
// sending host lives behind some other switch's access port instead.
package macdir

import (
	"sync"
	"time"
)

// Location is where a MAC address was last seen.
type Location struct {
	DatapathID uint64
	Port       uint32
	LastSeen   time.Time
}

// Directory is a MAC-to-Location table with age-based expiry. Safe for
// concurrent use.
type Directory struct {
	mu      sync.RWMutex
	entries map[[6]byte]Location
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{entries: make(map[[6]byte]Location)}
}

// Learn records that mac was last seen at (dpid, port) at time now. Callers
// in the Packet Handler must only call Learn for packets arriving on a port
// already classified Access (spec.md §3, §4.2, invariant P1) — Learn itself
// does not re-check port kind since the topology graph is the single source
// of truth for that classification.
//
// An existing entry is overwritten only if it points at a different
// (dpid, port) and now is after the existing entry's LastSeen (spec.md
// §4.2); re-seeing the mac at its already-recorded location always
// refreshes LastSeen. This keeps a delayed or reordered PacketIn from a
// stale prior location from stomping a newer, correct one.
func (d *Directory) Learn(mac [6]byte, dpid uint64, port uint32, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.entries[mac]; ok {
		moved := existing.DatapathID != dpid || existing.Port != port
		if moved && !now.After(existing.LastSeen) {
			return
		}
	}
	d.entries[mac] = Location{DatapathID: dpid, Port: port, LastSeen: now}
}

// Locate returns the last known location of mac, or (Location{}, false) if
// unknown or expired relative to now and maxAge.
func (d *Directory) Locate(mac [6]byte, now time.Time, maxAge time.Duration) (Location, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	loc, ok := d.entries[mac]
	if !ok {
		return Location{}, false
	}
	if maxAge > 0 && now.Sub(loc.LastSeen) > maxAge {
		return Location{}, false
	}
	return loc, true
}

// Age removes every entry older than maxAge as of now, returning the count
// removed. Intended to run from a periodic task (spec.md §5).
func (d *Directory) Age(now time.Time, maxAge time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for mac, loc := range d.entries {
		if now.Sub(loc.LastSeen) > maxAge {
			delete(d.entries, mac)
			removed++
		}
	}
	return removed
}

// InvalidateSwitch drops every entry pointing at dpid, used when a switch
// disconnects (spec.md §7).
func (d *Directory) InvalidateSwitch(dpid uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for mac, loc := range d.entries {
		if loc.DatapathID == dpid {
			delete(d.entries, mac)
		}
	}
}

// InvalidatePort drops the entry for (dpid, port), used when that port is
// reclassified InterSwitch (a host can no longer live behind a port that
// now faces another switch) or goes down (spec.md §3).
func (d *Directory) InvalidatePort(dpid uint64, port uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for mac, loc := range d.entries {
		if loc.DatapathID == dpid && loc.Port == port {
			delete(d.entries, mac)
		}
	}
}

// Clear drops every entry, used when the discovery-grace-period fallback
// rebuilds the topology from a static map: flow rules and learned
// locations from the prior (incorrect) topology are no longer valid
// (spec.md §4.3).
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[[6]byte]Location)
}

// Len returns the number of entries currently held.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
