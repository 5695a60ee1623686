// Package topology maintains the directed multigraph of switches and links
// that the FPLF Path Engine routes over (spec.md §4.3), along with the
// switch/port bookkeeping (access vs. inter-switch classification, spec.md
// §3) that gates MAC learning.
package topology

import "fmt"

// PortKind classifies a switch port as facing a host (Access) or another
// switch (InterSwitch). A port starts out Access and is promoted to
// InterSwitch the moment a link using it is discovered or statically
// configured (spec.md §3); it never transitions the other way except when
// its link is removed.
type PortKind int

const (
	Access PortKind = iota
	InterSwitch
)

func (k PortKind) String() string {
	if k == InterSwitch {
		return "inter-switch"
	}
	return "access"
}

// PortInfo describes one switch port.
type PortInfo struct {
	Number uint32
	Name   string
	Up     bool
	Kind   PortKind
}

// Switch is a connected OpenFlow datapath: its 64-bit identity and its
// discovered ports (spec.md §3). Created on handshake, destroyed on
// disconnect.
type Switch struct {
	DatapathID uint64
	Ports      map[uint32]*PortInfo
}

func newSwitch(dpid uint64) *Switch {
	return &Switch{DatapathID: dpid, Ports: make(map[uint32]*PortInfo)}
}

// String renders a switch id the way controller log lines do ("s1").
func (s *Switch) String() string {
	return fmt.Sprintf("s%d", s.DatapathID)
}
