// Package flowinstall writes forwarding rules along a path computed by the
// FPLF Path Engine, and carries the triggering packet out the first hop
// (spec.md §4.5).
package flowinstall

import (
	"context"
	"fmt"
	"time"

	"github.com/amankumar00/fplf-controller/fplf"
	"github.com/amankumar00/fplf-controller/macdir"
	"github.com/amankumar00/fplf-controller/openflow"
)

// basePriority is added to the traffic priority class to get the
// flow-table priority (spec.md §4.5: "10 + priority_class").
const basePriority = 10

// DefaultIdleTimeout matches spec.md §4.5's default: idle timeout 30s,
// hard timeout 0 (never expires from age alone).
const DefaultIdleTimeout = 30

// Switch is the narrow interface the Flow Installer needs from a
// connected switch session: send a flow-mod, and optionally a
// packet-out. Implemented by *session.Session.
type Switch interface {
	DatapathID() uint64
	SendFlowMod(ctx context.Context, fm openflow.FlowMod) error
	SendPacketOut(ctx context.Context, po openflow.PacketOut) error
}

// Lookup resolves a connected switch by datapath id, returning false if it
// is not currently connected. Implemented by the Session Manager.
type Lookup func(dpid uint64) (Switch, bool)

// Installer writes forwarding rules for FPLF-computed paths.
type Installer struct {
	Lookup      Lookup
	MACDir      *macdir.Directory
	IdleTimeout uint16
}

// New returns an Installer with the default idle timeout (spec.md §6's
// flow_idle_timeout_seconds); set Installer.IdleTimeout after construction
// to use a config-supplied value.
func New(lookup Lookup, macDir *macdir.Directory) *Installer {
	return &Installer{Lookup: lookup, MACDir: macDir, IdleTimeout: DefaultIdleTimeout}
}

// Trigger carries the packet that caused path computation, so the first
// hop can be told to emit it immediately (spec.md §4.5).
type Trigger struct {
	BufferID uint32
	Data     []byte
}

// Install writes a direction-specific forwarding rule on every switch
// along path for (ethSrc, ethDst) at the given priority class, and emits
// the triggering packet out the first hop. Per-switch write errors are
// collected and returned together; spec.md §4.5 says they must not roll
// back partial installation, so Install always attempts every hop.
func (in *Installer) Install(ctx context.Context, path fplf.Path, ethSrc, ethDst [6]byte, priorityClass int, trigger Trigger) error {
	if len(path.Switches) == 0 {
		return fmt.Errorf("flowinstall: empty path")
	}

	var errs []error

	for i, dpid := range path.Switches {
		egressPort, ok := in.egressPort(path, i, ethDst)
		if !ok {
			errs = append(errs, fmt.Errorf("flowinstall: no egress port for hop %d (switch %d)", i, dpid))
			continue
		}

		sw, ok := in.Lookup(dpid)
		if !ok {
			errs = append(errs, fmt.Errorf("flowinstall: switch %d not connected", dpid))
			continue
		}

		fm := openflow.FlowMod{
			Command:     openflow.FlowModAdd,
			Priority:    uint16(basePriority + priorityClass),
			IdleTimeout: in.IdleTimeout,
			HardTimeout: 0,
			BufferID:    openflow.NoBuffer,
			Match: openflow.Match{
				EthSrc: &ethSrc,
				EthDst: &ethDst,
			},
			Actions: []openflow.Action{{Port: egressPort, MaxLen: openflow.ControllerMaxLenNoBuffer}},
		}

		if err := sw.SendFlowMod(ctx, fm); err != nil {
			errs = append(errs, fmt.Errorf("flowinstall: switch %d: %w", dpid, err))
			continue
		}

		if i == 0 {
			po := openflow.PacketOut{
				BufferID: trigger.BufferID,
				InPort:   openflow.PortController,
				Actions:  []openflow.Action{{Port: egressPort, MaxLen: openflow.ControllerMaxLenNoBuffer}},
				Data:     trigger.Data,
			}
			if err := sw.SendPacketOut(ctx, po); err != nil {
				errs = append(errs, fmt.Errorf("flowinstall: packet-out on switch %d: %w", dpid, err))
			}
		}
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

// egressPort determines the port out of path.Switches[i]: the inter-switch
// port of the (s_i, s_{i+1}) edge for every hop but the last, and the
// MAC Directory's recorded access port for the destination on the last hop
// (spec.md §4.5).
func (in *Installer) egressPort(path fplf.Path, i int, ethDst [6]byte) (uint32, bool) {
	last := len(path.Switches) - 1
	if i < last {
		if i >= len(path.Hops) || path.Hops[i].Link == nil {
			return 0, false
		}
		return path.Hops[i].Link.SrcPort, true
	}

	loc, ok := in.MACDir.Locate(ethDst, time.Now(), 0)
	if !ok || loc.DatapathID != path.Switches[last] {
		return 0, false
	}
	return loc.Port, true
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msg := fmt.Sprintf("%d errors installing flow:", len(errs))
	for _, e := range errs {
		msg += "\n  " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
