package flowinstall

import (
	"context"
	"fmt"

	"github.com/amankumar00/fplf-controller/openflow"
)

// arpPriority is the proactive ARP rule's flow-table priority (spec.md
// §4.6); it sits above ordinary learned flows (basePriority+4 at most) and
// below nothing, since ARP handling must never be shadowed.
const arpPriority = 100

// etherTypeARP is the eth_type value matched by the proactive ARP rule.
const etherTypeARP = 0x0806

// ResetSwitch implements the Flow Table Reset Protocol (spec.md §4.6):
// delete every flow entry, then reinstall the table-miss rule and the
// proactive ARP rule. Triggered by topology fallback activation, a
// periodic external command, or an operator request.
func ResetSwitch(ctx context.Context, sw Switch) error {
	deleteAll := openflow.FlowMod{
		Command:  openflow.FlowModDelete,
		OutPort:  openflow.PortAny,
		OutGroup: openflow.PortAny,
	}
	if err := sw.SendFlowMod(ctx, deleteAll); err != nil {
		return fmt.Errorf("flowinstall: reset switch %d: delete-all: %w", sw.DatapathID(), err)
	}

	tableMiss := openflow.FlowMod{
		Command:  openflow.FlowModAdd,
		Priority: 0,
		Actions:  []openflow.Action{{Port: openflow.PortController, MaxLen: openflow.ControllerMaxLenNoBuffer}},
	}
	if err := sw.SendFlowMod(ctx, tableMiss); err != nil {
		return fmt.Errorf("flowinstall: reset switch %d: table-miss: %w", sw.DatapathID(), err)
	}

	arpType := uint16(etherTypeARP)
	arpRule := openflow.FlowMod{
		Command:  openflow.FlowModAdd,
		Priority: arpPriority,
		Match:    openflow.Match{EthType: &arpType},
		Actions: []openflow.Action{
			{Port: openflow.PortController, MaxLen: openflow.ControllerMaxLenNoBuffer},
			{Port: openflow.PortFlood, MaxLen: openflow.ControllerMaxLenNoBuffer},
		},
	}
	if err := sw.SendFlowMod(ctx, arpRule); err != nil {
		return fmt.Errorf("flowinstall: reset switch %d: arp rule: %w", sw.DatapathID(), err)
	}

	return nil
}
