package openflow

import (
	"encoding/binary"
	"fmt"
)

// FlowMod commands.
const (
	FlowModAdd    uint8 = 0
	FlowModDelete uint8 = 3
)

const instructionApplyActions uint16 = 4

// FlowMod installs, modifies, or deletes a switch forwarding rule
// (spec.md §4.5, §4.6). This controller only ever attaches a single
// apply-actions instruction, matching the source's add_flow helper.
type FlowMod struct {
	Command     uint8
	TableID     uint8
	Priority    uint16
	IdleTimeout uint16
	HardTimeout uint16
	BufferID    uint32
	OutPort     uint32
	OutGroup    uint32
	Match       Match
	Actions     []Action
}

func (f FlowMod) MarshalBinary() ([]byte, error) {
	match, err := f.Match.MarshalBinary()
	if err != nil {
		return nil, err
	}
	actions := marshalActions(f.Actions)

	b := make([]byte, 40)
	// cookie (0:8) and cookie_mask (8:16) left zero.
	b[16] = f.TableID
	b[17] = f.Command
	binary.BigEndian.PutUint16(b[18:20], f.IdleTimeout)
	binary.BigEndian.PutUint16(b[20:22], f.HardTimeout)
	binary.BigEndian.PutUint16(b[22:24], f.Priority)
	binary.BigEndian.PutUint32(b[24:28], f.BufferID)
	outPort := f.OutPort
	if outPort == 0 {
		outPort = PortAny
	}
	binary.BigEndian.PutUint32(b[28:32], outPort)
	outGroup := f.OutGroup
	if outGroup == 0 {
		outGroup = PortAny
	}
	binary.BigEndian.PutUint32(b[32:36], outGroup)

	b = append(b, match...)

	if len(actions) > 0 {
		instr := make([]byte, 8)
		binary.BigEndian.PutUint16(instr[0:2], instructionApplyActions)
		binary.BigEndian.PutUint16(instr[2:4], uint16(8+len(actions)))
		instr = append(instr, actions...)
		b = append(b, instr...)
	}

	return b, nil
}

func (f *FlowMod) UnmarshalBinary(b []byte) error {
	if len(b) < 40 {
		return fmt.Errorf("openflow: short flow-mod: %d bytes", len(b))
	}
	f.TableID = b[16]
	f.Command = b[17]
	f.IdleTimeout = binary.BigEndian.Uint16(b[18:20])
	f.HardTimeout = binary.BigEndian.Uint16(b[20:22])
	f.Priority = binary.BigEndian.Uint16(b[22:24])
	f.BufferID = binary.BigEndian.Uint32(b[24:28])
	f.OutPort = binary.BigEndian.Uint32(b[28:32])
	f.OutGroup = binary.BigEndian.Uint32(b[32:36])

	rest := b[40:]
	if len(rest) < 4 {
		return nil
	}
	matchLen := binary.BigEndian.Uint16(rest[2:4])
	padded := int(matchLen)
	if r := padded % 8; r != 0 {
		padded += 8 - r
	}
	if len(rest) < padded {
		return fmt.Errorf("openflow: flow-mod match truncated")
	}
	if err := f.Match.UnmarshalBinary(rest[:matchLen]); err != nil {
		return err
	}

	instr := rest[padded:]
	if len(instr) < 8 {
		return nil
	}
	typ := binary.BigEndian.Uint16(instr[0:2])
	if typ != instructionApplyActions {
		return nil
	}
	actions, err := unmarshalActions(instr[8:])
	if err != nil {
		return err
	}
	f.Actions = actions
	return nil
}
