package openflow

import (
	"encoding/binary"
	"fmt"
)

// PacketIn reasons.
const (
	PacketInReasonNoMatch uint8 = 0
	PacketInReasonAction  uint8 = 1
)

// NoBuffer indicates the switch did not buffer the packet; the full payload
// travels with the packet-in / must be echoed back in the packet-out.
const NoBuffer uint32 = 0xffffffff

// PacketIn is delivered by a switch when a packet misses every flow-table
// entry (reason NoMatch) or matches a send-to-controller action (reason
// Action, e.g. the proactive ARP rule, spec.md §4.6).
type PacketIn struct {
	BufferID uint32
	TotalLen uint16
	Reason   uint8
	TableID  uint8
	Cookie   uint64
	Match    Match
	Data     []byte
}

// InPort returns the ingress port carried in the packet-in's match, or
// (0, false) if the switch did not include one.
func (p PacketIn) InPort() (uint32, bool) {
	if p.Match.InPort == nil {
		return 0, false
	}
	return *p.Match.InPort, true
}

func (p *PacketIn) UnmarshalBinary(b []byte) error {
	if len(b) < 18 {
		return fmt.Errorf("openflow: short packet-in: %d bytes", len(b))
	}

	p.BufferID = binary.BigEndian.Uint32(b[0:4])
	p.TotalLen = binary.BigEndian.Uint16(b[4:6])
	p.Reason = b[6]
	p.TableID = b[7]
	p.Cookie = binary.BigEndian.Uint64(b[8:16])

	rest := b[16:]
	if len(rest) < 4 {
		return fmt.Errorf("openflow: packet-in missing match")
	}
	matchLen := binary.BigEndian.Uint16(rest[2:4])
	paddedLen := int(matchLen)
	if r := paddedLen % 8; r != 0 {
		paddedLen += 8 - r
	}
	if len(rest) < paddedLen {
		return fmt.Errorf("openflow: packet-in match truncated")
	}
	if err := p.Match.UnmarshalBinary(rest[:matchLen]); err != nil {
		return err
	}

	payload := rest[paddedLen:]
	// Two reserved pad bytes follow the match before the packet data.
	if len(payload) >= 2 {
		payload = payload[2:]
	}
	p.Data = append([]byte(nil), payload...)

	return nil
}

func (p PacketIn) MarshalBinary() ([]byte, error) {
	match, err := p.Match.MarshalBinary()
	if err != nil {
		return nil, err
	}

	b := make([]byte, 16)
	binary.BigEndian.PutUint32(b[0:4], p.BufferID)
	binary.BigEndian.PutUint16(b[4:6], p.TotalLen)
	b[6] = p.Reason
	b[7] = p.TableID
	binary.BigEndian.PutUint64(b[8:16], p.Cookie)

	b = append(b, match...)
	b = append(b, 0, 0) // pad
	b = append(b, p.Data...)
	return b, nil
}

// PacketOut instructs a switch to emit a packet (by buffer id, or with an
// explicit payload) out a fixed action list, exactly as the Packet Handler
// and Flow Installer need (spec.md §4.1, §4.5).
type PacketOut struct {
	BufferID uint32
	InPort   uint32
	Actions  []Action
	Data     []byte
}

func (p PacketOut) MarshalBinary() ([]byte, error) {
	actions := marshalActions(p.Actions)

	b := make([]byte, 16)
	binary.BigEndian.PutUint32(b[0:4], p.BufferID)
	binary.BigEndian.PutUint32(b[4:8], p.InPort)
	binary.BigEndian.PutUint16(b[8:10], uint16(len(actions)))
	b = append(b, actions...)
	if p.BufferID == NoBuffer {
		b = append(b, p.Data...)
	}
	return b, nil
}

func (p *PacketOut) UnmarshalBinary(b []byte) error {
	if len(b) < 16 {
		return fmt.Errorf("openflow: short packet-out: %d bytes", len(b))
	}
	p.BufferID = binary.BigEndian.Uint32(b[0:4])
	p.InPort = binary.BigEndian.Uint32(b[4:8])
	actionsLen := binary.BigEndian.Uint16(b[8:10])
	if int(actionsLen) > len(b)-16 {
		return fmt.Errorf("openflow: packet-out actions length exceeds body")
	}

	actions, err := unmarshalActions(b[16 : 16+actionsLen])
	if err != nil {
		return err
	}
	p.Actions = actions
	p.Data = append([]byte(nil), b[16+actionsLen:]...)
	return nil
}

// PortStatus reasons.
const (
	PortReasonAdd    uint8 = 0
	PortReasonDelete uint8 = 1
	PortReasonModify uint8 = 2
)

// PortStatus reports a port configuration or state change (spec.md §3,
// port-down triggers link removal).
type PortStatus struct {
	Reason uint8
	Desc   Port
}

func (s *PortStatus) UnmarshalBinary(b []byte) error {
	if len(b) < 8+portDescLen {
		return fmt.Errorf("openflow: short port-status: %d bytes", len(b))
	}
	s.Reason = b[0]
	desc, err := unmarshalPort(b[8 : 8+portDescLen])
	if err != nil {
		return err
	}
	s.Desc = desc
	return nil
}

func (s PortStatus) MarshalBinary() ([]byte, error) {
	b := make([]byte, 8)
	b[0] = s.Reason
	return append(b, marshalPort(s.Desc)...), nil
}
