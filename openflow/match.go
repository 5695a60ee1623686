package openflow

import (
	"encoding/binary"
	"fmt"
)

// Match encodes (or decodes) an OpenFlow Extensible Match (OXM) match
// structure. Only the fields this controller ever sets or reads are
// represented: eth_src/eth_dst (Flow Installer rules, spec.md §4.5),
// eth_type (the proactive ARP rule, spec.md §4.6), and in_port (read back
// out of a packet-in's embedded match, spec.md §4.1). A full OXM
// implementation would cover dozens of fields; this controller's flow-mods
// never need more than these four.
type Match struct {
	InPort  *uint32
	EthSrc  *[6]byte
	EthDst  *[6]byte
	EthType *uint16
}

// matchTypeOXM identifies the ofp_match.type field; this controller only
// ever emits the OXM encoding (the only one OpenFlow 1.3 requires support
// for).
const matchTypeOXM uint16 = 1

// OXM basic-class field numbers used by this controller.
const (
	oxmClassOpenFlowBasic uint16 = 0x8000

	oxmFieldInPort  uint8 = 0
	oxmFieldEthDst  uint8 = 3
	oxmFieldEthSrc  uint8 = 4
	oxmFieldEthType uint8 = 5
)

// MarshalBinary encodes m as an ofp_match structure, OXM-encoded and padded
// to a multiple of 8 bytes as OpenFlow 1.3 requires.
func (m Match) MarshalBinary() ([]byte, error) {
	var tlvs []byte

	if m.InPort != nil {
		tlvs = append(tlvs, oxmTLV(oxmFieldInPort, u32(*m.InPort))...)
	}
	if m.EthDst != nil {
		tlvs = append(tlvs, oxmTLV(oxmFieldEthDst, m.EthDst[:])...)
	}
	if m.EthSrc != nil {
		tlvs = append(tlvs, oxmTLV(oxmFieldEthSrc, m.EthSrc[:])...)
	}
	if m.EthType != nil {
		tlvs = append(tlvs, oxmTLV(oxmFieldEthType, u16(*m.EthType))...)
	}

	length := 4 + len(tlvs)
	b := make([]byte, length)
	binary.BigEndian.PutUint16(b[0:2], matchTypeOXM)
	binary.BigEndian.PutUint16(b[2:4], uint16(length))
	copy(b[4:], tlvs)

	return padTo8(b), nil
}

// UnmarshalBinary decodes an ofp_match structure. b may include the 8-byte
// padding that follows the logical length; only the first `length` bytes
// (from the header) are interpreted.
func (m *Match) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("openflow: short match: %d bytes", len(b))
	}

	typ := binary.BigEndian.Uint16(b[0:2])
	length := binary.BigEndian.Uint16(b[2:4])
	if typ != matchTypeOXM {
		return fmt.Errorf("openflow: unsupported match type %d", typ)
	}
	if int(length) > len(b) {
		return fmt.Errorf("openflow: match length %d exceeds buffer %d", length, len(b))
	}

	*m = Match{}

	rest := b[4:length]
	for len(rest) > 0 {
		if len(rest) < 4 {
			return fmt.Errorf("openflow: truncated OXM TLV")
		}
		class := binary.BigEndian.Uint16(rest[0:2])
		fieldAndMask := rest[2]
		field := fieldAndMask >> 1
		hasMask := fieldAndMask&1 != 0
		valLen := int(rest[3])
		if hasMask {
			valLen *= 2
		}
		if len(rest) < 4+valLen {
			return fmt.Errorf("openflow: truncated OXM value")
		}
		val := rest[4 : 4+valLen]

		if class == oxmClassOpenFlowBasic {
			switch field {
			case oxmFieldInPort:
				v := binary.BigEndian.Uint32(val)
				m.InPort = &v
			case oxmFieldEthDst:
				var v [6]byte
				copy(v[:], val)
				m.EthDst = &v
			case oxmFieldEthSrc:
				var v [6]byte
				copy(v[:], val)
				m.EthSrc = &v
			case oxmFieldEthType:
				v := binary.BigEndian.Uint16(val)
				m.EthType = &v
			}
		}

		rest = rest[4+valLen:]
	}

	return nil
}

// oxmTLV builds a single (non-masked) OXM TLV: 2-byte class, 1-byte
// field<<1, 1-byte length, then the value.
func oxmTLV(field uint8, value []byte) []byte {
	b := make([]byte, 4+len(value))
	binary.BigEndian.PutUint16(b[0:2], oxmClassOpenFlowBasic)
	b[2] = field << 1
	b[3] = uint8(len(value))
	copy(b[4:], value)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func padTo8(b []byte) []byte {
	if r := len(b) % 8; r != 0 {
		b = append(b, make([]byte, 8-r)...)
	}
	return b
}
