package openflow

import (
	"encoding/binary"
	"fmt"
)

// Hello carries no body fields this controller inspects; OpenFlow 1.3
// hello elements (version bitmaps) are accepted but ignored.
type Hello struct{}

// MarshalBinary implements encoding.BinaryMarshaler.
func (Hello) MarshalBinary() ([]byte, error) { return nil, nil }

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Hello elements are
// intentionally not parsed: this controller always speaks 1.3 and does not
// negotiate.
func (*Hello) UnmarshalBinary([]byte) error { return nil }

// EchoRequest/EchoReply bodies are opaque data echoed back verbatim.
type EchoRequest struct{ Data []byte }
type EchoReply struct{ Data []byte }

func (e EchoRequest) MarshalBinary() ([]byte, error) { return e.Data, nil }
func (e *EchoRequest) UnmarshalBinary(b []byte) error {
	e.Data = append([]byte(nil), b...)
	return nil
}

func (e EchoReply) MarshalBinary() ([]byte, error) { return e.Data, nil }
func (e *EchoReply) UnmarshalBinary(b []byte) error {
	e.Data = append([]byte(nil), b...)
	return nil
}

// FeaturesRequest has no body.
type FeaturesRequest struct{}

func (FeaturesRequest) MarshalBinary() ([]byte, error) { return nil, nil }
func (*FeaturesRequest) UnmarshalBinary([]byte) error  { return nil }

// Switch capability bits this controller cares about.
const CapabilityFlowStats uint32 = 1 << 0

// FeaturesReply is the body of ofp_switch_features, as sent in response to
// FeaturesRequest. OpenFlow 1.3 no longer embeds the port list here (unlike
// 1.0); ports are discovered via a follow-up MultipartPortDescRequest that
// the Session Manager issues immediately after receiving this message, so
// port discovery still completes within the handshake (spec.md §3 "Ports
// discovered from the handshake's features reply").
type FeaturesReply struct {
	DatapathID   uint64
	NumBuffers   uint32
	NumTables    uint8
	AuxiliaryID  uint8
	Capabilities uint32
}

func (f FeaturesReply) MarshalBinary() ([]byte, error) {
	b := make([]byte, 24)
	binary.BigEndian.PutUint64(b[0:8], f.DatapathID)
	binary.BigEndian.PutUint32(b[8:12], f.NumBuffers)
	b[12] = f.NumTables
	b[13] = f.AuxiliaryID
	binary.BigEndian.PutUint32(b[16:20], f.Capabilities)
	return b, nil
}

func (f *FeaturesReply) UnmarshalBinary(b []byte) error {
	if len(b) < 24 {
		return fmt.Errorf("openflow: short features reply: %d bytes", len(b))
	}
	f.DatapathID = binary.BigEndian.Uint64(b[0:8])
	f.NumBuffers = binary.BigEndian.Uint32(b[8:12])
	f.NumTables = b[12]
	f.AuxiliaryID = b[13]
	f.Capabilities = binary.BigEndian.Uint32(b[16:20])
	return nil
}

// Multipart types used for port description and statistics.
const (
	MultipartTypePortDesc  uint16 = 13
	MultipartTypeFlow      uint16 = 1
	MultipartTypePort      uint16 = 4
	multipartReqHeaderLen         = 8
	multipartReplyHeaderLen       = 8
)

// MultipartPortDescRequest asks the switch for its full port list.
type MultipartPortDescRequest struct{}

func (MultipartPortDescRequest) MarshalBinary() ([]byte, error) {
	return multipartRequestHeader(MultipartTypePortDesc, nil), nil
}

// MultipartPortDescReply carries the switch's port list.
type MultipartPortDescReply struct {
	Ports []Port
}

func (r MultipartPortDescReply) MarshalBinary() ([]byte, error) {
	b := make([]byte, multipartReplyHeaderLen)
	binary.BigEndian.PutUint16(b[0:2], MultipartTypePortDesc)
	for _, p := range r.Ports {
		b = append(b, marshalPort(p)...)
	}
	return b, nil
}

func (r *MultipartPortDescReply) UnmarshalBinary(b []byte) error {
	body, err := multipartReplyBody(MultipartTypePortDesc, b)
	if err != nil {
		return err
	}

	for len(body) >= portDescLen {
		p, err := unmarshalPort(body[:portDescLen])
		if err != nil {
			return err
		}
		r.Ports = append(r.Ports, p)
		body = body[portDescLen:]
	}
	return nil
}

// FlowStatsRequest requests aggregate statistics for every installed flow.
type FlowStatsRequest struct {
	TableID uint8
	OutPort uint32
	Match   Match
}

func (r FlowStatsRequest) MarshalBinary() ([]byte, error) {
	match, err := r.Match.MarshalBinary()
	if err != nil {
		return nil, err
	}

	body := make([]byte, 32)
	body[0] = r.TableID
	binary.BigEndian.PutUint32(body[4:8], r.OutPort)
	binary.BigEndian.PutUint32(body[8:12], PortAny) // out_group
	binary.BigEndian.PutUint64(body[16:24], 0)       // cookie
	binary.BigEndian.PutUint64(body[24:32], 0)       // cookie_mask
	body = append(body, match...)

	return multipartRequestHeader(MultipartTypeFlow, body), nil
}

// FlowStat describes one installed rule's accumulated counters, as reported
// by a flow-stats reply.
type FlowStat struct {
	TableID      uint8
	Priority     uint16
	IdleTimeout  uint16
	HardTimeout  uint16
	Cookie       uint64
	PacketCount  uint64
	ByteCount    uint64
	Match        Match
}

// FlowStatsReply carries zero or more FlowStat entries.
type FlowStatsReply struct {
	Stats []FlowStat
}

func (r *FlowStatsReply) UnmarshalBinary(b []byte) error {
	body, err := multipartReplyBody(MultipartTypeFlow, b)
	if err != nil {
		return err
	}

	for len(body) >= 4 {
		entryLen := binary.BigEndian.Uint16(body[0:2])
		if int(entryLen) > len(body) || entryLen < 48 {
			return fmt.Errorf("openflow: malformed flow-stats entry length %d", entryLen)
		}
		entry := body[:entryLen]

		var fs FlowStat
		fs.TableID = entry[2]
		fs.Cookie = binary.BigEndian.Uint64(entry[8:16])
		fs.Priority = binary.BigEndian.Uint16(entry[16:18])
		fs.IdleTimeout = binary.BigEndian.Uint16(entry[18:20])
		fs.HardTimeout = binary.BigEndian.Uint16(entry[20:22])
		fs.PacketCount = binary.BigEndian.Uint64(entry[32:40])
		fs.ByteCount = binary.BigEndian.Uint64(entry[40:48])
		if len(entry) > 48 {
			if err := fs.Match.UnmarshalBinary(entry[48:]); err != nil {
				return err
			}
		}

		r.Stats = append(r.Stats, fs)
		body = body[entryLen:]
	}
	return nil
}

// PortStatsRequest requests counters for one port, or PortAny for all ports.
type PortStatsRequest struct {
	PortNo uint32
}

func (r PortStatsRequest) MarshalBinary() ([]byte, error) {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], r.PortNo)
	return multipartRequestHeader(MultipartTypePort, body), nil
}

// PortStat describes one port's rx/tx counters as reported in a port-stats
// reply.
type PortStat struct {
	PortNo    uint32
	RxPackets uint64
	TxPackets uint64
	RxBytes   uint64
	TxBytes   uint64
	RxErrors  uint64
	TxErrors  uint64
	RxDropped uint64
	TxDropped uint64
}

const portStatLen = 112

// PortStatsReply carries zero or more PortStat entries.
type PortStatsReply struct {
	Stats []PortStat
}

func (r *PortStatsReply) UnmarshalBinary(b []byte) error {
	body, err := multipartReplyBody(MultipartTypePort, b)
	if err != nil {
		return err
	}

	for len(body) >= portStatLen {
		e := body[:portStatLen]
		var ps PortStat
		ps.PortNo = binary.BigEndian.Uint32(e[0:4])
		ps.RxPackets = binary.BigEndian.Uint64(e[8:16])
		ps.TxPackets = binary.BigEndian.Uint64(e[16:24])
		ps.RxBytes = binary.BigEndian.Uint64(e[24:32])
		ps.TxBytes = binary.BigEndian.Uint64(e[32:40])
		ps.RxDropped = binary.BigEndian.Uint64(e[40:48])
		ps.TxDropped = binary.BigEndian.Uint64(e[48:56])
		ps.RxErrors = binary.BigEndian.Uint64(e[56:64])
		ps.TxErrors = binary.BigEndian.Uint64(e[64:72])

		r.Stats = append(r.Stats, ps)
		body = body[portStatLen:]
	}
	return nil
}

func multipartRequestHeader(typ uint16, body []byte) []byte {
	h := make([]byte, multipartReqHeaderLen)
	binary.BigEndian.PutUint16(h[0:2], typ)
	return append(h, body...)
}

func multipartReplyBody(wantType uint16, b []byte) ([]byte, error) {
	if len(b) < multipartReplyHeaderLen {
		return nil, fmt.Errorf("openflow: short multipart reply: %d bytes", len(b))
	}
	typ := binary.BigEndian.Uint16(b[0:2])
	if typ != wantType {
		return nil, fmt.Errorf("openflow: unexpected multipart reply type %d, want %d", typ, wantType)
	}
	return b[multipartReplyHeaderLen:], nil
}
