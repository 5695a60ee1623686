// Package openflow implements the subset of the OpenFlow 1.3 wire protocol
// this controller speaks: the hello/features handshake, packet-in/out,
// flow-mod, port-status, the flow/port statistics request-reply pair, and
// echo. It has no knowledge of sockets; callers read and write framed
// messages through ReadMessage and WriteMessage.
package openflow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Version is the OpenFlow wire version byte. Only 1.3 is supported.
const Version uint8 = 0x04

// Type identifies the body of a Message.
type Type uint8

// Message types used by this controller. Values match the OpenFlow 1.3 spec.
const (
	TypeHello              Type = 0
	TypeError              Type = 1
	TypeEchoRequest        Type = 2
	TypeEchoReply          Type = 3
	TypeFeaturesRequest    Type = 5
	TypeFeaturesReply      Type = 6
	TypePacketIn           Type = 10
	TypeFlowRemoved        Type = 11
	TypePortStatus         Type = 12
	TypePacketOut          Type = 13
	TypeFlowMod            Type = 14
	TypeMultipartRequest   Type = 18
	TypeMultipartReply     Type = 19
)

// headerLen is the size in bytes of the fixed OpenFlow message header.
const headerLen = 8

// ErrShortHeader is returned when a message header could not be fully read.
var ErrShortHeader = errors.New("openflow: short message header")

// ErrUnsupportedVersion is returned when a peer's header carries a version
// byte other than Version.
var ErrUnsupportedVersion = errors.New("openflow: unsupported version")

// Header is the fixed 8-byte envelope that precedes every OpenFlow message.
type Header struct {
	Version uint8
	Type    Type
	// Length is the total size of the message, header included.
	Length uint16
	XID    uint32
}

// MarshalBinary encodes a Header in network byte order.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, headerLen)
	b[0] = h.Version
	b[1] = uint8(h.Type)
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint32(b[4:8], h.XID)
	return b, nil
}

// UnmarshalBinary decodes a Header from b, which must be at least 8 bytes.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < headerLen {
		return ErrShortHeader
	}
	h.Version = b[0]
	h.Type = Type(b[1])
	h.Length = binary.BigEndian.Uint16(b[2:4])
	h.XID = binary.BigEndian.Uint32(b[4:8])
	return nil
}

// ReadMessage reads one framed OpenFlow message from r: the 8-byte header,
// followed by Header.Length-8 bytes of body. The returned body is the raw,
// still-encoded message payload; callers decode it with the Unmarshal method
// matching Header.Type.
func ReadMessage(r io.Reader) (Header, []byte, error) {
	var hb [headerLen]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Header{}, nil, err
	}

	var h Header
	if err := h.UnmarshalBinary(hb[:]); err != nil {
		return Header{}, nil, err
	}
	if h.Version != Version {
		return h, nil, fmt.Errorf("%w: %#x", ErrUnsupportedVersion, h.Version)
	}
	if h.Length < headerLen {
		return h, nil, fmt.Errorf("openflow: message length %d shorter than header", h.Length)
	}

	body := make([]byte, h.Length-headerLen)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return h, nil, err
		}
	}

	return h, body, nil
}

// WriteMessage frames and writes a Message: it marshals the body, computes
// Length, and writes the header followed by the body in a single call to w.
func WriteMessage(w io.Writer, xid uint32, typ Type, body encodingBinaryMarshaler) error {
	var payload []byte
	if body != nil {
		b, err := body.MarshalBinary()
		if err != nil {
			return err
		}
		payload = b
	}

	h := Header{
		Version: Version,
		Type:    typ,
		Length:  uint16(headerLen + len(payload)),
		XID:     xid,
	}

	hb, err := h.MarshalBinary()
	if err != nil {
		return err
	}

	if _, err := w.Write(append(hb, payload...)); err != nil {
		return err
	}
	return nil
}

// encodingBinaryMarshaler mirrors encoding.BinaryMarshaler; declared locally
// so a nil body (messages with an empty payload, e.g. Hello) can be passed
// as a typed nil without pulling in the encoding package just for the name.
type encodingBinaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}
