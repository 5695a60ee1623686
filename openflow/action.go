package openflow

import "encoding/binary"

// Action is a single flow-mod/packet-out action. This controller only ever
// emits "output to port", so Action is a concrete struct rather than an
// interface over an open action set.
type Action struct {
	Port uint32
	// MaxLen bounds how much of the packet is copied to the controller when
	// Port is PortController; ControllerMaxLenNoBuffer sends the whole
	// packet.
	MaxLen uint16
}

const (
	actionTypeOutput uint16 = 0
	actionOutputLen  uint16 = 16
)

func marshalAction(a Action) []byte {
	b := make([]byte, actionOutputLen)
	binary.BigEndian.PutUint16(b[0:2], actionTypeOutput)
	binary.BigEndian.PutUint16(b[2:4], actionOutputLen)
	binary.BigEndian.PutUint32(b[4:8], a.Port)
	binary.BigEndian.PutUint16(b[8:10], a.MaxLen)
	return b
}

func unmarshalAction(b []byte) (Action, int, error) {
	if len(b) < 8 {
		return Action{}, 0, errShortAction
	}
	typ := binary.BigEndian.Uint16(b[0:2])
	length := binary.BigEndian.Uint16(b[2:4])
	if typ != actionTypeOutput || int(length) > len(b) {
		return Action{}, int(length), errUnsupportedAction
	}

	var a Action
	a.Port = binary.BigEndian.Uint32(b[4:8])
	if length >= 10 {
		a.MaxLen = binary.BigEndian.Uint16(b[8:10])
	}
	return a, int(length), nil
}

func marshalActions(actions []Action) []byte {
	var b []byte
	for _, a := range actions {
		b = append(b, marshalAction(a)...)
	}
	return b
}

func unmarshalActions(b []byte) ([]Action, error) {
	var actions []Action
	for len(b) > 0 {
		a, n, err := unmarshalAction(b)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
		b = b[n:]
	}
	return actions, nil
}
