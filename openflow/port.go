package openflow

import (
	"encoding/binary"
	"fmt"
	"net"
)

// portDescLen is the size of one ofp_port structure in a port-description
// reply or port-status message.
const portDescLen = 64

// PortState bits reported in a port-description reply / port-status message.
const (
	PortStateLinkDown uint32 = 1 << 0
)

// PortConfig bits reported in a port-description reply / port-status message.
const (
	PortConfigDown uint32 = 1 << 0
)

// Reserved port numbers used as flow-mod/packet-out output targets.
const (
	PortController uint32 = 0xfffffffd
	PortFlood      uint32 = 0xfffffffb
	PortAny        uint32 = 0xffffffff
	PortLocal      uint32 = 0xfffffffe
)

// ControllerMaxLen values for "send to controller" actions.
const ControllerMaxLenNoBuffer uint16 = 0xffff

// Port describes one switch port as reported in a port-description reply
// or a port-status change notification.
type Port struct {
	PortNo uint32
	HWAddr net.HardwareAddr
	Name   string
	Config uint32
	State  uint32
}

// Up reports whether the port is neither administratively nor operationally
// down.
func (p Port) Up() bool {
	return p.Config&PortConfigDown == 0 && p.State&PortStateLinkDown == 0
}

func marshalPort(p Port) []byte {
	b := make([]byte, portDescLen)
	binary.BigEndian.PutUint32(b[0:4], p.PortNo)
	copy(b[8:14], p.HWAddr)
	copy(b[16:32], []byte(p.Name))
	binary.BigEndian.PutUint32(b[32:36], p.Config)
	binary.BigEndian.PutUint32(b[36:40], p.State)
	return b
}

func unmarshalPort(b []byte) (Port, error) {
	if len(b) < portDescLen {
		return Port{}, fmt.Errorf("openflow: short port descriptor: %d bytes", len(b))
	}

	var p Port
	p.PortNo = binary.BigEndian.Uint32(b[0:4])
	p.HWAddr = append(net.HardwareAddr(nil), b[8:14]...)
	p.Name = cString(b[16:32])
	p.Config = binary.BigEndian.Uint32(b[32:36])
	p.State = binary.BigEndian.Uint32(b[36:40])
	return p, nil
}

// cString trims a NUL-padded fixed-length byte slice into a Go string.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
