package controller

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/amankumar00/fplf-controller/classify"
	"github.com/amankumar00/fplf-controller/discovery"
	"github.com/amankumar00/fplf-controller/flowinstall"
	"github.com/amankumar00/fplf-controller/fplf"
	"github.com/amankumar00/fplf-controller/macdir"
	"github.com/amankumar00/fplf-controller/openflow"
	"github.com/amankumar00/fplf-controller/session"
	"github.com/amankumar00/fplf-controller/topology"
)

// testRig wires a real Controller the way cmd/fplfctl/main.go does, so
// tests exercise the actual dispatch path rather than mocks.
type testRig struct {
	Controller *Controller
	Graph      *topology.Graph
	MACDir     *macdir.Directory
	Manager    *session.Manager
	listener   net.Listener
	cancel     context.CancelFunc
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	g := topology.New()
	macDir := macdir.New()
	classifyTable := classify.Empty()
	engine := fplf.New(g, classify.MaxPriority)
	disc := discovery.New(g, nil)

	c := New(g, macDir, classifyTable, engine, nil, disc, nil, nil, 5*time.Minute)

	mgr := session.New(c, nil)
	c.Sessions = mgr

	lookup := func(dpid uint64) (flowinstall.Switch, bool) {
		s, ok := mgr.Lookup(dpid)
		if !ok {
			return nil, false
		}
		return s, true
	}
	c.Installer = flowinstall.New(lookup, macDir)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Serve(ctx, ln)

	rig := &testRig{Controller: c, Graph: g, MACDir: macDir, Manager: mgr, listener: ln, cancel: cancel}
	t.Cleanup(func() { cancel(); ln.Close() })
	return rig
}

// connectSwitch dials the rig's listener and drives the handshake as a
// real switch would, returning the raw connection for further test
// traffic.
func (r *testRig) connectSwitch(t *testing.T, dpid uint64, ports []openflow.Port) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", r.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	h, _, err := openflow.ReadMessage(conn)
	if err != nil || h.Type != openflow.TypeHello {
		t.Fatalf("expected hello: %v, %+v", err, h)
	}
	if err := openflow.WriteMessage(conn, 0, openflow.TypeHello, openflow.Hello{}); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	h, _, err = openflow.ReadMessage(conn)
	if err != nil || h.Type != openflow.TypeFeaturesRequest {
		t.Fatalf("expected features-request: %v, %+v", err, h)
	}
	fr := openflow.FeaturesReply{DatapathID: dpid, NumTables: 1}
	if err := openflow.WriteMessage(conn, h.XID, openflow.TypeFeaturesReply, fr); err != nil {
		t.Fatalf("write features-reply: %v", err)
	}

	h, _, err = openflow.ReadMessage(conn)
	if err != nil || h.Type != openflow.TypeMultipartRequest {
		t.Fatalf("expected port-desc request: %v, %+v", err, h)
	}
	pdr := openflow.MultipartPortDescReply{Ports: ports}
	if err := openflow.WriteMessage(conn, h.XID, openflow.TypeMultipartReply, pdr); err != nil {
		t.Fatalf("write port-desc reply: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.Manager.Lookup(dpid); ok {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("switch %d never registered", dpid)
	return nil
}

func ethernetFrame(t *testing.T, ethSrc, ethDst [6]byte, ethType layers.EthernetType, payload gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	eth := &layers.Ethernet{SrcMAC: ethSrc[:], DstMAC: ethDst[:], EthernetType: ethType}
	var layersToSerialize []gopacket.SerializableLayer
	layersToSerialize = append(layersToSerialize, eth)
	if payload != nil {
		layersToSerialize = append(layersToSerialize, payload)
	}
	if err := gopacket.SerializeLayers(buf, opts, layersToSerialize...); err != nil {
		t.Fatalf("serialize frame: %v", err)
	}
	return buf.Bytes()
}

func readPacketOut(t *testing.T, conn net.Conn) openflow.PacketOut {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	h, body, err := openflow.ReadMessage(conn)
	if err != nil || h.Type != openflow.TypePacketOut {
		t.Fatalf("expected packet-out: %v, %+v", err, h)
	}
	var po openflow.PacketOut
	if err := po.UnmarshalBinary(body); err != nil {
		t.Fatalf("decode packet-out: %v", err)
	}
	return po
}

func sendPacketIn(t *testing.T, conn net.Conn, xid uint32, inPort uint32, data []byte) {
	t.Helper()
	port := inPort
	pi := openflow.PacketIn{
		BufferID: openflow.NoBuffer,
		Reason:   openflow.PacketInReasonNoMatch,
		Match:    openflow.Match{InPort: &port},
		Data:     data,
	}
	if err := openflow.WriteMessage(conn, xid, openflow.TypePacketIn, pi); err != nil {
		t.Fatalf("write packet-in: %v", err)
	}
}

func TestOnFeaturesReplyRegistersSwitchAndPorts(t *testing.T) {
	r := newTestRig(t)
	conn := r.connectSwitch(t, 1, []openflow.Port{{PortNo: 1, Name: "s1-eth1"}, {PortNo: 2, Name: "s1-eth2"}})
	defer conn.Close()

	if r.Graph.SwitchCount() != 1 {
		t.Fatalf("SwitchCount() = %d, want 1", r.Graph.SwitchCount())
	}
	sw := r.Graph.Switch(1)
	if sw == nil || len(sw.Ports) != 2 {
		t.Fatalf("expected 2 ports recorded, got %+v", sw)
	}
	if r.Graph.PortKind(1, 1) != topology.Access {
		t.Fatalf("expected port 1 to start Access")
	}
}

func TestPacketInFloodsUnknownDestination(t *testing.T) {
	r := newTestRig(t)
	conn := r.connectSwitch(t, 1, []openflow.Port{{PortNo: 1}, {PortNo: 2}, {PortNo: 3}})
	defer conn.Close()

	var ethSrc, ethDst [6]byte
	copy(ethSrc[:], []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	copy(ethDst[:], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})

	// A non-ARP, non-IP ethertype so the handler falls through to flood.
	frame := ethernetFrame(t, ethSrc, ethDst, 0x1234, nil)
	sendPacketIn(t, conn, 1, 1, frame)

	seen := map[uint32]bool{}
	for i := 0; i < 2; i++ {
		po := readPacketOut(t, conn)
		if len(po.Actions) != 1 {
			t.Fatalf("expected single-action packet-out, got %+v", po.Actions)
		}
		seen[po.Actions[0].Port] = true
	}
	if seen[1] {
		t.Fatalf("ingress port 1 should never be flooded back to, got %+v", seen)
	}
	if !seen[2] || !seen[3] {
		t.Fatalf("expected flood on ports 2 and 3, got %+v", seen)
	}
}

func TestPacketInLearnsMACOnAccessPort(t *testing.T) {
	r := newTestRig(t)
	conn := r.connectSwitch(t, 1, []openflow.Port{{PortNo: 1}, {PortNo: 2}})
	defer conn.Close()

	var ethSrc, ethDst [6]byte
	copy(ethSrc[:], []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})
	copy(ethDst[:], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	frame := ethernetFrame(t, ethSrc, ethDst, 0x1234, nil)
	sendPacketIn(t, conn, 1, 1, frame)

	// drain the flood packet-out
	readPacketOut(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if loc, ok := r.MACDir.Locate(ethSrc, time.Now(), 0); ok {
			if loc.DatapathID != 1 || loc.Port != 1 {
				t.Fatalf("unexpected location: %+v", loc)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("MAC never learned")
}

func TestARPReplyUnicastsToLearnedPort(t *testing.T) {
	r := newTestRig(t)
	conn := r.connectSwitch(t, 1, []openflow.Port{{PortNo: 1}, {PortNo: 2}})
	defer conn.Close()

	var hostA, hostB, bcast [6]byte
	copy(hostA[:], []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01})
	copy(hostB[:], []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x02})
	copy(bcast[:], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})

	// Learn hostB on port 2 first.
	learnFrame := ethernetFrame(t, hostB, bcast, 0x1234, nil)
	sendPacketIn(t, conn, 1, 2, learnFrame)
	readPacketOut(t, conn) // drain flood on port 1

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.MACDir.Locate(hostB, time.Now(), 0); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// hostA (port 1) sends an ARP reply targeting hostB.
	arpReply := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   hostA[:],
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      hostB[:],
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	frame := ethernetFrame(t, hostA, hostB, layers.EthernetTypeARP, arpReply)
	sendPacketIn(t, conn, 2, 1, frame)

	po := readPacketOut(t, conn)
	if len(po.Actions) != 1 || po.Actions[0].Port != 2 {
		t.Fatalf("expected unicast to port 2, got %+v", po.Actions)
	}
}

func TestCheckDiscoveryFallbackResetsMACDirAndFlowTables(t *testing.T) {
	r := newTestRig(t)
	conn1 := r.connectSwitch(t, 1, []openflow.Port{{PortNo: 1}})
	defer conn1.Close()
	conn2 := r.connectSwitch(t, 2, []openflow.Port{{PortNo: 1}})
	defer conn2.Close()

	var mac [6]byte
	copy(mac[:], []byte{1, 2, 3, 4, 5, 6})
	r.MACDir.Learn(mac, 1, 1, time.Now())

	now := time.Now()
	grace := now.Add(-time.Second) // already past grace
	if !r.Controller.CheckDiscoveryFallback(context.Background(), now, grace) {
		t.Fatal("expected fallback to activate with zero discovered links and two switches")
	}

	if r.MACDir.Len() != 0 {
		t.Fatalf("expected MAC directory cleared, got %d entries", r.MACDir.Len())
	}
	if r.Graph.LinkCount() != 2 {
		t.Fatalf("expected the 2-switch static fallback's 2 directed links, got %d", r.Graph.LinkCount())
	}

	// Every switch should have received the flow table reset protocol's
	// three flow-mods.
	for _, conn := range []net.Conn{conn1, conn2} {
		for i := 0; i < 3; i++ {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			h, _, err := openflow.ReadMessage(conn)
			if err != nil || h.Type != openflow.TypeFlowMod {
				t.Fatalf("expected flow-mod %d: %v, %+v", i, err, h)
			}
		}
	}
}
