// Package controller wires the Topology Graph, MAC Directory,
// Classification Table, FPLF Path Engine and Flow Installer together into
// the Packet Handler event loop (spec.md §4.1) and the periodic
// Statistics Poller (spec.md §4.7).
package controller

import (
	"context"
	"log/slog"
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

// Controller implements session.Handler: it is the Packet Handler and the
// home for the other components it wires together (spec.md §4.1).
type Controller struct {
	Graph      *topology.Graph
	MACDir     *macdir.Directory
	Classify   *classify.Table
	Engine     *fplf.Engine
	Installer  *flowinstall.Installer
	Discovery  *discovery.Discovery
	Sessions   *session.Manager
	Log        *slog.Logger
	MACAgeMax  time.Duration

	misparsed int64 // count of packet-ins that failed to decode
}

// New returns a Controller with the given collaborators wired in.
func New(g *topology.Graph, macDir *macdir.Directory, classifyTable *classify.Table, engine *fplf.Engine, installer *flowinstall.Installer, disc *discovery.Discovery, sessions *session.Manager, log *slog.Logger, macAgeMax time.Duration) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		Graph:     g,
		MACDir:    macDir,
		Classify:  classifyTable,
		Engine:    engine,
		Installer: installer,
		Discovery: disc,
		Sessions:  sessions,
		Log:       log,
		MACAgeMax: macAgeMax,
	}
}

// OnFeaturesReply registers the switch in the Topology Graph.
func (c *Controller) OnFeaturesReply(ctx context.Context, s *session.Session, fr openflow.FeaturesReply) {
	c.Graph.AddSwitch(fr.DatapathID)
	c.Discovery.RegisterSender(fr.DatapathID, s)
	c.Log.Info("switch features", "dpid", fr.DatapathID, "tables", fr.NumTables)
}

// OnPortDesc records every discovered port as Access until Link Discovery
// promotes any of them to InterSwitch.
func (c *Controller) OnPortDesc(ctx context.Context, s *session.Session, ports []openflow.Port) {
	for _, p := range ports {
		c.Graph.SetPortKind(s.DatapathID(), p.PortNo, topology.Access)
	}
	c.Discovery.RegisterSwitch(s.DatapathID(), ports)
}

// OnPortStatus reacts to port add/delete/modify by dropping affected MAC
// entries and, on delete or when the port is down, removing any outbound
// link using that port (spec.md §3).
func (c *Controller) OnPortStatus(ctx context.Context, s *session.Session, ps openflow.PortStatus) {
	dpid := s.DatapathID()
	c.MACDir.InvalidatePort(dpid, ps.Desc.PortNo)

	if ps.Reason == openflow.PortReasonDelete || !ps.Desc.Up() {
		for _, l := range c.Graph.Neighbors(dpid) {
			if l.SrcPort == ps.Desc.PortNo {
				c.Graph.RemoveLink(l.SrcDPID, l.SrcPort, l.DstDPID, l.DstPort)
			}
		}
	}
}

// OnFlowStats and OnPortStats are consumed by the Statistics Poller's
// caller via the request/response path in session.Session; Controller's
// hooks here ignore unsolicited deliveries (multipart replies normally
// arrive as a direct response to a poller request).
func (c *Controller) OnFlowStats(ctx context.Context, s *session.Session, fr openflow.FlowStatsReply)   {}
func (c *Controller) OnPortStats(ctx context.Context, s *session.Session, pr openflow.PortStatsReply) {}

// OnDisconnect tears down graph and MAC directory state for a lost switch
// (spec.md §7).
func (c *Controller) OnDisconnect(ctx context.Context, s *session.Session) {
	dpid := s.DatapathID()
	c.MACDir.InvalidateSwitch(dpid)
	c.Graph.RemoveSwitch(dpid)
}

// OnPacketIn is the Packet Handler's core dispatch (spec.md §4.1).
func (c *Controller) OnPacketIn(ctx context.Context, s *session.Session, pi openflow.PacketIn) {
	inPort, ok := pi.InPort()
	if !ok {
		c.misparsed++
		return
	}
	dpid := s.DatapathID()

	pkt := gopacket.NewPacket(pi.Data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		c.misparsed++
		return
	}
	eth := ethLayer.(*layers.Ethernet)

	// Step 1: LLDP goes straight to Link Discovery.
	if eth.EthernetType == layers.EthernetTypeLinkLayerDiscovery {
		c.Discovery.HandleLLDP(dpid, inPort, pi.Data)
		// A port now known to face another switch can no longer have hosts
		// behind it.
		if c.Graph.PortKind(dpid, inPort) == topology.InterSwitch {
			c.MACDir.InvalidatePort(dpid, inPort)
		}
		return
	}

	var ethSrc, ethDst [6]byte
	copy(ethSrc[:], eth.SrcMAC)
	copy(ethDst[:], eth.DstMAC)

	// Step 2: learn only from access ports.
	if c.Graph.PortKind(dpid, inPort) == topology.Access {
		c.MACDir.Learn(ethSrc, dpid, inPort, time.Now())
	}

	// Step 3: ARP.
	if arpLayer := pkt.Layer(layers.LayerTypeARP); arpLayer != nil {
		c.handleARP(ctx, s, dpid, inPort, pi, arpLayer.(*layers.ARP), ethSrc, ethDst)
		return
	}

	// Step 4: IPv4/IPv6 forwarding by learned MAC, classified and routed.
	if ip4 := pkt.Layer(layers.LayerTypeIPv4); ip4 != nil {
		c.handleIP(ctx, s, dpid, inPort, pi, ethSrc, ethDst, ip4.(*layers.IPv4).SrcIP.String(), ip4.(*layers.IPv4).DstIP.String(), uint8(ip4.(*layers.IPv4).Protocol), pkt)
		return
	}
	if ip6 := pkt.Layer(layers.LayerTypeIPv6); ip6 != nil {
		c.handleIP(ctx, s, dpid, inPort, pi, ethSrc, ethDst, ip6.(*layers.IPv6).SrcIP.String(), ip6.(*layers.IPv6).DstIP.String(), uint8(ip6.(*layers.IPv6).NextHeader), pkt)
		return
	}

	// Step 5: unknown destination/protocol, flood.
	c.flood(ctx, dpid, inPort, pi)
}

func (c *Controller) handleARP(ctx context.Context, s *session.Session, dpid uint64, inPort uint32, pi openflow.PacketIn, arp *layers.ARP, ethSrc, ethDst [6]byte) {
	if arp.Operation == layers.ARPReply {
		var targetMAC [6]byte
		copy(targetMAC[:], arp.DstHwAddress)

		if loc, ok := c.MACDir.Locate(targetMAC, time.Now(), 0); ok {
			c.unicastOrRoute(ctx, dpid, inPort, loc, pi, ethSrc, targetMAC)
			return
		}
	}
	c.flood(ctx, dpid, inPort, pi)
}

// unicastOrRoute delivers an ARP reply directly to its already-learned
// target, either with a single packet-out on the same switch or, across
// switches, by installing a path keyed on the real sender and target MACs
// so later unicast traffic between them matches the same flow entries.
func (c *Controller) unicastOrRoute(ctx context.Context, srcDPID uint64, inPort uint32, dstLoc macdir.Location, pi openflow.PacketIn, ethSrc, targetMAC [6]byte) {
	if dstLoc.DatapathID == srcDPID {
		sw, ok := c.Sessions.Lookup(srcDPID)
		if !ok {
			return
		}
		po := openflow.PacketOut{
			BufferID: pi.BufferID,
			InPort:   inPort,
			Actions:  []openflow.Action{{Port: dstLoc.Port, MaxLen: openflow.ControllerMaxLenNoBuffer}},
			Data:     pi.Data,
		}
		_ = sw.SendPacketOut(ctx, po)
		return
	}

	path, err := c.Engine.FindPath(srcDPID, dstLoc.DatapathID, 0)
	if err != nil {
		c.Log.Warn("no path for ARP reply", "src", srcDPID, "dst", dstLoc.DatapathID, "error", err)
		return
	}
	_ = c.Installer.Install(ctx, path, ethSrc, targetMAC, 0, flowinstall.Trigger{BufferID: pi.BufferID, Data: pi.Data})
}

func (c *Controller) handleIP(ctx context.Context, s *session.Session, dpid uint64, inPort uint32, pi openflow.PacketIn, ethSrc, ethDst [6]byte, srcIP, dstIP string, protocol uint8, pkt gopacket.Packet) {
	loc, ok := c.MACDir.Locate(ethDst, time.Now(), 0)
	if !ok {
		c.flood(ctx, dpid, inPort, pi)
		return
	}

	dstPort := transportDstPort(pkt)
	entry := c.Classify.Lookup(classify.Key{
		SrcHost:  srcIP,
		DstHost:  dstIP,
		DstPort:  dstPort,
		Protocol: protocolName(protocol),
	})

	path, err := c.Engine.FindPath(dpid, loc.DatapathID, entry.TrafficType.Priority())
	if err != nil {
		c.Log.Info("no route, flooding", "src_switch", dpid, "dst_switch", loc.DatapathID, "error", err)
		c.flood(ctx, dpid, inPort, pi)
		return
	}

	path.CommitLoad(entry.BandwidthHint, time.Now())

	if err := c.Installer.Install(ctx, path, ethSrc, ethDst, entry.TrafficType.Priority(), flowinstall.Trigger{BufferID: pi.BufferID, Data: pi.Data}); err != nil {
		c.Log.Warn("flow install error", "error", err)
		return
	}
	c.Log.Info("path installed",
		"src", srcIP, "dst", dstIP, "dst_port", dstPort, "protocol", protocolName(protocol),
		"traffic_type", entry.TrafficType.String(), "priority", entry.TrafficType.Priority(),
		"hops", path.Switches)
}

func transportDstPort(pkt gopacket.Packet) uint16 {
	if tcp := pkt.Layer(layers.LayerTypeTCP); tcp != nil {
		return uint16(tcp.(*layers.TCP).DstPort)
	}
	if udp := pkt.Layer(layers.LayerTypeUDP); udp != nil {
		return uint16(udp.(*layers.UDP).DstPort)
	}
	return 0
}

func protocolName(protocol uint8) string {
	switch protocol {
	case 6:
		return "TCP"
	case 17:
		return "UDP"
	case 1, 58:
		return "ICMP"
	default:
		return "OTHER"
	}
}

// flood emits one packet-out per port on the switch other than the
// ingress port (spec.md §4.1 step 3: "not a single FLOOD action so
// switches without spanning-tree do not loop").
func (c *Controller) flood(ctx context.Context, dpid uint64, inPort uint32, pi openflow.PacketIn) {
	sw, ok := c.Sessions.Lookup(dpid)
	if !ok {
		return
	}

	swInfo := c.Graph.Switch(dpid)
	if swInfo == nil {
		return
	}

	for portNo := range swInfo.Ports {
		if portNo == inPort {
			continue
		}
		po := openflow.PacketOut{
			BufferID: pi.BufferID,
			InPort:   inPort,
			Actions:  []openflow.Action{{Port: portNo, MaxLen: openflow.ControllerMaxLenNoBuffer}},
			Data:     pi.Data,
		}
		_ = sw.SendPacketOut(ctx, po)
	}
}

// MisparsedCount returns the number of packet-ins discarded because they
// failed to decode (spec.md §4.1 failure semantics).
func (c *Controller) MisparsedCount() int64 {
	return c.misparsed
}

// CheckDiscoveryFallback applies the discovery-grace-period static
// fallback if no links have been discovered by graceDeadline. Beyond
// rebuilding the graph (discovery.Discovery.ApplyFallback's job), it also
// resets the MAC Directory and wipes every connected switch's flow table,
// because flow rules installed under the prior, incorrect topology are no
// longer valid (spec.md §4.3).
func (c *Controller) CheckDiscoveryFallback(ctx context.Context, now, graceDeadline time.Time) bool {
	if !c.Discovery.ApplyFallback(now, graceDeadline) {
		return false
	}

	c.MACDir.Clear()
	for _, sw := range c.Sessions.Sessions() {
		if err := flowinstall.ResetSwitch(ctx, sw); err != nil {
			c.Log.Warn("flow table reset failed during discovery fallback", "dpid", sw.DatapathID(), "error", err)
		}
	}
	c.Log.Warn("discovery fallback activated: graph, MAC directory and flow tables reset")
	return true
}
