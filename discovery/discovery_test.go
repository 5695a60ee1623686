package discovery

import (
	"testing"
	"time"

	"github.com/amankumar00/fplf-controller/topology"
)

func TestHandleLLDPInstallsLink(t *testing.T) {
	g := topology.New()
	d := New(g, nil)

	frame := lldpFrame(1, 3)
	if frame == nil {
		t.Fatal("lldpFrame returned nil")
	}

	d.HandleLLDP(2, 7, frame)

	if g.LinkCount() != 1 {
		t.Fatalf("LinkCount = %d, want 1", g.LinkCount())
	}
	edges := g.Edges()
	if edges[0].SrcDPID != 1 || edges[0].SrcPort != 3 || edges[0].DstDPID != 2 || edges[0].DstPort != 7 {
		t.Fatalf("unexpected edge: %+v", edges[0])
	}
}

func TestHandleLLDPIgnoresSelf(t *testing.T) {
	g := topology.New()
	d := New(g, nil)

	frame := lldpFrame(1, 3)
	d.HandleLLDP(1, 7, frame)

	if g.LinkCount() != 0 {
		t.Fatalf("expected self-received LLDP to be ignored, got %d links", g.LinkCount())
	}
}

func TestApplyFallbackTwoSwitches(t *testing.T) {
	g := topology.New()
	g.AddSwitch(1)
	g.AddSwitch(2)
	d := New(g, nil)

	t0 := time.Now()
	applied := d.ApplyFallback(t0.Add(11*time.Second), t0.Add(10*time.Second))
	if !applied {
		t.Fatal("expected fallback to apply")
	}
	if g.LinkCount() != 2 {
		t.Fatalf("LinkCount = %d, want 2 (bidirectional s1<->s2)", g.LinkCount())
	}
}

func TestApplyFallbackSkippedBeforeGrace(t *testing.T) {
	g := topology.New()
	g.AddSwitch(1)
	g.AddSwitch(2)
	d := New(g, nil)

	t0 := time.Now()
	if d.ApplyFallback(t0, t0.Add(10*time.Second)) {
		t.Fatal("expected fallback to be skipped before grace deadline")
	}
}

func TestApplyFallbackSkippedIfLinksExist(t *testing.T) {
	g := topology.New()
	g.AddLink(1, 1, 2, 1, 1000)
	d := New(g, nil)

	t0 := time.Now()
	if d.ApplyFallback(t0.Add(20*time.Second), t0.Add(10*time.Second)) {
		t.Fatal("expected fallback to be skipped when links already discovered")
	}
}

func TestStaticTopologyFourSwitches(t *testing.T) {
	links := staticTopology(4)
	if len(links) != 10 {
		t.Fatalf("got %d links for 4-switch topology, want 10", len(links))
	}
}

func TestStaticTopologyDaisyChainFallback(t *testing.T) {
	links := staticTopology(5)
	if len(links) != 8 {
		t.Fatalf("got %d links for 5-switch daisy chain, want 8", len(links))
	}
}
