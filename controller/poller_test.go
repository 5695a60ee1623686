package controller

import (
	"context"
	"testing"
	"time"

	"github.com/amankumar00/fplf-controller/energy"
	"github.com/amankumar00/fplf-controller/metrics"
	"github.com/amankumar00/fplf-controller/openflow"
	"github.com/prometheus/client_golang/prometheus"
)

type fakePollTarget struct {
	dpid  uint64
	stats []openflow.PortStat
}

func (f *fakePollTarget) DatapathID() uint64 { return f.dpid }

func (f *fakePollTarget) RequestPortStats(ctx context.Context, req openflow.PortStatsRequest) (openflow.PortStatsReply, error) {
	return openflow.PortStatsReply{Stats: f.stats}, nil
}

type fakeLink struct {
	bps float64
	at  time.Time
}

func (l *fakeLink) SetLoad(bps float64, now time.Time) {
	l.bps = bps
	l.at = now
}

func TestPollOnceStoresSamplesAndUpdatesLink(t *testing.T) {
	reg := metrics.NewWith(prometheus.NewRegistry())
	em := energy.New()
	p := NewStatsPoller(em, reg)

	target := &fakePollTarget{dpid: 1, stats: []openflow.PortStat{
		{PortNo: 2, TxBytes: 1000, RxBytes: 500},
	}}
	link := &fakeLink{}
	linkFor := func(dpid uint64, port uint32) LinkSetter {
		if dpid == 1 && port == 2 {
			return link
		}
		return nil
	}

	portsFor := func(dpid uint64) []uint32 {
		if dpid == 1 {
			return []uint32{2}
		}
		return nil
	}

	now := time.Unix(1000, 0)
	if err := p.PollOnce(context.Background(), []PollTarget{target}, portsFor, linkFor, 10*time.Second, now); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	stat, at, ok := p.LatestPortSample(1, 2)
	if !ok {
		t.Fatal("expected sample stored")
	}
	if stat.TxBytes != 1000 || !at.Equal(now) {
		t.Fatalf("unexpected sample: %+v at %v", stat, at)
	}

	// No previous sample on the first poll, so the link should not yet
	// have been set.
	if link.bps != 0 {
		t.Fatalf("link.bps = %v, want 0 on first poll", link.bps)
	}

	// Second poll establishes a delta.
	target.stats = []openflow.PortStat{{PortNo: 2, TxBytes: 9000, RxBytes: 4500}}
	now2 := now.Add(10 * time.Second)
	if err := p.PollOnce(context.Background(), []PollTarget{target}, portsFor, linkFor, 10*time.Second, now2); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	wantBPS := float64(9000-1000) * 8 / 10
	if link.bps != wantBPS {
		t.Fatalf("link.bps = %v, want %v", link.bps, wantBPS)
	}
}

func TestPollOnceFeedsEnergyMonitor(t *testing.T) {
	reg := metrics.NewWith(prometheus.NewRegistry())
	em := energy.New()
	p := NewStatsPoller(em, reg)

	// Port 2 is an inter-switch port with a discovered link, port 3 is an
	// access port with no link at all. Both must still count toward the
	// total/active denominator (spec.md §4.8: "all data ports", not just
	// ports that happen to be link-resolvable).
	target := &fakePollTarget{dpid: 1, stats: []openflow.PortStat{
		{PortNo: 2, TxBytes: 0},
		{PortNo: 3, TxBytes: 0},
	}}
	links := map[uint32]*fakeLink{2: {}}
	linkFor := func(dpid uint64, port uint32) LinkSetter {
		if l, ok := links[port]; ok {
			return l
		}
		return nil
	}
	portsFor := func(dpid uint64) []uint32 { return []uint32{2, 3} }

	now := time.Unix(2000, 0)
	if err := p.PollOnce(context.Background(), []PollTarget{target}, portsFor, linkFor, 5*time.Second, now); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	// Port 2 (linked) goes active, port 3 (access, no link) also goes
	// active.
	target.stats = []openflow.PortStat{
		{PortNo: 2, TxBytes: 5000},
		{PortNo: 3, TxBytes: 3000},
	}
	now2 := now.Add(5 * time.Second)
	if err := p.PollOnce(context.Background(), []PollTarget{target}, portsFor, linkFor, 5*time.Second, now2); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	summary, ok := em.SummaryStatistics()
	if !ok {
		t.Fatal("expected energy summary to be available")
	}
	if summary.TotalMeasurements != 1 {
		t.Fatalf("TotalMeasurements = %d, want 1", summary.TotalMeasurements)
	}
	if summary.AvgActiveLinks != 2 {
		t.Fatalf("AvgActiveLinks = %v, want 2 (both the linked and the access port are active)", summary.AvgActiveLinks)
	}
}

func TestPollOnceReturnsErrorFromTarget(t *testing.T) {
	p := NewStatsPoller(energy.New(), metrics.NewWith(prometheus.NewRegistry()))
	target := &erroringTarget{dpid: 9}
	err := p.PollOnce(context.Background(), []PollTarget{target}, func(uint64) []uint32 { return nil }, func(uint64, uint32) LinkSetter { return nil }, time.Second, time.Unix(0, 0))
	if err == nil {
		t.Fatal("expected error")
	}
}

type erroringTarget struct{ dpid uint64 }

func (e *erroringTarget) DatapathID() uint64 { return e.dpid }

func (e *erroringTarget) RequestPortStats(ctx context.Context, req openflow.PortStatsRequest) (openflow.PortStatsReply, error) {
	return openflow.PortStatsReply{}, context.DeadlineExceeded
}
