package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amankumar00/fplf-controller/energy"
	"github.com/amankumar00/fplf-controller/metrics"
	"github.com/amankumar00/fplf-controller/openflow"
)

// portKey identifies a (switch, port) sample slot (spec.md §4.7: "latest
// sample per (switch, port)").
type portKey struct {
	dpid uint64
	port uint32
}

// portSample is the latest observed counters for one switch port.
type portSample struct {
	stat openflow.PortStat
	at   time.Time
}

// Poller implements the Statistics Poller (spec.md §4.7) and drives the
// Energy Monitor from the same port samples (spec.md §4.8).
type Poller struct {
	Energy  *energy.Monitor
	Metrics *metrics.Registry

	mu      sync.Mutex
	samples map[portKey]portSample
}

// LinkSetter is the narrow view of *topology.Link the poller needs to
// feed a measured byte rate back into the graph without importing the
// topology package directly.
type LinkSetter interface {
	SetLoad(bps float64, now time.Time)
}

// PollTarget is the narrow interface Poller needs per connected switch.
type PollTarget interface {
	DatapathID() uint64
	RequestPortStats(ctx context.Context, req openflow.PortStatsRequest) (openflow.PortStatsReply, error)
}

// LinkBySourcePort resolves the outbound link whose source is
// (dpid, portNo), or nil if none (the port may be an access port).
type LinkBySourcePort func(dpid uint64, portNo uint32) LinkSetter

// PortEnumerator lists every data port discovered on a switch, access and
// inter-switch alike. Energy accounting's total/active denominator is
// counted over this full set (spec.md §4.8: "total ports = count of all
// data ports across all switches"), not just the subset that happens to be
// the source end of a discovered inter-switch link.
type PortEnumerator func(dpid uint64) []uint32

// NewStatsPoller returns a Poller wired to em for energy accounting and
// reg for Prometheus publication.
func NewStatsPoller(em *energy.Monitor, reg *metrics.Registry) *Poller {
	return &Poller{Energy: em, Metrics: reg, samples: make(map[portKey]portSample)}
}

// PollOnce requests port statistics from every target and updates stored
// samples, topology link loads (via linkFor), and the energy monitor
// (spec.md §4.7, §4.8). portsFor supplies the full data-port set per switch
// for the active/total denominator; linkFor additionally feeds measured
// load back into the topology graph for the inter-switch ports among them.
// A port counts toward total/active only once it has a previous sample to
// compare against, so the first poll records a baseline and logs no energy
// sample.
func (p *Poller) PollOnce(ctx context.Context, targets []PollTarget, portsFor PortEnumerator, linkFor LinkBySourcePort, pollInterval time.Duration, now time.Time) error {
	active, total := 0, 0

	for _, t := range targets {
		dpid := t.DatapathID()
		reply, err := t.RequestPortStats(ctx, openflow.PortStatsRequest{PortNo: openflow.PortAny})
		if err != nil {
			return fmt.Errorf("controller: poll port stats for switch %d: %w", dpid, err)
		}

		statByPort := make(map[uint32]openflow.PortStat, len(reply.Stats))
		prevByPort := make(map[uint32]portSample, len(reply.Stats))

		for _, stat := range reply.Stats {
			statByPort[stat.PortNo] = stat
			key := portKey{dpid: dpid, port: stat.PortNo}

			p.mu.Lock()
			prev, hadPrev := p.samples[key]
			p.samples[key] = portSample{stat: stat, at: now}
			p.mu.Unlock()

			if hadPrev {
				prevByPort[stat.PortNo] = prev
			}

			if p.Metrics != nil {
				dpidLabel := fmt.Sprintf("%d", dpid)
				portLabel := fmt.Sprintf("%d", stat.PortNo)
				p.Metrics.PortTxBytes.WithLabelValues(dpidLabel, portLabel).Set(float64(stat.TxBytes))
				p.Metrics.PortRxBytes.WithLabelValues(dpidLabel, portLabel).Set(float64(stat.RxBytes))
			}

			if link := linkFor(dpid, stat.PortNo); link != nil && hadPrev {
				bps := float64(stat.TxBytes-prev.stat.TxBytes) * 8 / pollInterval.Seconds()
				link.SetLoad(bps, now)
			}
		}

		for _, portNo := range portsFor(dpid) {
			stat, ok := statByPort[portNo]
			if !ok {
				continue
			}
			prev, hadPrev := prevByPort[portNo]
			if !hadPrev {
				continue
			}
			total++
			if energy.ClassifyPort(prev.stat.TxBytes, stat.TxBytes) {
				active++
			}
		}
	}

	if p.Energy != nil && total > 0 {
		sample := p.Energy.LogSample(now, active, total, pollInterval)
		if p.Metrics != nil {
			p.Metrics.ObserveEnergySample(sample.FPLFWatts, sample.BaselineWatts, sample.SavedPercent, sample.CumulativeWh)
		}
	}

	return nil
}

// LatestPortSample returns the last stored sample for (dpid, port).
func (p *Poller) LatestPortSample(dpid uint64, port uint32) (openflow.PortStat, time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.samples[portKey{dpid: dpid, port: port}]
	return s.stat, s.at, ok
}
