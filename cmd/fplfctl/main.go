// Command fplfctl runs the FPLF SDN controller: it accepts OpenFlow 1.3
// switch connections, discovers the topology, computes Fill-Preferred-
// Link-First paths, installs forwarding rules, and tracks the resulting
// energy savings (spec.md §1, SPEC_FULL.md §4.13).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amankumar00/fplf-controller/classify"
	"github.com/amankumar00/fplf-controller/config"
	"github.com/amankumar00/fplf-controller/controller"
	"github.com/amankumar00/fplf-controller/discovery"
	"github.com/amankumar00/fplf-controller/energy"
	"github.com/amankumar00/fplf-controller/flowinstall"
	"github.com/amankumar00/fplf-controller/fplf"
	"github.com/amankumar00/fplf-controller/macdir"
	"github.com/amankumar00/fplf-controller/metrics"
	"github.com/amankumar00/fplf-controller/session"
	"github.com/amankumar00/fplf-controller/topology"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to an HCL controller configuration file (optional; compiled-in defaults otherwise)")
	listenOverride := flag.String("listen", "", "override controller_listen_address:controller_listen_port, e.g. 0.0.0.0:6653")
	flag.Parse()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	listenAddr := fmt.Sprintf("%s:%d", cfg.ControllerListenAddress, cfg.ControllerListenPort)
	if *listenOverride != "" {
		listenAddr = *listenOverride
	}

	g := topology.New()
	macDir := macdir.New()

	classifyTable := classify.Empty()
	if cfg.ClassificationCSVPath != "" {
		loaded, err := classify.Load(cfg.ClassificationCSVPath)
		if err != nil {
			log.Warn("classification table load failed, traffic will classify as UNKNOWN", "path", cfg.ClassificationCSVPath, "error", err)
		} else {
			classifyTable = loaded
		}
	}

	weightMode := fplf.RawLoad
	if cfg.WeightMode == "utilization" {
		weightMode = fplf.Utilization
	}
	engine := fplf.New(g, classify.MaxPriority)
	engine.WeightMode = weightMode

	disc := discovery.New(g, log)
	if cfg.StaticTopologyMap != nil {
		for _, l := range cfg.StaticTopologyMap.Links {
			disc.Override = append(disc.Override, discovery.StaticOverride{SrcDPID: l.SrcDPID, DstDPID: l.DstDPID, SrcPort: l.SrcPort})
		}
	}

	em := energy.New()
	em.ActiveWatts = cfg.PowerActiveWatts
	em.IdleWatts = cfg.PowerIdleWatts

	reg := metrics.New()

	c := controller.New(g, macDir, classifyTable, engine, nil, disc, nil, log, time.Duration(cfg.MACAgeSeconds)*time.Second)

	mgr := session.New(c, log)
	c.Sessions = mgr

	lookup := func(dpid uint64) (flowinstall.Switch, bool) {
		s, ok := mgr.Lookup(dpid)
		if !ok {
			return nil, false
		}
		return s, true
	}
	installer := flowinstall.New(lookup, macDir)
	installer.IdleTimeout = uint16(cfg.FlowIdleTimeoutSeconds)
	c.Installer = installer

	poller := controller.NewStatsPoller(em, reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return session.Listen(egCtx, listenAddr, mgr)
	})

	if cfg.MetricsListenAddress != "" {
		eg.Go(func() error {
			return metrics.Serve(egCtx, cfg.MetricsListenAddress)
		})
	}

	eg.Go(func() error {
		return runStatsPoller(egCtx, poller, mgr, g, time.Duration(cfg.StatsPollIntervalSeconds)*time.Second)
	})

	eg.Go(func() error {
		return runDecayAndAging(egCtx, g, macDir, time.Duration(cfg.DecayTimeConstantSeconds)*time.Second, time.Duration(cfg.MACAgeSeconds)*time.Second)
	})

	eg.Go(func() error {
		return runDiscovery(egCtx, disc, c, time.Duration(cfg.DiscoveryGraceSeconds)*time.Second)
	})

	log.Info("controller started", "listen", listenAddr, "weight_mode", cfg.WeightMode)

	err := eg.Wait()
	if err != nil && egCtx.Err() == nil {
		log.Error("controller exited with error", "error", err)
	}

	summary, ok := em.SummaryStatistics()
	energy.PrintSummary(os.Stdout, summary, ok, cfg.EnergyCSVPath)
	if cfg.EnergyCSVPath != "" {
		if exportErr := energy.ExportCSVFile(em, cfg.EnergyCSVPath); exportErr != nil {
			log.Warn("energy CSV export failed", "path", cfg.EnergyCSVPath, "error", exportErr)
		}
	}

	if err != nil && egCtx.Err() == nil {
		return 1
	}
	return 0
}

// runStatsPoller requests port statistics from every connected switch on
// interval, resolving each polled port to its outbound topology link so
// its measured byte rate can feed FPLF's load-aware routing (spec.md
// §4.7).
func runStatsPoller(ctx context.Context, poller *controller.Poller, mgr *session.Manager, g *topology.Graph, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	linkFor := func(dpid uint64, port uint32) controller.LinkSetter {
		for _, l := range g.Neighbors(dpid) {
			if l.SrcPort == port {
				return l
			}
		}
		return nil
	}

	portsFor := func(dpid uint64) []uint32 {
		sw := g.Switch(dpid)
		if sw == nil {
			return nil
		}
		ports := make([]uint32, 0, len(sw.Ports))
		for portNo := range sw.Ports {
			ports = append(ports, portNo)
		}
		return ports
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			targets := make([]controller.PollTarget, 0)
			for _, s := range mgr.Sessions() {
				targets = append(targets, s)
			}
			if err := poller.PollOnce(ctx, targets, portsFor, linkFor, interval, now); err != nil {
				slog.Default().Warn("stats poll failed", "error", err)
			}
		}
	}
}

// runDecayAndAging periodically decays topology link load and expires
// stale MAC Directory entries (spec.md §4.2, §4.3, §5).
func runDecayAndAging(ctx context.Context, g *topology.Graph, macDir *macdir.Directory, decayTau, macAge time.Duration) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			g.Decay(now, decayTau)
			macDir.Age(now, macAge)
		}
	}
}

// runDiscovery periodically emits LLDP on every connected switch and
// checks whether the discovery-grace-period fallback should activate
// (spec.md §4.1 step 1, §4.3).
func runDiscovery(ctx context.Context, disc *discovery.Discovery, c *controller.Controller, grace time.Duration) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	started := time.Now()
	graceDeadline := started.Add(grace)
	fallbackApplied := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			disc.EmitAll(ctx)
			if !fallbackApplied {
				fallbackApplied = c.CheckDiscoveryFallback(ctx, now, graceDeadline)
			}
		}
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
