// Package metrics publishes the controller's internal counters and
// gauges to Prometheus, grounded on the sibling firewall repos' use of
// promauto for registration (SPEC_FULL.md §4.8, §4.7 supplement).
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every gauge/counter this controller exports.
// PacketInTotal, FlowInstallTotal, FlowInstallErrors, NoRouteTotal and
// ConnectedSwitches are registered, but nothing in this repository
// updates them.
type Registry struct {
	PortTxBytes *prometheus.GaugeVec
	PortRxBytes *prometheus.GaugeVec

	EnergyFPLFWatts     prometheus.Gauge
	EnergyBaselineWatts prometheus.Gauge
	EnergySavedPercent  prometheus.Gauge
	EnergyCumulativeWh  prometheus.Gauge

	PacketInTotal    prometheus.Counter
	FlowInstallTotal prometheus.Counter
	FlowInstallErrors prometheus.Counter
	NoRouteTotal     prometheus.Counter

	ConnectedSwitches prometheus.Gauge
}

// New registers every metric against the default Prometheus registry.
func New() *Registry {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers every metric against reg, letting tests use an
// isolated prometheus.NewRegistry() instead of the global default.
func NewWith(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		PortTxBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fplf_port_tx_bytes",
			Help: "Latest observed tx byte counter per switch port.",
		}, []string{"dpid", "port"}),
		PortRxBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fplf_port_rx_bytes",
			Help: "Latest observed rx byte counter per switch port.",
		}, []string{"dpid", "port"}),

		EnergyFPLFWatts: f.NewGauge(prometheus.GaugeOpts{
			Name: "fplf_energy_fplf_watts",
			Help: "Current estimated power draw under FPLF routing.",
		}),
		EnergyBaselineWatts: f.NewGauge(prometheus.GaugeOpts{
			Name: "fplf_energy_baseline_watts",
			Help: "Estimated power draw if every link were always active.",
		}),
		EnergySavedPercent: f.NewGauge(prometheus.GaugeOpts{
			Name: "fplf_energy_saved_percent",
			Help: "Percentage power saved versus the all-links-active baseline.",
		}),
		EnergyCumulativeWh: f.NewGauge(prometheus.GaugeOpts{
			Name: "fplf_energy_cumulative_wh",
			Help: "Cumulative energy saved, in watt-hours, since controller start.",
		}),

		PacketInTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "fplf_packet_in_total",
			Help: "Total packet-in messages received from all switches.",
		}),
		FlowInstallTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "fplf_flow_install_total",
			Help: "Total flow-mod installation attempts.",
		}),
		FlowInstallErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "fplf_flow_install_errors_total",
			Help: "Total flow-mod installation attempts that returned an error.",
		}),
		NoRouteTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "fplf_no_route_total",
			Help: "Total path computations that found no route and fell back to flooding.",
		}),

		ConnectedSwitches: f.NewGauge(prometheus.GaugeOpts{
			Name: "fplf_connected_switches",
			Help: "Number of switches currently connected to the controller.",
		}),
	}
}

// ObserveEnergySample publishes one energy tick's derived gauges.
func (r *Registry) ObserveEnergySample(fplfWatts, baselineWatts, savedPercent, cumulativeWh float64) {
	r.EnergyFPLFWatts.Set(fplfWatts)
	r.EnergyBaselineWatts.Set(baselineWatts)
	r.EnergySavedPercent.Set(savedPercent)
	r.EnergyCumulativeWh.Set(cumulativeWh)
}

// Serve runs an HTTP server exposing /metrics on addr until ctx is
// canceled (spec.md §6's metrics_listen_address option; empty addr means
// the endpoint is disabled and Serve is simply never called).
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
