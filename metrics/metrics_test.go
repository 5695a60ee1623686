package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveEnergySample(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWith(reg)

	r.ObserveEnergySample(100, 160, 37.5, 1.25)

	var m dto.Metric
	if err := r.EnergySavedPercent.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.Gauge.GetValue() != 37.5 {
		t.Fatalf("EnergySavedPercent = %v, want 37.5", m.Gauge.GetValue())
	}
}

func TestPortGaugeVecLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWith(reg)

	r.PortTxBytes.WithLabelValues("1", "3").Set(42)

	var m dto.Metric
	if err := r.PortTxBytes.WithLabelValues("1", "3").Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.Gauge.GetValue() != 42 {
		t.Fatalf("PortTxBytes = %v, want 42", m.Gauge.GetValue())
	}
}
