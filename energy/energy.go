// Package energy attributes port-level power consumption to the set of
// currently-active links and compares it against an all-links-on
// baseline (spec.md §4.8). The method sequence (Sample/LogSample/
// ExportCSV/SummaryStatistics/PrintSummary) mirrors energy_monitor.py's
// calculate_energy/log_energy_data/export_to_csv/get_summary_statistics/
// print_summary.
package energy

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// Power consumption constants, Watts, from the original research model
// (Kaup et al. 2014, as cited by energy_monitor.py).
const (
	DefaultActiveWatts = 5.0
	DefaultIdleWatts   = 2.0
)

// Sample is one tick's energy accounting, matching spec.md §3's Energy
// sample tuple.
type Sample struct {
	Timestamp         time.Time
	ActiveLinks       int
	IdleLinks         int
	TotalLinks        int
	ActiveLinkPercent float64
	FPLFWatts         float64
	BaselineWatts     float64
	SavedWatts        float64
	SavedPercent      float64
	CumulativeWh      float64
}

// Monitor accumulates energy samples and can flush them to a CSV file
// (spec.md §6, "Energy log (output file)").
type Monitor struct {
	ActiveWatts float64
	IdleWatts   float64

	mu           sync.Mutex
	buffered     []Sample
	total        int
	cumulativeWh float64
	lastTick     time.Time
}

// New returns a Monitor with the standard power model.
func New() *Monitor {
	return &Monitor{ActiveWatts: DefaultActiveWatts, IdleWatts: DefaultIdleWatts}
}

// Sample computes one tick's energy metrics from the current active/total
// link counts and the elapsed interval since the previous tick (spec.md
// §3, §4.8: delta_wh = saved_watts · T_poll/3600). The first call after
// construction uses pollInterval as the elapsed time since there is no
// prior tick to measure from.
func (m *Monitor) Sample(now time.Time, activeLinks, totalLinks int, pollInterval time.Duration) Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	idleLinks := totalLinks - activeLinks
	var activePercent float64
	if totalLinks > 0 {
		activePercent = float64(activeLinks) / float64(totalLinks) * 100
	}

	fplfWatts := float64(activeLinks)*m.ActiveWatts + float64(idleLinks)*m.IdleWatts
	baselineWatts := float64(totalLinks) * m.ActiveWatts
	savedWatts := baselineWatts - fplfWatts

	var savedPercent float64
	if baselineWatts > 0 {
		savedPercent = savedWatts / baselineWatts * 100
	}

	elapsed := pollInterval
	if !m.lastTick.IsZero() {
		if d := now.Sub(m.lastTick); d > 0 {
			elapsed = d
		}
	}
	m.lastTick = now

	deltaWh := savedWatts * elapsed.Seconds() / 3600.0
	m.cumulativeWh += deltaWh
	m.total++

	return Sample{
		Timestamp:         now,
		ActiveLinks:       activeLinks,
		IdleLinks:         idleLinks,
		TotalLinks:        totalLinks,
		ActiveLinkPercent: activePercent,
		FPLFWatts:         fplfWatts,
		BaselineWatts:     baselineWatts,
		SavedWatts:        savedWatts,
		SavedPercent:      savedPercent,
		CumulativeWh:      m.cumulativeWh,
	}
}

// LogSample computes a sample and buffers it for the next ExportCSV call.
func (m *Monitor) LogSample(now time.Time, activeLinks, totalLinks int, pollInterval time.Duration) Sample {
	s := m.Sample(now, activeLinks, totalLinks, pollInterval)

	m.mu.Lock()
	m.buffered = append(m.buffered, s)
	m.mu.Unlock()

	return s
}

var csvHeader = []string{
	"timestamp", "datetime", "active_links", "idle_links", "total_links",
	"active_link_percent", "fplf_power_watts", "baseline_power_watts",
	"energy_saved_watts", "energy_saved_percent", "cumulative_savings_wh",
}

// WriteCSVHeader writes the energy CSV's header row.
func WriteCSVHeader(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV appends every buffered sample as one CSV row and clears the
// buffer, matching export_to_csv's append-then-clear behavior.
func (m *Monitor) ExportCSV(w io.Writer) error {
	m.mu.Lock()
	samples := m.buffered
	m.buffered = nil
	m.mu.Unlock()

	if len(samples) == 0 {
		return nil
	}

	cw := csv.NewWriter(w)
	for _, s := range samples {
		row := []string{
			strconv.FormatInt(s.Timestamp.Unix(), 10),
			s.Timestamp.Format("2006-01-02 15:04:05"),
			strconv.Itoa(s.ActiveLinks),
			strconv.Itoa(s.IdleLinks),
			strconv.Itoa(s.TotalLinks),
			fmt.Sprintf("%.2f", s.ActiveLinkPercent),
			fmt.Sprintf("%.2f", s.FPLFWatts),
			fmt.Sprintf("%.2f", s.BaselineWatts),
			fmt.Sprintf("%.2f", s.SavedWatts),
			fmt.Sprintf("%.2f", s.SavedPercent),
			fmt.Sprintf("%.6f", s.CumulativeWh),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("energy: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSVFile opens path (creating it with a header if it does not
// exist, appending otherwise) and writes every buffered sample.
func ExportCSVFile(m *Monitor, path string) error {
	_, statErr := os.Stat(path)
	needsHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("energy: open %s: %w", path, err)
	}
	defer f.Close()

	if needsHeader {
		if err := WriteCSVHeader(f); err != nil {
			return err
		}
	}
	return m.ExportCSV(f)
}

// SummaryStatistics summarizes every buffered-but-not-yet-exported
// sample, matching get_summary_statistics. The averages, extremes and
// TotalLinks come from the buffered samples; TotalMeasurements and the
// cumulative savings cover every sample logged since the Monitor was
// created. It returns false if no samples have been buffered since the
// last export.
func (m *Monitor) SummaryStatistics() (Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.buffered) == 0 {
		return Summary{}, false
	}

	var sumActive, sumPower, sumBaseline, sumSavedPct float64
	maxSaved := m.buffered[0].SavedPercent
	minSaved := m.buffered[0].SavedPercent

	for _, s := range m.buffered {
		sumActive += float64(s.ActiveLinks)
		sumPower += s.FPLFWatts
		sumBaseline += s.BaselineWatts
		sumSavedPct += s.SavedPercent
		if s.SavedPercent > maxSaved {
			maxSaved = s.SavedPercent
		}
		if s.SavedPercent < minSaved {
			minSaved = s.SavedPercent
		}
	}

	n := float64(len(m.buffered))
	return Summary{
		TotalMeasurements:        m.total,
		TotalLinks:               m.buffered[0].TotalLinks,
		AvgActiveLinks:           sumActive / n,
		AvgFPLFWatts:             sumPower / n,
		AvgBaselineWatts:         sumBaseline / n,
		AvgSavedPercent:          sumSavedPct / n,
		MaxSavedPercent:          maxSaved,
		MinSavedPercent:          minSaved,
		CumulativeSavingsWh:      m.cumulativeWh,
		CumulativeSavingsKWh:     m.cumulativeWh / 1000.0,
	}, true
}

// Summary mirrors get_summary_statistics's returned dict.
type Summary struct {
	TotalMeasurements    int
	TotalLinks           int
	AvgActiveLinks       float64
	AvgFPLFWatts         float64
	AvgBaselineWatts     float64
	AvgSavedPercent      float64
	MaxSavedPercent      float64
	MinSavedPercent      float64
	CumulativeSavingsWh  float64
	CumulativeSavingsKWh float64
}

// PrintSummary writes a human-readable summary to w, matching
// print_summary's layout.
func PrintSummary(w io.Writer, s Summary, ok bool, csvPath string) {
	if !ok {
		fmt.Fprintln(w, "No energy data collected yet")
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "======================================================================")
	fmt.Fprintln(w, " ENERGY EFFICIENCY SUMMARY (vs All-Links-Active Baseline)")
	fmt.Fprintln(w, "======================================================================")
	fmt.Fprintf(w, "Total Measurements:        %d\n", s.TotalMeasurements)
	fmt.Fprintf(w, "Total Links in Topology:   %d\n", s.TotalLinks)
	fmt.Fprintf(w, "Average Active Links:      %.1f/%d\n", s.AvgActiveLinks, s.TotalLinks)
	if s.TotalLinks > 0 {
		fmt.Fprintf(w, "Average Link Utilization:  %.1f%%\n", s.AvgActiveLinks/float64(s.TotalLinks)*100)
	}
	fmt.Fprintln(w, "----------------------------------------------------------------------")
	fmt.Fprintf(w, "FPLF Power (avg):          %.2f W\n", s.AvgFPLFWatts)
	fmt.Fprintf(w, "Baseline Power (avg):      %.2f W\n", s.AvgBaselineWatts)
	fmt.Fprintf(w, "Power Saved (avg):         %.2f W\n", s.AvgBaselineWatts-s.AvgFPLFWatts)
	fmt.Fprintln(w, "----------------------------------------------------------------------")
	fmt.Fprintf(w, "Energy Savings (avg):      %.2f%%\n", s.AvgSavedPercent)
	fmt.Fprintf(w, "Energy Savings (max):      %.2f%%\n", s.MaxSavedPercent)
	fmt.Fprintf(w, "Energy Savings (min):      %.2f%%\n", s.MinSavedPercent)
	fmt.Fprintln(w, "----------------------------------------------------------------------")
	fmt.Fprintf(w, "Cumulative Energy Saved:   %.4f Wh\n", s.CumulativeSavingsWh)
	fmt.Fprintf(w, "                          (%.6f kWh)\n", s.CumulativeSavingsKWh)
	fmt.Fprintln(w, "======================================================================")
	if csvPath != "" {
		fmt.Fprintf(w, "Energy data exported to: %s\n", csvPath)
	}
	fmt.Fprintln(w, "======================================================================")
	fmt.Fprintln(w)
}

// ActiveThreshold is the minimum tx-byte delta over a poll interval for a
// port to be classified active rather than idle (spec.md §4.8).
const ActiveThreshold = 1

// ClassifyPort reports whether a port counts as active given the byte
// count observed at the start and end of a poll interval.
func ClassifyPort(txBytesStart, txBytesEnd uint64) bool {
	return txBytesEnd > txBytesStart && txBytesEnd-txBytesStart >= ActiveThreshold
}
