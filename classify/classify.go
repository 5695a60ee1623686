// Package classify loads the Classification Table, an immutable,
// CSV-sourced mapping from flow identity to (traffic type, priority,
// bandwidth hint) consumed by the FPLF Path Engine (spec.md §3, §6).
//
// The table itself is produced offline by a traffic classifier that is not
// part of this controller; the controller only reads it once at startup.
package classify

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// TrafficType is one of the recognised classes, in priority order.
type TrafficType int

const (
	Unknown TrafficType = iota
	FTP
	HTTP
	SSH
	Video
)

func (t TrafficType) String() string {
	switch t {
	case Video:
		return "VIDEO"
	case SSH:
		return "SSH"
	case HTTP:
		return "HTTP"
	case FTP:
		return "FTP"
	default:
		return "UNKNOWN"
	}
}

// Priority returns the traffic type's priority class: VIDEO=4, SSH=3,
// HTTP=2, FTP=1, UNKNOWN=0 (spec.md §3). MaxPriority is the P_max the Path
// Engine's weight function uses.
func (t TrafficType) Priority() int {
	return int(t)
}

// MaxPriority is P_max in the FPLF weight formula.
const MaxPriority = int(Video)

func parseTrafficType(s string) TrafficType {
	switch s {
	case "VIDEO":
		return Video
	case "SSH":
		return SSH
	case "HTTP":
		return HTTP
	case "FTP":
		return FTP
	default:
		return Unknown
	}
}

// Key identifies a flow for classification lookup purposes.
type Key struct {
	SrcHost  string
	DstHost  string
	DstPort  uint16
	Protocol string
}

// Entry is one Classification Table row, resolved to a bandwidth hint in
// bits/s (spec.md §6: bandwidth_hint = total_bytes / flow_duration).
type Entry struct {
	TrafficType   TrafficType
	BandwidthHint float64
}

// unknownEntry is returned for every lookup miss (spec.md §4.1: "default
// to UNKNOWN with priority 0, bandwidth 0").
var unknownEntry = Entry{TrafficType: Unknown}

// Table is a read-only, in-memory Classification Table.
type Table struct {
	rows map[Key]Entry
}

// Empty returns a Table with no entries; every Lookup misses.
func Empty() *Table {
	return &Table{rows: make(map[Key]Entry)}
}

// Load reads a Classification Table from path. Absence of the file is
// non-fatal per spec.md §6: the caller should fall back to Empty() when
// path is unset, but a present-and-unreadable file is still an error.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classify: open %s: %w", path, err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return Empty(), nil
		}
		return nil, fmt.Errorf("classify: read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	required := []string{"src_host", "dst_host", "dst_port", "protocol", "traffic_type", "total_bytes", "flow_duration"}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("classify: missing required column %q", name)
		}
	}

	t := &Table{rows: make(map[Key]Entry)}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("classify: read row: %w", err)
		}

		dstPort, err := strconv.ParseUint(rec[col["dst_port"]], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("classify: invalid dst_port %q: %w", rec[col["dst_port"]], err)
		}
		totalBytes, err := strconv.ParseFloat(rec[col["total_bytes"]], 64)
		if err != nil {
			return nil, fmt.Errorf("classify: invalid total_bytes %q: %w", rec[col["total_bytes"]], err)
		}
		duration, err := strconv.ParseFloat(rec[col["flow_duration"]], 64)
		if err != nil {
			return nil, fmt.Errorf("classify: invalid flow_duration %q: %w", rec[col["flow_duration"]], err)
		}

		var bandwidth float64
		if duration > 0 {
			// total_bytes is bytes; bandwidth_hint is specified in bits/s.
			bandwidth = (totalBytes * 8) / duration
		}

		key := Key{
			SrcHost:  rec[col["src_host"]],
			DstHost:  rec[col["dst_host"]],
			DstPort:  uint16(dstPort),
			Protocol: rec[col["protocol"]],
		}
		t.rows[key] = Entry{
			TrafficType:   parseTrafficType(rec[col["traffic_type"]]),
			BandwidthHint: bandwidth,
		}
	}

	return t, nil
}

// Lookup resolves a flow's classification. A miss (including when the
// table was never loaded) returns Unknown with zero bandwidth, never an
// error (spec.md §4.1, §7 "classification lookup miss").
func (t *Table) Lookup(k Key) Entry {
	if t == nil {
		return unknownEntry
	}
	if e, ok := t.rows[k]; ok {
		return e
	}
	return unknownEntry
}

// Len returns the number of rows loaded.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}
