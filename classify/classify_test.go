package classify

import (
	"strings"
	"testing"
)

const sampleCSV = `src_host,dst_host,dst_port,protocol,traffic_type,total_bytes,flow_duration
10.0.0.1,10.0.0.2,554,tcp,VIDEO,1000000,2
10.0.0.1,10.0.0.3,22,tcp,SSH,5000,1
10.0.0.1,10.0.0.4,80,tcp,HTTP,20000,4
`

func TestParseAndLookup(t *testing.T) {
	table, err := parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", table.Len())
	}

	e := table.Lookup(Key{SrcHost: "10.0.0.1", DstHost: "10.0.0.2", DstPort: 554, Protocol: "tcp"})
	if e.TrafficType != Video {
		t.Fatalf("TrafficType = %v, want VIDEO", e.TrafficType)
	}
	wantBW := (1000000.0 * 8) / 2
	if e.BandwidthHint != wantBW {
		t.Fatalf("BandwidthHint = %v, want %v", e.BandwidthHint, wantBW)
	}
}

func TestLookupMissReturnsUnknown(t *testing.T) {
	table, err := parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	e := table.Lookup(Key{SrcHost: "nope", DstHost: "nope", DstPort: 1, Protocol: "tcp"})
	if e.TrafficType != Unknown || e.BandwidthHint != 0 {
		t.Fatalf("unexpected entry for miss: %+v", e)
	}
}

func TestEmptyTableAlwaysMisses(t *testing.T) {
	table := Empty()
	e := table.Lookup(Key{SrcHost: "a", DstHost: "b", DstPort: 1, Protocol: "tcp"})
	if e.TrafficType != Unknown {
		t.Fatalf("expected Unknown from empty table, got %v", e.TrafficType)
	}
}

func TestNilTableLookup(t *testing.T) {
	var table *Table
	if e := table.Lookup(Key{}); e.TrafficType != Unknown {
		t.Fatalf("nil table lookup should be Unknown, got %v", e.TrafficType)
	}
	if table.Len() != 0 {
		t.Fatalf("nil table Len() = %d, want 0", table.Len())
	}
}

func TestPriorityOrdering(t *testing.T) {
	want := map[TrafficType]int{Unknown: 0, FTP: 1, HTTP: 2, SSH: 3, Video: 4}
	for tt, p := range want {
		if tt.Priority() != p {
			t.Fatalf("%v.Priority() = %d, want %d", tt, tt.Priority(), p)
		}
	}
	if MaxPriority != 4 {
		t.Fatalf("MaxPriority = %d, want 4", MaxPriority)
	}
}

func TestMissingRequiredColumn(t *testing.T) {
	bad := "src_host,dst_host\na,b\n"
	if _, err := parse(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for missing required columns")
	}
}
