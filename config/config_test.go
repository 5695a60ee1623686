package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.ControllerListenPort != 6653 {
		t.Fatalf("ControllerListenPort = %d, want 6653", d.ControllerListenPort)
	}
	if d.WeightMode != "raw_load" {
		t.Fatalf("WeightMode = %q, want raw_load", d.WeightMode)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controller.hcl")
	contents := `
controller_listen_port = 7000
weight_mode = "utilization"
classification_csv_path = "classes.csv"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ControllerListenPort != 7000 {
		t.Fatalf("ControllerListenPort = %d, want 7000", cfg.ControllerListenPort)
	}
	if cfg.WeightMode != "utilization" {
		t.Fatalf("WeightMode = %q, want utilization", cfg.WeightMode)
	}
	// Untouched fields keep their default.
	if cfg.MACAgeSeconds != 300 {
		t.Fatalf("MACAgeSeconds = %d, want default 300", cfg.MACAgeSeconds)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Defaults()
	cfg.ControllerListenPort = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidateRejectsBadWeightMode(t *testing.T) {
	cfg := Defaults()
	cfg.WeightMode = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid weight_mode")
	}
}
