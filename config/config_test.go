// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stride-data/stride/sterr"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stride.yaml")
	content := `
ios:
  simulation:
    engine: file
    parameters:
      Threads: 4
      AsyncTasks: yes
      InitialBufferSize: 16MiB
      OpenTimeoutSecs: 1.5
    transports:
      - type: file
        preallocate: 256MiB
      - type: tcp
        address: "127.0.0.1:9123"
  analysis:
    engine: stream
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sim, ok := cfg.IO("simulation")
	if !ok {
		t.Fatal("simulation block missing")
	}
	if sim.Engine != "file" {
		t.Errorf("engine = %q, want file", sim.Engine)
	}

	// Scalars of every YAML type come through as parameter strings.
	for key, want := range map[string]string{
		"Threads":           "4",
		"InitialBufferSize": "16MiB",
		"OpenTimeoutSecs":   "1.5",
	} {
		if got := sim.Params.String(key, ""); got != want {
			t.Errorf("param %s = %q, want %q", key, got, want)
		}
	}
	if async, err := sim.Params.Bool("AsyncTasks", false); err != nil || !async {
		t.Errorf("AsyncTasks = %v, %v; want true", async, err)
	}

	if len(sim.Transports) != 2 {
		t.Fatalf("transports = %d, want 2", len(sim.Transports))
	}
	if got := sim.Transports[1].String("address", ""); got != "127.0.0.1:9123" {
		t.Errorf("tcp address = %q", got)
	}

	if analysis, ok := cfg.IO("analysis"); !ok || analysis.Engine != "stream" {
		t.Errorf("analysis block = %+v, %v", analysis, ok)
	}
	if _, ok := cfg.IO("absent"); ok {
		t.Error("IO(absent) reported a block")
	}
}

func TestLoadJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stride.jsonc")
	content := `{
  // engine selection for the writer side
  "ios": {
    "simulation": {
      "engine": "file",
      "parameters": {
        "Threads": 2,
        "MaxBufferSize": 16777216, /* plain byte count */
      },
      "transports": [
        {"type": "file"},
      ],
    },
  },
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sim, ok := cfg.IO("simulation")
	if !ok {
		t.Fatal("simulation block missing")
	}

	// Large JSON integers must not pick up exponent notation on the
	// way to the string form.
	if got := sim.Params.String("MaxBufferSize", ""); got != "16777216" {
		t.Errorf("MaxBufferSize = %q, want 16777216", got)
	}
	if got := sim.Params.String("Threads", ""); got != "2" {
		t.Errorf("Threads = %q, want 2", got)
	}
}

func TestLoadRejectsTransportWithoutType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stride.yaml")
	content := `
ios:
  simulation:
    transports:
      - preallocate: 1MiB
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); !sterr.Is(err, sterr.KindInvalidArgument) {
		t.Errorf("Load = %v, want invalid-argument for a typeless transport", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !sterr.Is(err, sterr.KindIOFailure) {
		t.Errorf("Load on a missing file = %v, want an I/O failure", err)
	}
}

func TestParseYAMLMalformed(t *testing.T) {
	if _, err := ParseYAML([]byte("ios: [unclosed")); !sterr.Is(err, sterr.KindInvalidArgument) {
		t.Errorf("ParseYAML = %v, want invalid-argument", err)
	}
}
