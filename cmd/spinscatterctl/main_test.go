package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spinscatter/internal/stats"
)

const ringYAML = `
name: ring
model: heisenberg
generate:
  kind: chain
  size: [4]
  periodic: true
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeLattice(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ring.yaml")
	if err := os.WriteFile(path, []byte(ringYAML), 0o644); err != nil {
		t.Fatalf("write lattice: %v", err)
	}
	return path
}

func TestRunRunsAndExportCommands(t *testing.T) {
	base := t.TempDir()
	latticePath := writeLattice(t, base)
	dataDir := filepath.Join(base, "runs")

	out, logs, err := execute(t, "run",
		"--lattice", latticePath,
		"--data-dir", dataDir,
		"--run-id", "cli-1",
		"--store", "csv",
		"--temperatures", "1.0,0.5",
		"--equilibration-sweeps", "2",
		"--sweeps", "6",
		"--workers", "2",
		"--anneal",
		"--anneal-sweeps", "10",
		"--fourier",
		"--q-count", "3",
		"--q-direction", "0,1,0",
		"--plot-energy",
		"--plot-format", "svg",
	)
	if err != nil {
		t.Fatalf("run command: %v\n%s", err, logs)
	}
	if !strings.Contains(out, "run_id=cli-1") || !strings.Contains(out, "rows=12") || !strings.Contains(out, "spectrum segments=2 q_points=3") {
		t.Fatalf("unexpected run output: %s", out)
	}
	if !strings.Contains(out, "ground_state_energy=") {
		t.Fatalf("expected ground state energy in output: %s", out)
	}
	if !strings.Contains(logs, "run complete") {
		t.Fatalf("expected info logs on stderr: %s", logs)
	}
	for _, name := range []string{"trajectory.csv", "energy_q0.svg", "energy_trace.svg", "spectrum.csv"} {
		if _, err := os.Stat(filepath.Join(dataDir, "cli-1", name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	params, ok, err := stats.ReadParameters(dataDir, "cli-1")
	if err != nil || !ok {
		t.Fatalf("read parameters: ok=%t err=%v", ok, err)
	}
	values := map[string]any{}
	for _, p := range params {
		values[p.Name] = p.Value
	}
	if got, ok := values["schedule"].([]any); !ok || len(got) != 2 || got[1] != 0.5 {
		t.Fatalf("expected flag schedule in parameters, got %#v", values["schedule"])
	}
	if got, ok := values["q_direction"].([]any); !ok || len(got) != 3 || got[1] != 1.0 {
		t.Fatalf("expected flag q direction in parameters, got %#v", values["q_direction"])
	}

	out, _, err = execute(t, "runs", "--data-dir", dataDir, "--json")
	if err != nil {
		t.Fatalf("runs command: %v", err)
	}
	var items []struct {
		RunID    string `json:"run_id"`
		Rows     int    `json:"rows"`
		Annealed bool   `json:"annealed"`
		Analyzed bool   `json:"analyzed"`
	}
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode runs json: %v\n%s", err, out)
	}
	if len(items) != 1 || items[0].RunID != "cli-1" || items[0].Rows != 12 || !items[0].Annealed || !items[0].Analyzed {
		t.Fatalf("unexpected runs: %+v", items)
	}

	exportDir := filepath.Join(base, "exports")
	out, _, err = execute(t, "export", "--data-dir", dataDir, "--latest", "--out", exportDir)
	if err != nil {
		t.Fatalf("export command: %v", err)
	}
	if !strings.Contains(out, "exported run_id=cli-1") {
		t.Fatalf("unexpected export output: %s", out)
	}
	if _, err := os.Stat(filepath.Join(exportDir, "cli-1", "parameters.json")); err != nil {
		t.Fatalf("expected exported parameters: %v", err)
	}
}

func TestAnalyzeCommandUsesStoredTrajectory(t *testing.T) {
	base := t.TempDir()
	latticePath := writeLattice(t, base)
	dataDir := filepath.Join(base, "runs")
	common := []string{"--lattice", latticePath, "--data-dir", dataDir, "--temperatures", "0.8", "--sweeps", "8", "--equilibration-sweeps", "1", "--workers", "2"}

	if _, logs, err := execute(t, append([]string{"run", "--run-id", "sim"}, common...)...); err != nil {
		t.Fatalf("run command: %v\n%s", err, logs)
	}
	datafile := filepath.Join(dataDir, "sim", "trajectory.db")

	out, logs, err := execute(t, append([]string{"analyze", "--run-id", "fft", "--datafile", datafile, "--datafile-run", "sim", "--q-count", "2"}, common...)...)
	if err != nil {
		t.Fatalf("analyze command: %v\n%s", err, logs)
	}
	if !strings.Contains(out, "run_id=fft") || !strings.Contains(out, "spectrum segments=1 q_points=2") || !strings.Contains(out, "datafile="+datafile) {
		t.Fatalf("unexpected analyze output: %s", out)
	}

	if _, _, err := execute(t, append([]string{"analyze"}, common...)...); err == nil {
		t.Fatal("expected analyze without datafile to fail")
	}
}

func TestAnnealCommandWritesGroundState(t *testing.T) {
	base := t.TempDir()
	latticePath := writeLattice(t, base)
	outPath := filepath.Join(base, "ground.json")

	out, logs, err := execute(t, "anneal", "--lattice", latticePath, "--workers", "2", "--anneal-sweeps", "10", "--temperatures", "1.0,0.1", "--out", outPath, "--log-level", "error")
	if err != nil {
		t.Fatalf("anneal command: %v", err)
	}
	if logs != "" {
		t.Fatalf("expected no logs at error level, got %s", logs)
	}
	if !strings.Contains(out, "lattice=ring") || !strings.Contains(out, "workers=2") {
		t.Fatalf("unexpected anneal output: %s", out)
	}
	state, err := stats.ReadGroundState(outPath)
	if err != nil {
		t.Fatalf("read ground state: %v", err)
	}
	if len(state.Spins) != 4 {
		t.Fatalf("expected 4 spins, got %d", len(state.Spins))
	}
}

func TestConfigFileSuppliesOptions(t *testing.T) {
	base := t.TempDir()
	latticePath := writeLattice(t, base)
	dataDir := filepath.Join(base, "runs")
	configPath := filepath.Join(base, "run.yaml")
	body := "lattice: " + latticePath + "\n" +
		"data_dir: " + dataDir + "\n" +
		"store: memory\n" +
		"workers: 2\n" +
		"sweeps: 4\n" +
		"equilibration_sweeps: 0\n" +
		"schedule:\n  temperatures: [1.5]\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, _, err := execute(t, "run", "--config", configPath, "--run-id", "from-file", "--sweeps", "6")
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	if !strings.Contains(out, "run_id=from-file") || !strings.Contains(out, "rows=6") || !strings.Contains(out, "temperatures=1") {
		t.Fatalf("flags should override the config file: %s", out)
	}
	if strings.Contains(out, "datafile=") {
		t.Fatalf("memory store should not report a datafile: %s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	if _, _, err := execute(t, "run", "--data-dir", t.TempDir()); err == nil {
		t.Fatal("expected run without lattice to fail")
	}
	if _, _, err := execute(t, "bogus"); err == nil {
		t.Fatal("expected unknown command to fail")
	}
	if _, _, err := execute(t, "runs", "--limit", "0"); err == nil {
		t.Fatal("expected non-positive limit to fail")
	}
	if _, _, err := execute(t, "export", "--data-dir", t.TempDir()); err == nil {
		t.Fatal("expected export without selector to fail")
	}
	if _, _, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing config file to fail")
	}
}
