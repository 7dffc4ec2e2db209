package config

import (
	"os"
	"path/filepath"
	"testing"

	"spinscatter/internal/lattice"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
lattice: dimer.yaml
anneal: true
fourier: true
should_plot_energy: true
schedule:
  temperatures: [2.0, 1.0, 0.1]
sweeps: 10
store: csv
`)
	cfg, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Lattice != "dimer.yaml" || !cfg.Anneal || !cfg.Fourier || !cfg.ShouldPlotEnergy || cfg.ShouldPlotSpins {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
	if cfg.Workers != 8 || cfg.DataDir != "runs" || cfg.PlotFormat != "png" || cfg.Store != "csv" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	s, err := cfg.SimulationSchedule()
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := s.Temperatures(); len(got) != 3 || got[2] != 0.1 {
		t.Fatalf("unexpected schedule: %v", got)
	}
	a, err := cfg.AnnealingSchedule()
	if err != nil {
		t.Fatalf("anneal schedule: %v", err)
	}
	if a.Len() != 3 {
		t.Fatalf("expected annealing to reuse the simulation schedule, got %v", a.Temperatures())
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SPINSCATTER_LATTICE", "chain.yaml")
	t.Setenv("SPINSCATTER_WORKERS", "3")
	t.Setenv("SPINSCATTER_SCHEDULE_COOLING_RATE", "0.5")

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Lattice != "chain.yaml" || cfg.Workers != 3 || cfg.Schedule.CoolingRate != 0.5 {
		t.Fatalf("environment not applied: %+v", cfg)
	}
}

func TestLoadReadsEnvironmentForKeysWithoutDefaults(t *testing.T) {
	t.Setenv("SPINSCATTER_LATTICE", "chain.yaml")
	t.Setenv("SPINSCATTER_RUN_ID", "env-run")
	t.Setenv("SPINSCATTER_DATAFILE", "old.db")
	t.Setenv("SPINSCATTER_DATAFILE_RUN", "r1")
	t.Setenv("SPINSCATTER_ANNEAL", "true")
	t.Setenv("SPINSCATTER_FOURIER", "true")
	t.Setenv("SPINSCATTER_SHOULD_PLOT_NEUTRON", "true")
	t.Setenv("SPINSCATTER_PROPOSAL", "uniform")
	t.Setenv("SPINSCATTER_CONE_WIDTH", "0.25")
	t.Setenv("SPINSCATTER_SCHEDULE_TEMPERATURES", "1.5,0.5")

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RunID != "env-run" || cfg.Datafile != "old.db" || cfg.DatafileRun != "r1" {
		t.Fatalf("string options not applied: %+v", cfg)
	}
	if !cfg.Anneal || !cfg.Fourier || !cfg.ShouldPlotNeutron || cfg.ShouldPlotSpins {
		t.Fatalf("bool options not applied: %+v", cfg)
	}
	if cfg.Proposal != "uniform" || cfg.ConeWidth != 0.25 {
		t.Fatalf("proposal options not applied: %+v", cfg)
	}
	s, err := cfg.SimulationSchedule()
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := s.Temperatures(); len(got) != 2 || got[0] != 1.5 || got[1] != 0.5 {
		t.Fatalf("schedule from environment: %v", got)
	}
}

func TestValidateRejectsBadOptions(t *testing.T) {
	base := func() RunConfig {
		v := NewViper()
		v.Set("lattice", "x.yaml")
		var cfg RunConfig
		if err := v.Unmarshal(&cfg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return cfg
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cases := map[string]func(*RunConfig){
		"no lattice":      func(c *RunConfig) { c.Lattice = "" },
		"no workers":      func(c *RunConfig) { c.Workers = 0 },
		"store":           func(c *RunConfig) { c.Store = "hdf5" },
		"plot format":     func(c *RunConfig) { c.PlotFormat = "gif" },
		"interval":        func(c *RunConfig) { c.SampleInterval = c.Sweeps + 1 },
		"negative equil":  func(c *RunConfig) { c.EquilibrationSweeps = -1 },
		"proposal":        func(c *RunConfig) { c.Proposal = "swap" },
		"fixed q":         func(c *RunConfig) { c.FixedQ = c.QCount },
		"q direction":     func(c *RunConfig) { c.QDirection = []float64{1, 0} },
		"time step":       func(c *RunConfig) { c.TimeStep = 0 },
		"log level":       func(c *RunConfig) { c.LogLevel = "trace" },
		"negative temp":   func(c *RunConfig) { c.Schedule.Temperatures = []float64{1, -1} },
		"warming anneal":  func(c *RunConfig) { c.Anneal = true; c.AnnealSchedule.Temperatures = []float64{0.1, 2} },
		"no anneal sweep": func(c *RunConfig) { c.Anneal = true; c.AnnealSweeps = 0 },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestProposerDefaultsPerModel(t *testing.T) {
	cfg := RunConfig{}
	p, err := cfg.Proposer(lattice.Ising)
	if err != nil || p.Kind != lattice.ProposalFlip {
		t.Fatalf("ising default: %+v %v", p, err)
	}
	p, err = cfg.Proposer(lattice.Heisenberg)
	if err != nil || p.Kind != lattice.ProposalCone {
		t.Fatalf("heisenberg default: %+v %v", p, err)
	}
	cfg.Proposal = "uniform"
	if _, err := cfg.Proposer(lattice.Ising); err == nil {
		t.Fatal("expected ising to reject uniform proposals")
	}
}

func TestParamsUseTaggedVariants(t *testing.T) {
	cfg := RunConfig{
		Lattice:    "dimer.yaml",
		Anneal:     true,
		Workers:    8,
		TimeStep:   0.5,
		QDirection: []float64{0, 1, 0},
	}
	cfg.Schedule.Temperatures = []float64{2, 1}

	kinds := map[string]string{}
	values := map[string]any{}
	for _, p := range cfg.Params() {
		kinds[p.Name] = p.Kind
		values[p.Name] = p.Value
	}
	want := map[string]string{
		"lattice":         "string",
		"anneal":          "bool",
		"workers":         "int",
		"time_step":       "float",
		"q_direction":     "list",
		"schedule":        "list",
		"anneal_schedule": "list",
	}
	for name, kind := range want {
		if kinds[name] != kind {
			t.Fatalf("%s: got kind %q want %q", name, kinds[name], kind)
		}
	}
	temps, ok := values["schedule"].([]float64)
	if !ok || len(temps) != 2 || temps[0] != 2 {
		t.Fatalf("unexpected schedule value %#v", values["schedule"])
	}
	if empty, ok := values["anneal_schedule"].([]float64); !ok || len(empty) != 0 {
		t.Fatalf("unexpected empty schedule value %#v", values["anneal_schedule"])
	}
}
