package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spinscatter/internal/config"
	"spinscatter/internal/simulate"
	"spinscatter/internal/stats"
	"spinscatter/internal/storage"
)

const dimerYAML = `
name: dimer
model: ising
particles:
  - position: [0, 0, 0]
    spin: [1]
  - position: [1, 0, 0]
    spin: [-1]
couplings:
  - from: 0
    to: 1
    strength: 1
`

const runYAML = `
lattice: %LATTICE%
data_dir: %DATA%
workers: 2
seed: 3
schedule:
  temperatures: [2.0, 1.0, 0.1]
anneal_sweeps: 100
equilibration_sweeps: 5
sweeps: 10
q_count: 4
plot_format: svg
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func loadConfig(t *testing.T, latticeBody string, set map[string]any) config.RunConfig {
	t.Helper()
	dir := t.TempDir()
	latticePath := writeFile(t, dir, "lattice.yaml", latticeBody)
	body := strings.NewReplacer("%LATTICE%", latticePath, "%DATA%", filepath.Join(dir, "runs")).Replace(runYAML)
	configPath := writeFile(t, dir, "run.yaml", body)

	v := config.NewViper()
	for k, val := range set {
		v.Set(k, val)
	}
	cfg, err := config.Load(v, configPath)
	require.NoError(t, err)
	return cfg
}

func fixedDeps(runID string) Deps {
	return Deps{
		Now:      func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
		NewRunID: func() string { return runID },
	}
}

func TestRunDimerEndToEnd(t *testing.T) {
	cfg := loadConfig(t, dimerYAML, map[string]any{
		"anneal":              true,
		"fourier":             true,
		"should_plot_spins":   true,
		"should_plot_energy":  true,
		"should_plot_neutron": true,
	})
	ctx := context.Background()

	traj, res, err := Run(ctx, cfg, fixedDeps("run-a"))
	require.NoError(t, err)
	require.Len(t, traj.Rows, 30)
	assert.Equal(t, "run-a", traj.RunID)
	assert.Equal(t, storage.CurrentVersion(), traj.VersionedRecord)
	assert.Equal(t, []float64{2.0, 1.0, 0.1}, traj.Temperatures())

	require.NotNil(t, res.Anneal)
	assert.InDelta(t, -1.0, res.Anneal.Best.Energy, 1e-12)
	require.NotNil(t, res.Spectrum)
	assert.Len(t, res.Spectrum.Segments, 3)
	assert.Len(t, res.Spectrum.QPoints, 4)
	assert.Len(t, res.Thermodynamics, 3)

	runDir := filepath.Join(cfg.DataDir, "run-a")
	assert.Equal(t, runDir, res.RunDir)
	assert.Equal(t, filepath.Join(runDir, "trajectory.db"), res.Datafile)
	for _, name := range []string{
		"parameters.json", "energy_series.csv", "thermodynamics.json", "spectrum.csv", "trajectory.db",
		"spin_plot.svg", "energy_trace.svg", "energy_q0.svg",
		"intensity_T2.svg", "intensity_T1.svg", "intensity_T0.1.svg",
	} {
		assert.FileExists(t, filepath.Join(runDir, name))
	}
	assert.Len(t, res.Plots, 6)

	params, ok, err := stats.ReadParameters(cfg.DataDir, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, params)
	assert.Equal(t, "run_id", params[0].Name)
	assert.Equal(t, "run-a", params[0].Value)

	index, err := stats.ListRunIndex(cfg.DataDir)
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.True(t, index[0].Annealed)
	assert.True(t, index[0].Analyzed)
	assert.Equal(t, 30, index[0].Rows)
	assert.Equal(t, "2026-01-02T03:04:05Z", index[0].CreatedAtUTC)

	store, err := storage.NewStore("sqlite", res.Datafile)
	require.NoError(t, err)
	defer storage.CloseIfSupported(store)
	require.NoError(t, store.Init(ctx))
	saved, ok, err := store.GetTrajectory(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, traj, saved)
	spectrum, ok, err := store.GetSpectrum(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Spectrum.Segments, spectrum.Segments)
}

func TestRunReloadsDatafile(t *testing.T) {
	cfg := loadConfig(t, dimerYAML, map[string]any{"store": "csv"})
	ctx := context.Background()

	first, res, err := Run(ctx, cfg, fixedDeps("sim"))
	require.NoError(t, err)
	assert.Nil(t, res.Spectrum)
	assert.Nil(t, res.Anneal)
	require.Equal(t, filepath.Join(res.RunDir, "trajectory.csv"), res.Datafile)

	again := cfg
	again.RunID = "replay"
	again.Datafile = res.Datafile
	again.Fourier = true
	second, res2, err := Run(ctx, again, Deps{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, res.Datafile, res2.Datafile)
	require.NotNil(t, res2.Spectrum)
	assert.Equal(t, "sim", res2.Spectrum.RunID)
	assert.NoFileExists(t, filepath.Join(res2.RunDir, "trajectory.csv"))

	index, err := stats.ListRunIndex(cfg.DataDir)
	require.NoError(t, err)
	assert.Len(t, index, 2)

	again.DatafileRun = "missing"
	_, _, err = Run(ctx, again, Deps{})
	assert.Error(t, err)

	again.DatafileRun = ""
	again.Datafile = filepath.Join(t.TempDir(), "absent.db")
	_, _, err = Run(ctx, again, Deps{})
	assert.Error(t, err)
}

func TestRunMemoryStoreKeepsNoDatafile(t *testing.T) {
	cfg := loadConfig(t, dimerYAML, map[string]any{"store": "memory", "fourier": true})
	traj, res, err := Run(context.Background(), cfg, fixedDeps("mem"))
	require.NoError(t, err)
	assert.Len(t, traj.Rows, 30)
	assert.Empty(t, res.Datafile)
	assert.NotNil(t, res.Spectrum)
}

func TestRunDivergencePersistsNoTrajectory(t *testing.T) {
	diverging := dimerYAML + "field: [1.7976931348623157e308]\n"
	cfg := loadConfig(t, diverging, map[string]any{"equilibration_sweeps": 0, "fourier": true})

	_, _, err := Run(context.Background(), cfg, fixedDeps("boom"))
	require.Error(t, err)
	assert.ErrorIs(t, err, simulate.ErrSimulationDivergence)

	runDir := filepath.Join(cfg.DataDir, "boom")
	assert.FileExists(t, filepath.Join(runDir, "parameters.json"))
	assert.NoFileExists(t, filepath.Join(runDir, "trajectory.db"))
	assert.NoFileExists(t, filepath.Join(runDir, "spectrum.csv"))
	index, err := stats.ListRunIndex(cfg.DataDir)
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestAnnealOnly(t *testing.T) {
	cfg := loadConfig(t, dimerYAML, nil)
	l, res, err := Anneal(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "dimer", l.Name)
	assert.Len(t, res.Workers, 2)
	assert.InDelta(t, -1.0, res.Best.Energy, 1e-12)
	assert.Equal(t, res.Best.Spins, l.Configuration().Spins)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := loadConfig(t, dimerYAML, nil)
	cfg.Workers = 0
	_, _, err := Run(context.Background(), cfg, Deps{})
	assert.Error(t, err)
}

func TestRunScheduleWithPlateauReloadsAndAnalyzes(t *testing.T) {
	cfg := loadConfig(t, dimerYAML, map[string]any{
		"anneal":                true,
		"fourier":               true,
		"should_plot_neutron":   true,
		"schedule.temperatures": []float64{2.0, 2.0, 1.0},
	})
	ctx := context.Background()

	traj, res, err := Run(ctx, cfg, fixedDeps("plateau"))
	require.NoError(t, err)
	require.Len(t, traj.Rows, 30)
	require.NotNil(t, res.Spectrum)
	require.Len(t, res.Spectrum.Segments, 3)
	assert.Len(t, res.Thermodynamics, 3)
	runDir := filepath.Join(cfg.DataDir, "plateau")
	for _, name := range []string{"intensity_T2.svg", "intensity_T2_b1.svg", "intensity_T1.svg"} {
		assert.FileExists(t, filepath.Join(runDir, name))
	}

	reload := cfg
	reload.RunID = "plateau-reload"
	reload.Anneal = false
	reload.Datafile = res.Datafile
	reloaded, again, err := Run(ctx, reload, fixedDeps("plateau-reload"))
	require.NoError(t, err)
	assert.Equal(t, traj.Rows[10].Block, reloaded.Rows[10].Block)
	require.NotNil(t, again.Spectrum)
	assert.Len(t, again.Spectrum.Segments, 3)
}
