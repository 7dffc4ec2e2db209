// Package config resolves the run configuration from defaults, an optional
// YAML file, SPINSCATTER_* environment variables and bound flags.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"

	"spinscatter/internal/lattice"
	"spinscatter/internal/model"
	"spinscatter/internal/render"
	"spinscatter/internal/schedule"
)

const EnvPrefix = "SPINSCATTER"

// RunConfig enumerates every recognized run option.
type RunConfig struct {
	RunID       string `mapstructure:"run_id"`
	Lattice     string `mapstructure:"lattice"`
	DataDir     string `mapstructure:"data_dir"`
	Store       string `mapstructure:"store"`
	Datafile    string `mapstructure:"datafile"`
	DatafileRun string `mapstructure:"datafile_run"`

	Anneal            bool   `mapstructure:"anneal"`
	Fourier           bool   `mapstructure:"fourier"`
	ShouldPlotSpins   bool   `mapstructure:"should_plot_spins"`
	ShouldPlotEnergy  bool   `mapstructure:"should_plot_energy"`
	ShouldPlotNeutron bool   `mapstructure:"should_plot_neutron"`
	PlotFormat        string `mapstructure:"plot_format"`

	Workers             int           `mapstructure:"workers"`
	Seed                int64         `mapstructure:"seed"`
	Schedule            schedule.Spec `mapstructure:"schedule"`
	AnnealSchedule      schedule.Spec `mapstructure:"anneal_schedule"`
	AnnealSweeps        int           `mapstructure:"anneal_sweeps"`
	EquilibrationSweeps int           `mapstructure:"equilibration_sweeps"`
	Sweeps              int           `mapstructure:"sweeps"`
	SampleInterval      int           `mapstructure:"sample_interval"`
	Proposal            string        `mapstructure:"proposal"`
	ConeWidth           float64       `mapstructure:"cone_width"`

	TimeStep   float64   `mapstructure:"time_step"`
	Planck     float64   `mapstructure:"planck"`
	QMax       float64   `mapstructure:"q_max"`
	QCount     int       `mapstructure:"q_count"`
	QDirection []float64 `mapstructure:"q_direction"`
	FixedQ     int       `mapstructure:"fixed_q"`

	LogLevel string `mapstructure:"log_level"`
}

// SetDefaults installs the default of every option on v. Options without
// a meaningful default are registered with their zero value, since
// AutomaticEnv only reaches Unmarshal for keys viper already knows.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("run_id", "")
	v.SetDefault("lattice", "")
	v.SetDefault("datafile", "")
	v.SetDefault("datafile_run", "")

	v.SetDefault("anneal", false)
	v.SetDefault("fourier", false)
	v.SetDefault("should_plot_spins", false)
	v.SetDefault("should_plot_energy", false)
	v.SetDefault("should_plot_neutron", false)

	v.SetDefault("schedule.temperatures", []float64{})
	v.SetDefault("schedule.step", 0.0)
	v.SetDefault("anneal_schedule.temperatures", []float64{})
	v.SetDefault("anneal_schedule.start", 0.0)
	v.SetDefault("anneal_schedule.end", 0.0)
	v.SetDefault("anneal_schedule.step", 0.0)
	v.SetDefault("anneal_schedule.cooling_rate", 0.0)
	v.SetDefault("proposal", "")
	v.SetDefault("cone_width", 0.0)

	v.SetDefault("data_dir", "runs")
	v.SetDefault("store", "sqlite")
	v.SetDefault("plot_format", "png")

	v.SetDefault("workers", 8)
	v.SetDefault("seed", 1)
	v.SetDefault("schedule.start", 3.0)
	v.SetDefault("schedule.end", 0.1)
	v.SetDefault("schedule.cooling_rate", 0.8)
	v.SetDefault("anneal_sweeps", 200)
	v.SetDefault("equilibration_sweeps", 100)
	v.SetDefault("sweeps", 1000)
	v.SetDefault("sample_interval", 1)

	v.SetDefault("time_step", 1.0)
	v.SetDefault("planck", 1.0)
	v.SetDefault("q_max", math.Pi)
	v.SetDefault("q_count", 16)
	v.SetDefault("q_direction", []float64{1, 0, 0})
	v.SetDefault("fixed_q", 0)

	v.SetDefault("log_level", "info")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Read merges the YAML file at path into v. An empty path is a no-op.
func Read(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load reads path into v when path is set, then unmarshals and validates.
func Load(v *viper.Viper, path string) (RunConfig, error) {
	if err := Read(v, path); err != nil {
		return RunConfig{}, err
	}
	var cfg RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RunConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

func (c RunConfig) Validate() error {
	if strings.TrimSpace(c.Lattice) == "" {
		return errors.New("lattice file is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	switch c.Store {
	case "memory", "sqlite", "csv":
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store)
	}
	if !render.ValidFormat(strings.ToLower(c.PlotFormat)) {
		return fmt.Errorf("unsupported plot format: %s", c.PlotFormat)
	}
	if c.Sweeps < 1 {
		return fmt.Errorf("sweeps must be >= 1, got %d", c.Sweeps)
	}
	if c.EquilibrationSweeps < 0 {
		return fmt.Errorf("equilibration sweeps must be >= 0, got %d", c.EquilibrationSweeps)
	}
	if c.SampleInterval < 1 || c.SampleInterval > c.Sweeps {
		return fmt.Errorf("sample interval must be in [1, %d], got %d", c.Sweeps, c.SampleInterval)
	}
	if _, err := c.SimulationSchedule(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if c.Anneal {
		if c.AnnealSweeps < 1 {
			return fmt.Errorf("anneal sweeps must be >= 1, got %d", c.AnnealSweeps)
		}
		if _, err := c.AnnealingSchedule(); err != nil {
			return fmt.Errorf("anneal schedule: %w", err)
		}
	}
	if _, err := lattice.NewProposer(c.Proposal, c.ConeWidth); err != nil {
		return err
	}
	if c.TimeStep <= 0 {
		return fmt.Errorf("time step must be > 0, got %v", c.TimeStep)
	}
	if c.Planck <= 0 {
		return fmt.Errorf("planck constant must be > 0, got %v", c.Planck)
	}
	if c.QCount < 1 {
		return fmt.Errorf("q count must be >= 1, got %d", c.QCount)
	}
	if c.FixedQ < 0 || c.FixedQ >= c.QCount {
		return fmt.Errorf("fixed q must be in [0, %d), got %d", c.QCount, c.FixedQ)
	}
	if len(c.QDirection) != 0 && len(c.QDirection) != 3 {
		return fmt.Errorf("q direction needs 3 components, got %d", len(c.QDirection))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.LogLevel)
	}
	return nil
}

func (c RunConfig) SimulationSchedule() (schedule.Schedule, error) {
	s, err := schedule.New(c.Schedule)
	if err != nil {
		return schedule.Schedule{}, err
	}
	return s, s.Validate()
}

// AnnealingSchedule falls back to the simulation schedule when no
// dedicated annealing schedule is configured.
func (c RunConfig) AnnealingSchedule() (schedule.Schedule, error) {
	spec := c.AnnealSchedule
	if isZeroSpec(spec) {
		spec = c.Schedule
	}
	s, err := schedule.New(spec)
	if err != nil {
		return schedule.Schedule{}, err
	}
	return s, s.ValidateAnnealing()
}

func isZeroSpec(s schedule.Spec) bool {
	return len(s.Temperatures) == 0 && s.Start == 0 && s.End == 0 && s.Step == 0 && s.CoolingRate == 0
}

// Proposer resolves the proposal for m. Without an explicit choice Ising
// lattices flip and Heisenberg lattices use cone moves.
func (c RunConfig) Proposer(m lattice.SpinModel) (lattice.Proposer, error) {
	kind := c.Proposal
	if kind == "" && m == lattice.Heisenberg {
		kind = string(lattice.ProposalCone)
	}
	p, err := lattice.NewProposer(kind, c.ConeWidth)
	if err != nil {
		return lattice.Proposer{}, err
	}
	return p, p.Check(m)
}

func (c RunConfig) QDirectionVec() model.Vec3 {
	if len(c.QDirection) != 3 {
		return model.Vec3{X: 1}
	}
	return model.Vec3{X: c.QDirection[0], Y: c.QDirection[1], Z: c.QDirection[2]}
}
