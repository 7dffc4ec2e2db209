package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"spinscatter/internal/lattice"
	"spinscatter/internal/logging"
	"spinscatter/internal/model"
	"spinscatter/internal/schedule"
)

// ErrSimulationDivergence signals a non-finite energy. It is never retried.
var ErrSimulationDivergence = errors.New("simulate: non-finite energy observed")

type Phase int

const (
	PhaseInitialize Phase = iota
	PhaseEquilibrate
	PhaseSample
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseInitialize:
		return "initialize"
	case PhaseEquilibrate:
		return "equilibrate"
	case PhaseSample:
		return "sample"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type DivergenceError struct {
	Step        int
	Phase       Phase
	Temperature float64
	Energy      float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%v: step=%d phase=%s T=%v energy=%v", ErrSimulationDivergence, e.Step, e.Phase, e.Temperature, e.Energy)
}

func (e *DivergenceError) Unwrap() error {
	return ErrSimulationDivergence
}

// Engine advances a lattice through Monte Carlo sweeps. For every
// temperature it runs EquilibrationSweeps unrecorded sweeps, then
// SampleSweeps sweeps recording one row every SampleInterval sweeps. Row
// steps are the global sweep count, so rows of one temperature are evenly
// spaced by SampleInterval.
type Engine struct {
	EquilibrationSweeps int
	SampleSweeps        int
	SampleInterval      int
	Proposer            lattice.Proposer
	Seed                int64
	Logger              logrus.FieldLogger
	// OnPhase is called on every phase transition.
	OnPhase func(phase Phase, temperature float64)
}

func (e *Engine) validate() error {
	if e == nil {
		return errors.New("engine is required")
	}
	if e.EquilibrationSweeps < 0 {
		return errors.New("equilibration sweeps must be >= 0")
	}
	if e.SampleSweeps <= 0 {
		return errors.New("sample sweeps must be > 0")
	}
	if e.SampleInterval <= 0 {
		return errors.New("sample interval must be > 0")
	}
	if e.SampleInterval > e.SampleSweeps {
		return fmt.Errorf("sample interval %d exceeds sample sweeps %d", e.SampleInterval, e.SampleSweeps)
	}
	return nil
}

// RowsPerTemperature is the number of rows recorded at each temperature.
func (e *Engine) RowsPerTemperature() int {
	if e.SampleInterval <= 0 {
		return 0
	}
	return e.SampleSweeps / e.SampleInterval
}

// Run evolves a private copy of initial (or of the spins stored on the
// lattice when initial is nil) and returns the recorded trajectory.
func (e *Engine) Run(ctx context.Context, l *lattice.Lattice, initial *lattice.Configuration, s schedule.Schedule) (model.Trajectory, error) {
	if err := ctx.Err(); err != nil {
		return model.Trajectory{}, err
	}
	if err := e.validate(); err != nil {
		return model.Trajectory{}, err
	}
	if err := l.Validate(); err != nil {
		return model.Trajectory{}, err
	}
	if err := s.Validate(); err != nil {
		return model.Trajectory{}, err
	}
	if err := e.Proposer.Check(l.Model); err != nil {
		return model.Trajectory{}, err
	}
	log := logging.OrDiscard(e.Logger)
	temps := s.Temperatures()

	e.enter(PhaseInitialize, temps[0])
	var cfg lattice.Configuration
	if initial != nil {
		if len(initial.Spins) != l.Len() {
			return model.Trajectory{}, fmt.Errorf("initial configuration has %d spins, lattice has %d", len(initial.Spins), l.Len())
		}
		cfg = initial.Clone()
	} else {
		cfg = l.Configuration()
	}
	cfg.Energy = l.Energy(cfg.Spins)
	if !cfg.Finite() {
		return model.Trajectory{}, &DivergenceError{Phase: PhaseInitialize, Temperature: temps[0], Energy: cfg.Energy}
	}

	rng := rand.New(rand.NewSource(e.Seed))
	traj := model.Trajectory{
		Sites: l.Len(),
		Rows:  make([]model.TrajectoryRow, 0, len(temps)*e.RowsPerTemperature()),
	}
	step := 0
	for block, temperature := range temps {
		e.enter(PhaseEquilibrate, temperature)
		for sweep := 0; sweep < e.EquilibrationSweeps; sweep++ {
			if err := ctx.Err(); err != nil {
				return model.Trajectory{}, err
			}
			lattice.Sweep(rng, l, &cfg, temperature, e.Proposer)
			step++
			if !cfg.Finite() {
				return model.Trajectory{}, &DivergenceError{Step: step, Phase: PhaseEquilibrate, Temperature: temperature, Energy: cfg.Energy}
			}
		}

		e.enter(PhaseSample, temperature)
		accepted := 0
		for sweep := 1; sweep <= e.SampleSweeps; sweep++ {
			if err := ctx.Err(); err != nil {
				return model.Trajectory{}, err
			}
			accepted += lattice.Sweep(rng, l, &cfg, temperature, e.Proposer)
			step++
			if !cfg.Finite() {
				return model.Trajectory{}, &DivergenceError{Step: step, Phase: PhaseSample, Temperature: temperature, Energy: cfg.Energy}
			}
			if sweep%e.SampleInterval == 0 {
				traj.Rows = append(traj.Rows, model.TrajectoryRow{
					Step:          step,
					Block:         block,
					Temperature:   temperature,
					Energy:        cfg.Energy,
					Magnetization: lattice.Magnetization(cfg.Spins),
					Spins:         append([]model.Vec3(nil), cfg.Spins...),
				})
			}
		}
		log.WithFields(logrus.Fields{
			"temperature": temperature,
			"energy":      cfg.Energy,
			"acceptance":  float64(accepted) / float64(e.SampleSweeps*l.Len()),
		}).Debug("temperature sampled")
	}
	e.enter(PhaseComplete, temps[len(temps)-1])
	return traj, nil
}

func (e *Engine) enter(p Phase, temperature float64) {
	if e.OnPhase != nil {
		e.OnPhase(p, temperature)
	}
}

// RunReplicas runs independent copies of the engine with seeds Seed,
// Seed+1, ... in parallel. Each replica owns its spins; the first failure
// cancels the rest.
func (e *Engine) RunReplicas(ctx context.Context, l *lattice.Lattice, initial *lattice.Configuration, s schedule.Schedule, replicas int) ([]model.Trajectory, error) {
	if replicas <= 0 {
		return nil, errors.New("replicas must be > 0")
	}
	out := make([]model.Trajectory, replicas)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for r := 0; r < replicas; r++ {
		r := r
		replica := *e
		replica.Seed = e.Seed + int64(r)
		replica.OnPhase = nil
		var start *lattice.Configuration
		if initial != nil {
			cp := initial.Clone()
			start = &cp
		}
		g.Go(func() error {
			traj, err := replica.Run(gctx, l, start, s)
			if err != nil {
				return fmt.Errorf("replica %d: %w", r, err)
			}
			out[r] = traj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
