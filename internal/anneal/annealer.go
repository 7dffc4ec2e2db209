package anneal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"spinscatter/internal/lattice"
	"spinscatter/internal/logging"
	"spinscatter/internal/schedule"
)

// ErrConvergenceFailure is returned when every worker aborted on a
// non-finite energy.
var ErrConvergenceFailure = errors.New("anneal: every worker produced a non-finite energy")

var errNonFinite = errors.New("non-finite energy")

// WorkerError is a failure contained to one worker.
type WorkerError struct {
	Worker      int
	Temperature float64
	Err         error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("anneal worker %d at T=%v: %v", e.Worker, e.Temperature, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

type Annealer struct {
	Workers              int
	SweepsPerTemperature int
	Proposer             lattice.Proposer
	Seed                 int64
	Logger               logrus.FieldLogger
}

type WorkerResult struct {
	Worker   int
	Initial  lattice.Configuration
	Best     lattice.Configuration
	Accepted int
	Err      error
}

type Result struct {
	Best    lattice.Configuration
	Worker  int
	Workers []WorkerResult
}

func (r Result) Failed() int {
	n := 0
	for _, w := range r.Workers {
		if w.Err != nil {
			n++
		}
	}
	return n
}

// Run starts one search per worker, each from an independent random
// configuration, and returns the lowest-energy configuration seen by any of
// them. The lattice geometry is shared read-only; every worker owns its
// spins.
func (a *Annealer) Run(ctx context.Context, l *lattice.Lattice, s schedule.Schedule) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if a == nil {
		return Result{}, errors.New("annealer is required")
	}
	if a.Workers <= 0 {
		return Result{}, errors.New("workers must be > 0")
	}
	if a.SweepsPerTemperature <= 0 {
		return Result{}, errors.New("sweeps per temperature must be > 0")
	}
	if err := l.Validate(); err != nil {
		return Result{}, err
	}
	if err := s.ValidateAnnealing(); err != nil {
		return Result{}, err
	}
	if err := a.Proposer.Check(l.Model); err != nil {
		return Result{}, err
	}
	log := logging.OrDiscard(a.Logger)

	type job struct {
		worker int
		seed   int64
	}

	jobs := make(chan job)
	results := make(chan WorkerResult, a.Workers)
	temps := s.Temperatures()

	var wg sync.WaitGroup
	wg.Add(a.Workers)
	for w := 0; w < a.Workers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- WorkerResult{Worker: j.worker, Err: err}
					continue
				}
				res := a.search(ctx, l, temps, j.worker, j.seed)
				if res.Err != nil {
					log.WithField("worker", j.worker).WithError(res.Err).Warn("annealing worker failed")
				} else {
					log.WithFields(logrus.Fields{
						"worker":         j.worker,
						"initial_energy": res.Initial.Energy,
						"best_energy":    res.Best.Energy,
						"accepted":       res.Accepted,
					}).Debug("annealing worker finished")
				}
				results <- res
			}
		}()
	}

	for w := 0; w < a.Workers; w++ {
		jobs <- job{worker: w, seed: a.Seed + int64(w)}
	}
	close(jobs)

	wg.Wait()
	close(results)

	collected := make([]WorkerResult, a.Workers)
	for res := range results {
		collected[res.Worker] = res
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return selectBest(collected)
}

func (a *Annealer) search(ctx context.Context, l *lattice.Lattice, temps []float64, worker int, seed int64) WorkerResult {
	rng := rand.New(rand.NewSource(seed))
	cfg := lattice.RandomConfiguration(rng, l)
	res := WorkerResult{Worker: worker, Initial: cfg.Clone()}
	if !cfg.Finite() {
		res.Err = &WorkerError{Worker: worker, Temperature: temps[0], Err: errNonFinite}
		return res
	}

	best := cfg.Clone()
	for _, temperature := range temps {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		for sweep := 0; sweep < a.SweepsPerTemperature; sweep++ {
			res.Accepted += lattice.Sweep(rng, l, &cfg, temperature, a.Proposer)
			if !cfg.Finite() {
				res.Err = &WorkerError{Worker: worker, Temperature: temperature, Err: errNonFinite}
				return res
			}
			if cfg.Energy < best.Energy {
				best = cfg.Clone()
			}
		}
	}
	res.Best = best
	return res
}

// selectBest reduces worker results in worker order so that ties go to the
// lowest worker index.
func selectBest(results []WorkerResult) (Result, error) {
	out := Result{Worker: -1, Workers: results}
	var failures []error
	for _, res := range results {
		if res.Err != nil {
			failures = append(failures, res.Err)
			continue
		}
		if out.Worker < 0 || res.Best.Energy < out.Best.Energy {
			out.Best = res.Best.Clone()
			out.Worker = res.Worker
		}
	}
	if out.Worker < 0 {
		return Result{Worker: -1, Workers: results}, fmt.Errorf("%w: %w", ErrConvergenceFailure, errors.Join(failures...))
	}
	return out, nil
}
