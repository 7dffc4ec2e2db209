// Package pipeline wires the annealer, the simulation engine and the
// Fourier analyzer into one run, persisting the trajectory, the parameter
// record, plots and a run index entry under the data directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"spinscatter/internal/anneal"
	"spinscatter/internal/config"
	"spinscatter/internal/fourier"
	"spinscatter/internal/lattice"
	"spinscatter/internal/logging"
	"spinscatter/internal/model"
	"spinscatter/internal/render"
	"spinscatter/internal/simulate"
	"spinscatter/internal/stats"
	"spinscatter/internal/storage"
)

// Deps carries the collaborators a run needs from its caller. Zero values
// fall back to a silent logger, the wall clock and random UUIDs.
type Deps struct {
	Logger   logrus.FieldLogger
	Now      func() time.Time
	NewRunID func() string
}

func (d Deps) withDefaults() Deps {
	d.Logger = logging.OrDiscard(d.Logger)
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewRunID == nil {
		d.NewRunID = uuid.NewString
	}
	return d
}

// Result describes what a run produced besides the trajectory.
type Result struct {
	RunID          string
	RunDir         string
	Datafile       string
	Lattice        *lattice.Lattice
	Anneal         *anneal.Result
	Spectrum       *model.Spectrum
	Thermodynamics []stats.ThermoPoint
	Plots          []string
}

// Run executes one configured run: load the lattice, record the
// parameters, optionally anneal, then either reload the trajectory from the
// configured datafile or simulate and persist it, then plot and optionally
// analyze. The trajectory is only persisted after the simulation
// succeeded, and the spectrum only after the analysis succeeded.
func Run(ctx context.Context, cfg config.RunConfig, deps Deps) (model.Trajectory, Result, error) {
	deps = deps.withDefaults()
	if err := cfg.Validate(); err != nil {
		return model.Trajectory{}, Result{}, err
	}

	l, err := lattice.Load(cfg.Lattice)
	if err != nil {
		return model.Trajectory{}, Result{}, err
	}
	if cfg.RunID == "" {
		cfg.RunID = deps.NewRunID()
	}
	runDir, err := stats.RunDir(cfg.DataDir, cfg.RunID)
	if err != nil {
		return model.Trajectory{}, Result{}, err
	}
	if err := stats.WriteParameters(runDir, cfg.Params()); err != nil {
		return model.Trajectory{}, Result{}, fmt.Errorf("write parameters: %w", err)
	}
	log := deps.Logger.WithField("run_id", cfg.RunID)
	log.WithFields(logrus.Fields{
		"lattice": l.Name,
		"model":   l.Model,
		"sites":   l.Len(),
		"bonds":   l.Bonds(),
	}).Info("lattice loaded")

	result := Result{RunID: cfg.RunID, RunDir: runDir, Lattice: l}

	if cfg.Anneal {
		res, err := annealLattice(ctx, cfg, l, log)
		if err != nil {
			return model.Trajectory{}, Result{}, err
		}
		result.Anneal = &res
	}

	var (
		trajectory model.Trajectory
		store      storage.Store
	)
	if cfg.Datafile != "" {
		store, trajectory, err = loadDatafile(ctx, cfg.Datafile, cfg.DatafileRun)
		if err != nil {
			return model.Trajectory{}, Result{}, err
		}
		result.Datafile = cfg.Datafile
		log.WithFields(logrus.Fields{
			"datafile": cfg.Datafile,
			"source":   trajectory.RunID,
			"rows":     humanize.Comma(int64(trajectory.Len())),
		}).Info("trajectory loaded")
	} else {
		trajectory, err = simulateLattice(ctx, cfg, l, log)
		if err != nil {
			return model.Trajectory{}, Result{}, err
		}
		trajectory.RunID = cfg.RunID
		trajectory.VersionedRecord = storage.CurrentVersion()

		result.Datafile = datafilePath(cfg.Store, runDir)
		store, err = openStore(ctx, cfg.Store, result.Datafile)
		if err != nil {
			return model.Trajectory{}, Result{}, err
		}
		if err := persistTrajectory(ctx, store, cfg, l, trajectory, deps.Now()); err != nil {
			_ = storage.CloseIfSupported(store)
			return model.Trajectory{}, Result{}, err
		}
		fields := logrus.Fields{"rows": humanize.Comma(int64(trajectory.Len())), "store": cfg.Store}
		if info, err := os.Stat(result.Datafile); err == nil {
			fields["size"] = humanize.Bytes(uint64(info.Size()))
		}
		log.WithFields(fields).Info("trajectory saved")
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()

	opts := render.Options{Format: cfg.PlotFormat}
	if cfg.ShouldPlotSpins {
		path, err := plotSpins(runDir, opts, l, trajectory)
		if err != nil {
			return model.Trajectory{}, Result{}, err
		}
		result.Plots = append(result.Plots, path)
	}
	if cfg.ShouldPlotEnergy && trajectory.Len() > 0 {
		p, err := render.EnergyCurve(l.Name+" energy", trajectory)
		if err != nil {
			return model.Trajectory{}, Result{}, err
		}
		path := filepath.Join(runDir, opts.FileName("energy_trace"))
		if err := render.Save(path, p, opts); err != nil {
			return model.Trajectory{}, Result{}, err
		}
		result.Plots = append(result.Plots, path)
	}

	if cfg.Fourier {
		spectrum, plots, err := analyzeTrajectory(ctx, cfg, l, trajectory, runDir, opts, log)
		if err != nil {
			return model.Trajectory{}, Result{}, err
		}
		if err := store.SaveSpectrum(ctx, spectrum); err != nil {
			return model.Trajectory{}, Result{}, fmt.Errorf("save spectrum: %w", err)
		}
		result.Spectrum = &spectrum
		result.Plots = append(result.Plots, plots...)
	}

	result.Thermodynamics = stats.Thermodynamics(trajectory)
	if _, err := stats.WriteRunArtifacts(cfg.DataDir, stats.RunArtifacts{
		RunID:          cfg.RunID,
		Parameters:     cfg.Params(),
		Trajectory:     trajectory,
		Spectrum:       result.Spectrum,
		Thermodynamics: result.Thermodynamics,
	}); err != nil {
		return model.Trajectory{}, Result{}, fmt.Errorf("write run artifacts: %w", err)
	}
	if err := stats.AppendRunIndex(cfg.DataDir, stats.RunIndexEntry{
		RunID:        cfg.RunID,
		Lattice:      l.Name,
		Model:        string(l.Model),
		Sites:        l.Len(),
		Temperatures: len(trajectory.Temperatures()),
		Rows:         trajectory.Len(),
		Workers:      cfg.Workers,
		Seed:         cfg.Seed,
		Annealed:     cfg.Anneal,
		Analyzed:     cfg.Fourier,
		FinalEnergy:  finalEnergy(trajectory),
		Datafile:     result.Datafile,
		CreatedAtUTC: deps.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return model.Trajectory{}, Result{}, fmt.Errorf("append run index: %w", err)
	}
	log.WithField("plots", len(result.Plots)).Info("run complete")
	return trajectory, result, nil
}

// Anneal loads the configured lattice and searches for its ground state
// without simulating.
func Anneal(ctx context.Context, cfg config.RunConfig, deps Deps) (*lattice.Lattice, anneal.Result, error) {
	deps = deps.withDefaults()
	cfg.Anneal = true
	if err := cfg.Validate(); err != nil {
		return nil, anneal.Result{}, err
	}
	l, err := lattice.Load(cfg.Lattice)
	if err != nil {
		return nil, anneal.Result{}, err
	}
	res, err := annealLattice(ctx, cfg, l, deps.Logger)
	if err != nil {
		return nil, anneal.Result{}, err
	}
	return l, res, nil
}

func annealLattice(ctx context.Context, cfg config.RunConfig, l *lattice.Lattice, log logrus.FieldLogger) (anneal.Result, error) {
	s, err := cfg.AnnealingSchedule()
	if err != nil {
		return anneal.Result{}, err
	}
	proposer, err := cfg.Proposer(l.Model)
	if err != nil {
		return anneal.Result{}, err
	}
	a := &anneal.Annealer{
		Workers:              cfg.Workers,
		SweepsPerTemperature: cfg.AnnealSweeps,
		Proposer:             proposer,
		Seed:                 cfg.Seed,
		Logger:               log,
	}
	res, err := a.Run(ctx, l, s)
	if err != nil {
		return anneal.Result{}, err
	}
	if err := l.Apply(res.Best); err != nil {
		return anneal.Result{}, err
	}
	log.WithFields(logrus.Fields{
		"energy":  res.Best.Energy,
		"worker":  res.Worker,
		"workers": len(res.Workers),
		"failed":  res.Failed(),
	}).Info("annealing complete")
	return res, nil
}

func simulateLattice(ctx context.Context, cfg config.RunConfig, l *lattice.Lattice, log logrus.FieldLogger) (model.Trajectory, error) {
	s, err := cfg.SimulationSchedule()
	if err != nil {
		return model.Trajectory{}, err
	}
	proposer, err := cfg.Proposer(l.Model)
	if err != nil {
		return model.Trajectory{}, err
	}
	e := &simulate.Engine{
		EquilibrationSweeps: cfg.EquilibrationSweeps,
		SampleSweeps:        cfg.Sweeps,
		SampleInterval:      cfg.SampleInterval,
		Proposer:            proposer,
		Seed:                cfg.Seed,
		Logger:              log,
		OnPhase: func(p simulate.Phase, temperature float64) {
			log.WithFields(logrus.Fields{"phase": p.String(), "temperature": temperature}).Debug("simulation phase")
		},
	}
	return e.Run(ctx, l, nil, s)
}

func analyzeTrajectory(ctx context.Context, cfg config.RunConfig, l *lattice.Lattice, trajectory model.Trajectory, runDir string, opts render.Options, log logrus.FieldLogger) (model.Spectrum, []string, error) {
	a := &fourier.Analyzer{
		Workers:    cfg.Workers,
		TimeStep:   cfg.TimeStep,
		Planck:     cfg.Planck,
		QMax:       cfg.QMax,
		QCount:     cfg.QCount,
		QDirection: cfg.QDirectionVec(),
		FixedQ:     cfg.FixedQ,
		Logger:     log,
	}
	spectrum, err := a.Analyze(ctx, l, trajectory)
	if err != nil {
		return model.Spectrum{}, nil, err
	}
	spectrum.RunID = trajectory.RunID
	spectrum.VersionedRecord = storage.CurrentVersion()
	log.WithFields(logrus.Fields{
		"segments": len(spectrum.Segments),
		"q_points": len(spectrum.QPoints),
	}).Info("spectrum computed")

	var plots []string
	if cfg.ShouldPlotEnergy {
		p, err := render.EnergySpectrum(fmt.Sprintf("%s S(q%d, E)", l.Name, spectrum.FixedQ), spectrum)
		if err != nil {
			return model.Spectrum{}, nil, err
		}
		path := filepath.Join(runDir, opts.FileName(fmt.Sprintf("energy_q%d", spectrum.FixedQ)))
		if err := render.Save(path, p, opts); err != nil {
			return model.Spectrum{}, nil, err
		}
		plots = append(plots, path)
	}
	if cfg.ShouldPlotNeutron {
		seen := map[float64]bool{}
		for _, seg := range spectrum.Segments {
			p, err := render.IntensityMap(fmt.Sprintf("%s S(q, E) T=%g", l.Name, seg.Temperature), spectrum.QPoints, seg)
			if err != nil {
				return model.Spectrum{}, nil, err
			}
			name := fmt.Sprintf("intensity_T%g", seg.Temperature)
			if seen[seg.Temperature] {
				// a plateau in the schedule repeats the temperature
				name = fmt.Sprintf("%s_b%d", name, seg.Block)
			}
			seen[seg.Temperature] = true
			path := filepath.Join(runDir, opts.FileName(name))
			if err := render.Save(path, p, opts); err != nil {
				return model.Spectrum{}, nil, err
			}
			plots = append(plots, path)
		}
	}
	return spectrum, plots, nil
}

func plotSpins(runDir string, opts render.Options, l *lattice.Lattice, trajectory model.Trajectory) (string, error) {
	spins := l.Configuration().Spins
	if n := trajectory.Len(); n > 0 && len(trajectory.Rows[n-1].Spins) == l.Len() {
		spins = trajectory.Rows[n-1].Spins
	}
	p, err := render.SpinMap(l.Name+" spins", l.Positions(), spins)
	if err != nil {
		return "", err
	}
	path := filepath.Join(runDir, opts.FileName("spin_plot"))
	if err := render.Save(path, p, opts); err != nil {
		return "", err
	}
	return path, nil
}

func persistTrajectory(ctx context.Context, store storage.Store, cfg config.RunConfig, l *lattice.Lattice, trajectory model.Trajectory, now time.Time) error {
	if err := store.SaveTrajectory(ctx, trajectory); err != nil {
		return fmt.Errorf("save trajectory: %w", err)
	}
	record := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           trajectory.RunID,
		Lattice:         l.Name,
		Sites:           l.Len(),
		Rows:            trajectory.Len(),
		FinalEnergy:     finalEnergy(trajectory),
		Annealed:        cfg.Anneal,
		CreatedAtUTC:    now.UTC().Format(time.RFC3339),
	}
	if err := store.SaveRunRecord(ctx, record); err != nil {
		return fmt.Errorf("save run record: %w", err)
	}
	return nil
}

// loadDatafile opens an existing datafile and reads runID from it, or the
// most recent run when runID is empty.
func loadDatafile(ctx context.Context, path, runID string) (storage.Store, model.Trajectory, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, model.Trajectory{}, fmt.Errorf("datafile %s: %w", path, err)
	}
	store, err := openStore(ctx, storage.KindForPath(path), path)
	if err != nil {
		return nil, model.Trajectory{}, err
	}
	trajectory, err := readTrajectory(ctx, store, runID)
	if err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, model.Trajectory{}, fmt.Errorf("datafile %s: %w", path, err)
	}
	return store, trajectory, nil
}

func readTrajectory(ctx context.Context, store storage.Store, runID string) (model.Trajectory, error) {
	if runID == "" {
		runs, err := store.ListRuns(ctx)
		if err != nil {
			return model.Trajectory{}, err
		}
		if len(runs) == 0 {
			return model.Trajectory{}, errors.New("no runs stored")
		}
		runID = runs[len(runs)-1].RunID
	}
	trajectory, ok, err := store.GetTrajectory(ctx, runID)
	if err != nil {
		return model.Trajectory{}, err
	}
	if !ok {
		return model.Trajectory{}, fmt.Errorf("trajectory %s not found", runID)
	}
	return trajectory, nil
}

func openStore(ctx context.Context, kind, path string) (storage.Store, error) {
	store, err := storage.NewStore(kind, path)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, fmt.Errorf("init %s store: %w", kind, err)
	}
	return store, nil
}

func datafilePath(kind, runDir string) string {
	switch kind {
	case "sqlite":
		return filepath.Join(runDir, "trajectory.db")
	case "csv":
		return filepath.Join(runDir, "trajectory.csv")
	default:
		return ""
	}
}

func finalEnergy(trajectory model.Trajectory) float64 {
	if n := trajectory.Len(); n > 0 {
		return trajectory.Rows[n-1].Energy
	}
	return 0
}
