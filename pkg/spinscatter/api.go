package spinscatter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"spinscatter/internal/anneal"
	"spinscatter/internal/config"
	"spinscatter/internal/fourier"
	"spinscatter/internal/model"
	"spinscatter/internal/pipeline"
	"spinscatter/internal/simulate"
	"spinscatter/internal/stats"
)

const (
	defaultDataDir    = "runs"
	defaultExportsDir = "exports"
)

var (
	ErrConvergenceFailure     = anneal.ErrConvergenceFailure
	ErrSimulationDivergence   = simulate.ErrSimulationDivergence
	ErrInsufficientTrajectory = fourier.ErrInsufficientTrajectory
	ErrMalformedTrajectory    = simulate.ErrMalformedTrajectory
)

type Options struct {
	DataDir    string
	ExportsDir string
	Logger     logrus.FieldLogger
	// Now and NewRunID override the clock and the run id generator.
	Now      func() time.Time
	NewRunID func() string
}

type Client struct {
	dataDir    string
	exportsDir string
	deps       pipeline.Deps
}

type RunRequest struct {
	Config config.RunConfig
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Datafile     string
	Lattice      string
	Sites        int
	Rows         int
	Temperatures []float64
	FinalEnergy  float64
	Annealed     bool
	// GroundStateEnergy is only meaningful when Annealed is set.
	GroundStateEnergy float64
	Segments          int
	Plots             []string
	Thermodynamics    []stats.ThermoPoint
	Trajectory        model.Trajectory
	Spectrum          *model.Spectrum
}

type AnnealRequest struct {
	Config config.RunConfig
	// Output is the ground state JSON path. Empty skips writing it.
	Output string
}

type AnnealSummary struct {
	Lattice string
	Energy  float64
	Worker  int
	Workers int
	Failed  int
	Output  string
}

type AnalyzeRequest struct {
	Config   config.RunConfig
	Datafile string
	// RunID selects the stored trajectory. Empty picks the most recent one.
	RunID string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Lattice      string
	Model        string
	Sites        int
	Temperatures int
	Rows         int
	Seed         int64
	Annealed     bool
	Analyzed     bool
	FinalEnergy  float64
	Datafile     string
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	return &Client{
		dataDir:    dataDir,
		exportsDir: exportsDir,
		deps: pipeline.Deps{
			Logger:   opts.Logger,
			Now:      opts.Now,
			NewRunID: opts.NewRunID,
		},
	}, nil
}

func (c *Client) DataDir() string {
	return c.dataDir
}

// Run executes the full pipeline. Artifacts always land in the client's
// data directory.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	cfg := req.Config
	cfg.DataDir = c.dataDir
	trajectory, res, err := pipeline.Run(ctx, cfg, c.deps)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		RunID:          res.RunID,
		ArtifactsDir:   filepath.Clean(res.RunDir),
		Datafile:       res.Datafile,
		Lattice:        res.Lattice.Name,
		Sites:          res.Lattice.Len(),
		Rows:           trajectory.Len(),
		Temperatures:   trajectory.Temperatures(),
		Plots:          res.Plots,
		Thermodynamics: res.Thermodynamics,
		Trajectory:     trajectory,
		Spectrum:       res.Spectrum,
	}
	if n := trajectory.Len(); n > 0 {
		summary.FinalEnergy = trajectory.Rows[n-1].Energy
	}
	if res.Anneal != nil {
		summary.Annealed = true
		summary.GroundStateEnergy = res.Anneal.Best.Energy
	}
	if res.Spectrum != nil {
		summary.Segments = len(res.Spectrum.Segments)
	}
	return summary, nil
}

func (c *Client) Anneal(ctx context.Context, req AnnealRequest) (AnnealSummary, error) {
	l, res, err := pipeline.Anneal(ctx, req.Config, c.deps)
	if err != nil {
		return AnnealSummary{}, err
	}
	summary := AnnealSummary{
		Lattice: l.Name,
		Energy:  res.Best.Energy,
		Worker:  res.Worker,
		Workers: len(res.Workers),
		Failed:  res.Failed(),
	}
	if req.Output != "" {
		if err := stats.WriteGroundState(req.Output, stats.GroundState{
			Lattice: l.Name,
			Model:   string(l.Model),
			Energy:  res.Best.Energy,
			Worker:  res.Worker,
			Spins:   res.Best.Spins,
		}); err != nil {
			return AnnealSummary{}, fmt.Errorf("write ground state: %w", err)
		}
		summary.Output = req.Output
	}
	return summary, nil
}

// Analyze runs the Fourier stage on a stored trajectory. Annealing and
// simulation are skipped.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (RunSummary, error) {
	if req.Datafile == "" {
		return RunSummary{}, errors.New("analyze requires a datafile")
	}
	cfg := req.Config
	cfg.Datafile = req.Datafile
	cfg.DatafileRun = req.RunID
	cfg.Anneal = false
	cfg.Fourier = true
	return c.Run(ctx, RunRequest{Config: cfg})
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.dataDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Lattice:      e.Lattice,
			Model:        e.Model,
			Sites:        e.Sites,
			Temperatures: e.Temperatures,
			Rows:         e.Rows,
			Seed:         e.Seed,
			Annealed:     e.Annealed,
			Analyzed:     e.Analyzed,
			FinalEnergy:  e.FinalEnergy,
			Datafile:     e.Datafile,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.dataDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.dataDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}
