package storage

import (
	"context"

	"spinscatter/internal/model"
)

// Store persists trajectories and the records derived from them, keyed by
// run id.
type Store interface {
	Init(ctx context.Context) error
	SaveTrajectory(ctx context.Context, trajectory model.Trajectory) error
	GetTrajectory(ctx context.Context, runID string) (model.Trajectory, bool, error)
	SaveRunRecord(ctx context.Context, record model.RunRecord) error
	GetRunRecord(ctx context.Context, runID string) (model.RunRecord, bool, error)
	SaveSpectrum(ctx context.Context, spectrum model.Spectrum) error
	GetSpectrum(ctx context.Context, runID string) (model.Spectrum, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
}
