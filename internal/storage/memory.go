package storage

import (
	"context"
	"errors"
	"sync"

	"spinscatter/internal/model"
)

type MemoryStore struct {
	mu           sync.RWMutex
	initialized  bool
	trajectories map[string]model.Trajectory
	runs         map[string]model.RunRecord
	spectra      map[string]model.Spectrum
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.trajectories = make(map[string]model.Trajectory)
	s.runs = make(map[string]model.RunRecord)
	s.spectra = make(map[string]model.Spectrum)
	return nil
}

func (s *MemoryStore) SaveTrajectory(_ context.Context, trajectory model.Trajectory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.trajectories[trajectory.RunID] = trajectory.Clone()
	return nil
}

func (s *MemoryStore) GetTrajectory(_ context.Context, runID string) (model.Trajectory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trajectory, ok := s.trajectories[runID]
	if !ok {
		return model.Trajectory{}, false, nil
	}
	return trajectory.Clone(), true, nil
}

func (s *MemoryStore) SaveRunRecord(_ context.Context, record model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.runs[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetRunRecord(_ context.Context, runID string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.runs[runID]
	return record, ok, nil
}

func (s *MemoryStore) SaveSpectrum(_ context.Context, spectrum model.Spectrum) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.spectra[spectrum.RunID] = cloneSpectrum(spectrum)
	return nil
}

func (s *MemoryStore) GetSpectrum(_ context.Context, runID string) (model.Spectrum, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spectrum, ok := s.spectra[runID]
	if !ok {
		return model.Spectrum{}, false, nil
	}
	return cloneSpectrum(spectrum), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, record := range s.runs {
		out = append(out, record)
	}
	sortRuns(out)
	return out, nil
}

func cloneSpectrum(s model.Spectrum) model.Spectrum {
	out := s
	out.QPoints = append([]model.Vec3(nil), s.QPoints...)
	out.Segments = make([]model.SpectrumSegment, len(s.Segments))
	for i, seg := range s.Segments {
		copied := seg
		copied.Frequencies = append([]float64(nil), seg.Frequencies...)
		copied.Energies = append([]float64(nil), seg.Energies...)
		copied.EnergySpectrum = append([]float64(nil), seg.EnergySpectrum...)
		copied.IntegratedSpectrum = append([]float64(nil), seg.IntegratedSpectrum...)
		copied.Intensity = make([][]float64, len(seg.Intensity))
		for q, row := range seg.Intensity {
			copied.Intensity[q] = append([]float64(nil), row...)
		}
		out.Segments[i] = copied
	}
	return out
}
