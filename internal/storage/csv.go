package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"spinscatter/internal/model"
)

var csvFixedColumns = []string{"run_id", "step", "block", "temperature", "energy", "magnetization"}

// CSVStore writes every trajectory into one columnar table
// (run_id, step, block, temperature, energy, magnetization, s0x, s0y, s0z, ...).
// Trajectory headers, run records and spectra live in a JSON sidecar next
// to the table.
type CSVStore struct {
	path string

	mu          sync.Mutex
	initialized bool
}

type csvSidecar struct {
	Trajectories map[string]csvTrajectoryHeader `json:"trajectories"`
	Runs         map[string]model.RunRecord     `json:"runs"`
	Spectra      map[string]model.Spectrum      `json:"spectra"`
}

type csvTrajectoryHeader struct {
	model.VersionedRecord
	Sites int `json:"sites"`
}

func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

func (s *CSVStore) sidecarPath() string {
	return strings.TrimSuffix(s.path, filepath.Ext(s.path)) + ".meta.json"
}

func (s *CSVStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("csv path is required")
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	s.initialized = true
	return nil
}

func (s *CSVStore) SaveTrajectory(_ context.Context, trajectory model.Trajectory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	table, err := s.readTable()
	if err != nil {
		return err
	}
	sidecar, err := s.readSidecar()
	if err != nil {
		return err
	}

	kept := table[:0]
	for _, row := range table {
		if row.runID != trajectory.RunID {
			kept = append(kept, row)
		}
	}
	for _, row := range trajectory.Rows {
		kept = append(kept, csvRow{runID: trajectory.RunID, row: row})
	}
	if err := s.writeTable(kept); err != nil {
		return err
	}
	sidecar.Trajectories[trajectory.RunID] = csvTrajectoryHeader{VersionedRecord: trajectory.VersionedRecord, Sites: trajectory.Sites}
	return s.writeSidecar(sidecar)
}

func (s *CSVStore) GetTrajectory(_ context.Context, runID string) (model.Trajectory, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sidecar, err := s.readSidecar()
	if err != nil {
		return model.Trajectory{}, false, err
	}
	header, ok := sidecar.Trajectories[runID]
	if !ok {
		return model.Trajectory{}, false, nil
	}
	if err := checkVersion(header.VersionedRecord); err != nil {
		return model.Trajectory{}, false, fmt.Errorf("decode trajectory %s: %w", runID, err)
	}
	table, err := s.readTable()
	if err != nil {
		return model.Trajectory{}, false, err
	}

	trajectory := model.Trajectory{VersionedRecord: header.VersionedRecord, RunID: runID, Sites: header.Sites, Rows: []model.TrajectoryRow{}}
	for _, row := range table {
		if row.runID != runID {
			continue
		}
		if header.Sites > 0 && len(row.row.Spins) > header.Sites {
			row.row.Spins = row.row.Spins[:header.Sites]
		}
		trajectory.Rows = append(trajectory.Rows, row.row)
	}
	return trajectory, true, nil
}

func (s *CSVStore) SaveRunRecord(_ context.Context, record model.RunRecord) error {
	return s.updateSidecar(func(sc *csvSidecar) {
		sc.Runs[record.RunID] = record
	})
}

func (s *CSVStore) GetRunRecord(_ context.Context, runID string) (model.RunRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sidecar, err := s.readSidecar()
	if err != nil {
		return model.RunRecord{}, false, err
	}
	record, ok := sidecar.Runs[runID]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return record, true, nil
}

func (s *CSVStore) SaveSpectrum(_ context.Context, spectrum model.Spectrum) error {
	return s.updateSidecar(func(sc *csvSidecar) {
		sc.Spectra[spectrum.RunID] = spectrum
	})
}

func (s *CSVStore) GetSpectrum(_ context.Context, runID string) (model.Spectrum, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sidecar, err := s.readSidecar()
	if err != nil {
		return model.Spectrum{}, false, err
	}
	spectrum, ok := sidecar.Spectra[runID]
	if !ok {
		return model.Spectrum{}, false, nil
	}
	if err := checkVersion(spectrum.VersionedRecord); err != nil {
		return model.Spectrum{}, false, fmt.Errorf("decode spectrum %s: %w", runID, err)
	}
	return spectrum, true, nil
}

func (s *CSVStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sidecar, err := s.readSidecar()
	if err != nil {
		return nil, err
	}
	out := make([]model.RunRecord, 0, len(sidecar.Runs))
	for _, record := range sidecar.Runs {
		out = append(out, record)
	}
	sortRuns(out)
	return out, nil
}

func (s *CSVStore) updateSidecar(fn func(*csvSidecar)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	sidecar, err := s.readSidecar()
	if err != nil {
		return err
	}
	fn(&sidecar)
	return s.writeSidecar(sidecar)
}

func (s *CSVStore) readSidecar() (csvSidecar, error) {
	sidecar := csvSidecar{
		Trajectories: map[string]csvTrajectoryHeader{},
		Runs:         map[string]model.RunRecord{},
		Spectra:      map[string]model.Spectrum{},
	}
	data, err := os.ReadFile(s.sidecarPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sidecar, nil
		}
		return csvSidecar{}, err
	}
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return csvSidecar{}, fmt.Errorf("decode %s: %w", s.sidecarPath(), err)
	}
	return sidecar, nil
}

func (s *CSVStore) writeSidecar(sidecar csvSidecar) error {
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.sidecarPath(), data, 0o644)
}

type csvRow struct {
	runID string
	row   model.TrajectoryRow
}

func (s *CSVStore) readTable() ([]csvRow, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if len(header) < len(csvFixedColumns) || (len(header)-len(csvFixedColumns))%3 != 0 {
		return nil, fmt.Errorf("%s: unexpected header %v", s.path, header)
	}

	var out []csvRow
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := parseCSVRow(record)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func parseCSVRow(record []string) (csvRow, error) {
	out := csvRow{runID: record[0]}
	step, err := strconv.Atoi(record[1])
	if err != nil {
		return csvRow{}, fmt.Errorf("step %q: %w", record[1], err)
	}
	out.row.Step = step
	if out.row.Block, err = strconv.Atoi(record[2]); err != nil {
		return csvRow{}, fmt.Errorf("block %q: %w", record[2], err)
	}
	floats := []*float64{&out.row.Temperature, &out.row.Energy, &out.row.Magnetization}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(record[3+i], 64); err != nil {
			return csvRow{}, fmt.Errorf("column %s: %w", csvFixedColumns[3+i], err)
		}
	}
	spinCells := record[len(csvFixedColumns):]
	for i := 0; i+2 < len(spinCells); i += 3 {
		if spinCells[i] == "" {
			break
		}
		var v [3]float64
		for c := range v {
			if v[c], err = strconv.ParseFloat(spinCells[i+c], 64); err != nil {
				return csvRow{}, fmt.Errorf("spin %d: %w", i/3, err)
			}
		}
		out.row.Spins = append(out.row.Spins, model.Vec3{X: v[0], Y: v[1], Z: v[2]})
	}
	return out, nil
}

func (s *CSVStore) writeTable(rows []csvRow) error {
	width := 0
	for _, row := range rows {
		width = max(width, len(row.row.Spins))
	}
	header := append([]string(nil), csvFixedColumns...)
	for i := 0; i < width; i++ {
		header = append(header, fmt.Sprintf("s%dx", i), fmt.Sprintf("s%dy", i), fmt.Sprintf("s%dz", i))
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(header))
		record[0] = row.runID
		record[1] = strconv.Itoa(row.row.Step)
		record[2] = strconv.Itoa(row.row.Block)
		record[3] = formatFloat(row.row.Temperature)
		record[4] = formatFloat(row.row.Energy)
		record[5] = formatFloat(row.row.Magnetization)
		for i, spin := range row.row.Spins {
			base := len(csvFixedColumns) + 3*i
			record[base] = formatFloat(spin.X)
			record[base+1] = formatFloat(spin.Y)
			record[base+2] = formatFloat(spin.Z)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return os.WriteFile(s.path, buf.Bytes(), 0o644)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
