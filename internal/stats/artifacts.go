package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"spinscatter/internal/model"
)

const (
	runIndexFile       = "run_index.json"
	parametersFile     = "parameters.json"
	energySeriesFile   = "energy_series.csv"
	spectrumFile       = "spectrum.csv"
	thermodynamicsFile = "thermodynamics.json"
)

type RunArtifacts struct {
	RunID          string
	Parameters     []model.Param
	Trajectory     model.Trajectory
	Spectrum       *model.Spectrum
	Thermodynamics []ThermoPoint
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Lattice      string  `json:"lattice"`
	Model        string  `json:"model"`
	Sites        int     `json:"sites"`
	Temperatures int     `json:"temperatures"`
	Rows         int     `json:"rows"`
	Workers      int     `json:"workers"`
	Seed         int64   `json:"seed"`
	Annealed     bool    `json:"annealed"`
	Analyzed     bool    `json:"analyzed"`
	FinalEnergy  float64 `json:"final_energy"`
	Datafile     string  `json:"datafile,omitempty"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// RunDir returns the artifact directory of runID, creating it.
func RunDir(baseDir, runID string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	return runDir, nil
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	runDir, err := RunDir(baseDir, artifacts.RunID)
	if err != nil {
		return "", err
	}

	if err := WriteParameters(runDir, artifacts.Parameters); err != nil {
		return "", err
	}
	if err := WriteEnergySeries(runDir, artifacts.Trajectory); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, thermodynamicsFile), artifacts.Thermodynamics); err != nil {
		return "", err
	}
	if artifacts.Spectrum != nil {
		if err := WriteSpectrumCSV(runDir, *artifacts.Spectrum); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

func WriteParameters(runDir string, params []model.Param) error {
	if params == nil {
		params = []model.Param{}
	}
	return writeJSON(filepath.Join(runDir, parametersFile), params)
}

func ReadParameters(baseDir, runID string) ([]model.Param, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, parametersFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var params []model.Param
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, false, err
	}
	return params, true, nil
}

func ReadThermodynamics(baseDir, runID string) ([]ThermoPoint, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, thermodynamicsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var points []ThermoPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, false, err
	}
	return points, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies every regular file of a run directory,
// rendered plots included, into outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	entries, err := os.ReadDir(src)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return "", err
		}
	}
	return dst, nil
}

// WriteEnergySeries writes one line per trajectory row.
func WriteEnergySeries(runDir string, trajectory model.Trajectory) error {
	file, err := os.Create(filepath.Join(runDir, energySeriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"step", "temperature", "energy", "magnetization", "block"}); err != nil {
		return err
	}
	for _, row := range trajectory.Rows {
		if err := writer.Write([]string{
			strconv.Itoa(row.Step),
			strconv.FormatFloat(row.Temperature, 'f', -1, 64),
			strconv.FormatFloat(row.Energy, 'f', -1, 64),
			strconv.FormatFloat(row.Magnetization, 'f', -1, 64),
			strconv.Itoa(row.Block),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadEnergySeries reads back the rows written by WriteEnergySeries,
// without spins.
func ReadEnergySeries(baseDir, runID string) ([]model.TrajectoryRow, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, energySeriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.TrajectoryRow{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 4 {
		return nil, false, fmt.Errorf("energy series header must have at least 4 columns")
	}

	series := make([]model.TrajectoryRow, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		var row model.TrajectoryRow
		if row.Step, err = strconv.Atoi(record[0]); err != nil {
			return nil, false, err
		}
		if row.Temperature, err = strconv.ParseFloat(record[1], 64); err != nil {
			return nil, false, err
		}
		if row.Energy, err = strconv.ParseFloat(record[2], 64); err != nil {
			return nil, false, err
		}
		if row.Magnetization, err = strconv.ParseFloat(record[3], 64); err != nil {
			return nil, false, err
		}
		if len(record) > 4 {
			if row.Block, err = strconv.Atoi(record[4]); err != nil {
				return nil, false, err
			}
		}
		series = append(series, row)
	}
	return series, true, nil
}

// WriteSpectrumCSV flattens the spectrum to long format, one line per
// (block, q, frequency).
func WriteSpectrumCSV(runDir string, spectrum model.Spectrum) error {
	file, err := os.Create(filepath.Join(runDir, spectrumFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"block", "temperature", "q_index", "qx", "qy", "qz", "frequency", "energy", "intensity"}); err != nil {
		return err
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, seg := range spectrum.Segments {
		for qi, row := range seg.Intensity {
			q := spectrum.QPoints[qi]
			for w, v := range row {
				if err := writer.Write([]string{
					strconv.Itoa(seg.Block),
					format(seg.Temperature),
					strconv.Itoa(qi),
					format(q.X), format(q.Y), format(q.Z),
					format(seg.Frequencies[w]),
					format(seg.Energies[w]),
					format(v),
				}); err != nil {
					return err
				}
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// GroundState is the configuration an annealing run settled in.
type GroundState struct {
	Lattice string       `json:"lattice"`
	Model   string       `json:"model"`
	Energy  float64      `json:"energy"`
	Worker  int          `json:"worker"`
	Spins   []model.Vec3 `json:"spins"`
}

func WriteGroundState(path string, state GroundState) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return writeJSON(path, state)
}

func ReadGroundState(path string) (GroundState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GroundState{}, err
	}
	var state GroundState
	if err := json.Unmarshal(data, &state); err != nil {
		return GroundState{}, err
	}
	return state, nil
}
