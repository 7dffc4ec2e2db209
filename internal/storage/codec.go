package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"spinscatter/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeTrajectory(t model.Trajectory) ([]byte, error) {
	return json.Marshal(t)
}

func DecodeTrajectory(data []byte) (model.Trajectory, error) {
	var trajectory model.Trajectory
	if err := json.Unmarshal(data, &trajectory); err != nil {
		return model.Trajectory{}, err
	}
	if err := checkVersion(trajectory.VersionedRecord); err != nil {
		return model.Trajectory{}, err
	}
	return trajectory, nil
}

func EncodeRunRecord(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRunRecord(data []byte) (model.RunRecord, error) {
	var record model.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return record, nil
}

func EncodeSpectrum(s model.Spectrum) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSpectrum(data []byte) (model.Spectrum, error) {
	var spectrum model.Spectrum
	if err := json.Unmarshal(data, &spectrum); err != nil {
		return model.Spectrum{}, err
	}
	if err := checkVersion(spectrum.VersionedRecord); err != nil {
		return model.Spectrum{}, err
	}
	return spectrum, nil
}

// EncodeSpins flattens a configuration to [x0, y0, z0, x1, ...].
func EncodeSpins(spins []model.Vec3) ([]byte, error) {
	flat := make([]float64, 0, 3*len(spins))
	for _, s := range spins {
		flat = append(flat, s.X, s.Y, s.Z)
	}
	return json.Marshal(flat)
}

func DecodeSpins(data []byte) ([]model.Vec3, error) {
	var flat []float64
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	if len(flat)%3 != 0 {
		return nil, fmt.Errorf("spin payload has %d values, not a multiple of 3", len(flat))
	}
	spins := make([]model.Vec3, len(flat)/3)
	for i := range spins {
		spins[i] = model.Vec3{X: flat[3*i], Y: flat[3*i+1], Z: flat[3*i+2]}
	}
	return spins, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

func sortRuns(records []model.RunRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAtUTC != records[j].CreatedAtUTC {
			return records[i].CreatedAtUTC < records[j].CreatedAtUTC
		}
		return records[i].RunID < records[j].RunID
	})
}
