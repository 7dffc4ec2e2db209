package model

import "math"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Vec3 is a spin orientation or a position. Ising spins use only Z.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Unit returns v scaled to length one. The zero vector maps to +Z.
func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if n == 0 {
		return Vec3{Z: 1}
	}
	return v.Scale(1 / n)
}

func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// TrajectoryRow is one recorded simulation step.
// Block is the index of the schedule entry the row was sampled at, so
// repeated temperatures in a schedule stay distinct blocks.
type TrajectoryRow struct {
	Step          int     `json:"step"`
	Block         int     `json:"block"`
	Temperature   float64 `json:"temperature"`
	Energy        float64 `json:"energy"`
	Magnetization float64 `json:"magnetization"`
	Spins         []Vec3  `json:"spins"`
}

type Trajectory struct {
	VersionedRecord
	RunID string          `json:"run_id"`
	Sites int             `json:"sites"`
	Rows  []TrajectoryRow `json:"rows"`
}

func (t Trajectory) Len() int {
	return len(t.Rows)
}

// NewBlock reports whether row i starts a new temperature block.
func (t Trajectory) NewBlock(i int) bool {
	if i == 0 {
		return true
	}
	prev := t.Rows[i-1]
	return t.Rows[i].Block != prev.Block || t.Rows[i].Temperature != prev.Temperature
}

// Temperatures returns the distinct temperatures in recording order.
func (t Trajectory) Temperatures() []float64 {
	out := make([]float64, 0, 8)
	for i, row := range t.Rows {
		if i == 0 || row.Temperature != t.Rows[i-1].Temperature {
			out = append(out, row.Temperature)
		}
	}
	return out
}

func (t Trajectory) Energies() []float64 {
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row.Energy
	}
	return out
}

// Clone deep-copies every row including the spin slices.
func (t Trajectory) Clone() Trajectory {
	out := t
	out.Rows = make([]TrajectoryRow, len(t.Rows))
	for i, row := range t.Rows {
		row.Spins = append([]Vec3(nil), row.Spins...)
		out.Rows[i] = row
	}
	return out
}

// SpectrumSegment holds the scattering intensity of one temperature block.
// Intensity is indexed [q][frequency].
type SpectrumSegment struct {
	Block              int         `json:"block"`
	Temperature        float64     `json:"temperature"`
	Rows               int         `json:"rows"`
	Frequencies        []float64   `json:"frequencies"`
	Energies           []float64   `json:"energies"`
	Intensity          [][]float64 `json:"intensity"`
	EnergySpectrum     []float64   `json:"energy_spectrum"`
	IntegratedSpectrum []float64   `json:"integrated_spectrum"`
}

type Spectrum struct {
	VersionedRecord
	RunID    string            `json:"run_id"`
	QPoints  []Vec3            `json:"q_points"`
	FixedQ   int               `json:"fixed_q"`
	Segments []SpectrumSegment `json:"segments"`
}

// RunRecord is the persisted index entry for one run.
type RunRecord struct {
	VersionedRecord
	RunID        string  `json:"run_id"`
	Lattice      string  `json:"lattice"`
	Sites        int     `json:"sites"`
	Rows         int     `json:"rows"`
	FinalEnergy  float64 `json:"final_energy"`
	Annealed     bool    `json:"annealed"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// Param is one entry of the persisted parameter record. Kind names the
// variant Value holds: string, int, float, bool or list. Vectors and
// schedules are flattened to lists of numbers.
type Param struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}
