package simulate

import (
	"errors"
	"fmt"

	"spinscatter/internal/model"
)

// ErrMalformedTrajectory marks step indices that are not strictly
// increasing, or not evenly spaced within one temperature.
var ErrMalformedTrajectory = errors.New("trajectory: malformed step axis")

// Segment is a run of consecutive rows recorded at one schedule entry.
type Segment struct {
	Block       int
	Temperature float64
	Stride      int
	Rows        []model.TrajectoryRow
}

// Segments splits t at every block or temperature change.
func Segments(t model.Trajectory) []Segment {
	var out []Segment
	for i, row := range t.Rows {
		if t.NewBlock(i) {
			out = append(out, Segment{Block: row.Block, Temperature: row.Temperature})
		}
		seg := &out[len(out)-1]
		seg.Rows = append(seg.Rows, row)
		if len(seg.Rows) == 2 {
			seg.Stride = seg.Rows[1].Step - seg.Rows[0].Step
		}
	}
	return out
}

// ValidateTrajectory enforces the uniform time axis the analyzer needs.
// Resumed runs with gaps inside a temperature are rejected, not resampled.
func ValidateTrajectory(t model.Trajectory) error {
	for i, row := range t.Rows {
		if t.Sites > 0 && len(row.Spins) != t.Sites {
			return fmt.Errorf("%w: row %d has %d spins, want %d", ErrMalformedTrajectory, i, len(row.Spins), t.Sites)
		}
		if i > 0 && row.Step <= t.Rows[i-1].Step {
			return fmt.Errorf("%w: step %d at row %d does not follow step %d", ErrMalformedTrajectory, row.Step, i, t.Rows[i-1].Step)
		}
	}
	for _, seg := range Segments(t) {
		for k := 2; k < len(seg.Rows); k++ {
			if gap := seg.Rows[k].Step - seg.Rows[k-1].Step; gap != seg.Stride {
				return fmt.Errorf("%w: T=%v has stride %d then %d at step %d", ErrMalformedTrajectory, seg.Temperature, seg.Stride, gap, seg.Rows[k].Step)
			}
		}
	}
	return nil
}
