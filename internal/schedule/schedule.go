package schedule

import (
	"errors"
	"fmt"
	"math"
)

// maxSteps bounds generated schedules so that a tiny step or a cooling rate
// close to one cannot exhaust memory.
const maxSteps = 100000

// Spec describes a temperature protocol. An explicit list wins; otherwise
// a cooling rate in (0,1) yields a geometric schedule from Start down to
// End, and a positive Step yields a linear one.
type Spec struct {
	Temperatures []float64 `mapstructure:"temperatures" json:"temperatures,omitempty"`
	Start        float64   `mapstructure:"start" json:"start,omitempty"`
	End          float64   `mapstructure:"end" json:"end,omitempty"`
	Step         float64   `mapstructure:"step" json:"step,omitempty"`
	CoolingRate  float64   `mapstructure:"cooling_rate" json:"cooling_rate,omitempty"`
}

type Schedule struct {
	temps []float64
}

func New(spec Spec) (Schedule, error) {
	var temps []float64
	switch {
	case len(spec.Temperatures) > 0:
		temps = append([]float64(nil), spec.Temperatures...)
	case spec.CoolingRate != 0:
		if spec.CoolingRate <= 0 || spec.CoolingRate >= 1 {
			return Schedule{}, fmt.Errorf("cooling rate must be in (0,1), got %v", spec.CoolingRate)
		}
		if spec.Start <= 0 || spec.End <= 0 || spec.End > spec.Start {
			return Schedule{}, fmt.Errorf("geometric schedule needs 0 < end <= start, got start=%v end=%v", spec.Start, spec.End)
		}
		for t := spec.Start; t >= spec.End; t *= spec.CoolingRate {
			temps = append(temps, t)
			if len(temps) > maxSteps {
				return Schedule{}, fmt.Errorf("schedule exceeds %d steps", maxSteps)
			}
		}
	case spec.Step != 0:
		if spec.Step < 0 {
			return Schedule{}, fmt.Errorf("step must be > 0, got %v", spec.Step)
		}
		n := int(math.Floor(math.Abs(spec.End-spec.Start)/spec.Step+1e-9)) + 1
		if n > maxSteps {
			return Schedule{}, fmt.Errorf("schedule exceeds %d steps", maxSteps)
		}
		dir := 1.0
		if spec.End < spec.Start {
			dir = -1
		}
		for i := 0; i < n; i++ {
			temps = append(temps, spec.Start+dir*float64(i)*spec.Step)
		}
	default:
		return Schedule{}, errors.New("schedule needs temperatures, a step or a cooling rate")
	}

	s := Schedule{temps: temps}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// Of wraps an explicit list.
func Of(temps ...float64) (Schedule, error) {
	return New(Spec{Temperatures: temps})
}

func (s Schedule) Validate() error {
	if len(s.temps) == 0 {
		return errors.New("schedule is empty")
	}
	for i, t := range s.temps {
		if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
			return fmt.Errorf("temperature %d must be finite and >= 0, got %v", i, t)
		}
	}
	return nil
}

// ValidateAnnealing additionally requires a non-increasing sequence.
func (s Schedule) ValidateAnnealing() error {
	if err := s.Validate(); err != nil {
		return err
	}
	for i := 1; i < len(s.temps); i++ {
		if s.temps[i] > s.temps[i-1] {
			return fmt.Errorf("annealing schedule must be non-increasing: T[%d]=%v > T[%d]=%v", i, s.temps[i], i-1, s.temps[i-1])
		}
	}
	return nil
}

func (s Schedule) Len() int {
	return len(s.temps)
}

func (s Schedule) Temperatures() []float64 {
	return append([]float64(nil), s.temps...)
}

// Cools reports whether the schedule contains at least one strict decrease.
func (s Schedule) Cools() bool {
	for i := 1; i < len(s.temps); i++ {
		if s.temps[i] < s.temps[i-1] {
			return true
		}
	}
	return false
}
