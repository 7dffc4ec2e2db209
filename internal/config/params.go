package config

import (
	"fmt"

	"spinscatter/internal/model"
	"spinscatter/internal/schedule"
)

// Params renders the resolved configuration as a parameter record. Every
// option goes through the same rule: scalars keep their kind, slices and
// schedules become flat lists of numbers.
func (c RunConfig) Params() []model.Param {
	fields := []struct {
		name  string
		value any
	}{
		{"run_id", c.RunID},
		{"lattice", c.Lattice},
		{"data_dir", c.DataDir},
		{"store", c.Store},
		{"datafile", c.Datafile},
		{"datafile_run", c.DatafileRun},
		{"anneal", c.Anneal},
		{"fourier", c.Fourier},
		{"should_plot_spins", c.ShouldPlotSpins},
		{"should_plot_energy", c.ShouldPlotEnergy},
		{"should_plot_neutron", c.ShouldPlotNeutron},
		{"plot_format", c.PlotFormat},
		{"workers", c.Workers},
		{"seed", c.Seed},
		{"schedule", c.Schedule},
		{"anneal_schedule", c.AnnealSchedule},
		{"anneal_sweeps", c.AnnealSweeps},
		{"equilibration_sweeps", c.EquilibrationSweeps},
		{"sweeps", c.Sweeps},
		{"sample_interval", c.SampleInterval},
		{"proposal", c.Proposal},
		{"cone_width", c.ConeWidth},
		{"time_step", c.TimeStep},
		{"planck", c.Planck},
		{"q_max", c.QMax},
		{"q_count", c.QCount},
		{"q_direction", c.QDirection},
		{"fixed_q", c.FixedQ},
		{"log_level", c.LogLevel},
	}
	out := make([]model.Param, 0, len(fields))
	for _, f := range fields {
		out = append(out, param(f.name, f.value))
	}
	return out
}

func param(name string, value any) model.Param {
	switch v := value.(type) {
	case string:
		return model.Param{Name: name, Kind: "string", Value: v}
	case bool:
		return model.Param{Name: name, Kind: "bool", Value: v}
	case int:
		return model.Param{Name: name, Kind: "int", Value: v}
	case int64:
		return model.Param{Name: name, Kind: "int", Value: v}
	case float64:
		return model.Param{Name: name, Kind: "float", Value: v}
	case []float64:
		return model.Param{Name: name, Kind: "list", Value: append([]float64{}, v...)}
	case schedule.Spec:
		if isZeroSpec(v) {
			return model.Param{Name: name, Kind: "list", Value: []float64{}}
		}
		s, err := schedule.New(v)
		if err != nil {
			return model.Param{Name: name, Kind: "string", Value: fmt.Sprintf("invalid: %v", err)}
		}
		return model.Param{Name: name, Kind: "list", Value: s.Temperatures()}
	default:
		return model.Param{Name: name, Kind: "string", Value: fmt.Sprint(v)}
	}
}
