package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"spinscatter/internal/model"
)

// ThermoPoint summarizes the rows recorded at one temperature. Energies
// are per site.
type ThermoPoint struct {
	Block          int     `json:"block"`
	Temperature    float64 `json:"temperature"`
	Samples        int     `json:"samples"`
	MeanEnergy     float64 `json:"mean_energy"`
	EnergyStd      float64 `json:"energy_std"`
	SpecificHeat   float64 `json:"specific_heat"`
	Magnetization  float64 `json:"magnetization"`
	Susceptibility float64 `json:"susceptibility"`
}

// Thermodynamics computes fluctuation estimates per temperature block:
//
//	C = N var(E/N) / T^2    chi = N var(m) / T
//
// Both are zero at T <= 0.
func Thermodynamics(trajectory model.Trajectory) []ThermoPoint {
	sites := trajectory.Sites
	if sites <= 0 && len(trajectory.Rows) > 0 {
		sites = len(trajectory.Rows[0].Spins)
	}
	if sites <= 0 {
		sites = 1
	}
	n := float64(sites)

	var out []ThermoPoint
	for start := 0; start < len(trajectory.Rows); {
		temp := trajectory.Rows[start].Temperature
		end := start + 1
		for end < len(trajectory.Rows) && !trajectory.NewBlock(end) {
			end++
		}
		energies := make([]float64, 0, end-start)
		mags := make([]float64, 0, end-start)
		for _, row := range trajectory.Rows[start:end] {
			energies = append(energies, row.Energy/n)
			mags = append(mags, row.Magnetization)
		}

		meanE, varE := stat.PopMeanVariance(energies, nil)
		meanM, varM := stat.PopMeanVariance(mags, nil)
		point := ThermoPoint{
			Block:         trajectory.Rows[start].Block,
			Temperature:   temp,
			Samples:       end - start,
			MeanEnergy:    meanE,
			EnergyStd:     math.Sqrt(varE),
			Magnetization: meanM,
		}
		if temp > 0 {
			point.SpecificHeat = n * varE / (temp * temp)
			point.Susceptibility = n * varM / temp
		}
		out = append(out, point)
		start = end
	}
	return out
}
