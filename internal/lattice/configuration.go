package lattice

import (
	"math"
	"math/rand"

	"spinscatter/internal/model"
)

// Configuration is a snapshot of all spins paired with its total energy.
// It is a value object: hand copies across goroutines, never the slice.
type Configuration struct {
	Spins  []model.Vec3 `json:"spins"`
	Energy float64      `json:"energy"`
}

func (c Configuration) Clone() Configuration {
	return Configuration{Spins: append([]model.Vec3(nil), c.Spins...), Energy: c.Energy}
}

func (c Configuration) Finite() bool {
	return !math.IsNaN(c.Energy) && !math.IsInf(c.Energy, 0)
}

// RandomConfiguration draws independent spins: +-Z for Ising, uniform on
// the sphere for Heisenberg.
func RandomConfiguration(rng *rand.Rand, l *Lattice) Configuration {
	spins := make([]model.Vec3, l.Len())
	for i := range spins {
		if l.Model == Ising {
			spins[i] = model.Vec3{Z: float64(2*rng.Intn(2) - 1)}
			continue
		}
		spins[i] = randomUnit(rng)
	}
	return Configuration{Spins: spins, Energy: l.Energy(spins)}
}

func randomUnit(rng *rand.Rand) model.Vec3 {
	for {
		v := model.Vec3{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		if n := v.Norm(); n > 1e-12 {
			return v.Scale(1 / n)
		}
	}
}
