package lattice

import (
	"fmt"
	"strings"

	"spinscatter/internal/model"
)

// Geometry describes a hypercubic block of sites.
type Geometry struct {
	Kind     string  `yaml:"kind"`
	Size     []int   `yaml:"size"`
	Spacing  float64 `yaml:"spacing"`
	Periodic bool    `yaml:"periodic"`
}

func (g Geometry) dims() ([3]int, error) {
	var dims [3]int
	switch strings.ToLower(strings.TrimSpace(g.Kind)) {
	case "chain":
		if len(g.Size) < 1 {
			return dims, fmt.Errorf("chain geometry needs a size")
		}
		dims = [3]int{g.Size[0], 1, 1}
	case "square":
		if len(g.Size) < 2 {
			return dims, fmt.Errorf("square geometry needs two sizes")
		}
		dims = [3]int{g.Size[0], g.Size[1], 1}
	case "cubic":
		if len(g.Size) < 3 {
			return dims, fmt.Errorf("cubic geometry needs three sizes")
		}
		dims = [3]int{g.Size[0], g.Size[1], g.Size[2]}
	default:
		return dims, fmt.Errorf("unsupported geometry kind: %s", g.Kind)
	}
	for _, d := range dims {
		if d <= 0 {
			return dims, fmt.Errorf("geometry sizes must be > 0, got %v", g.Size)
		}
	}
	return dims, nil
}

// Build lays out a chain, square or cubic block with nearest-neighbor
// exchange. All spins start along +Z.
func Build(name string, m SpinModel, g Geometry, exchange float64, constants Constants) (*Lattice, error) {
	dims, err := g.dims()
	if err != nil {
		return nil, err
	}
	spacing := g.Spacing
	if spacing == 0 {
		spacing = 1
	}

	l := &Lattice{Name: name, Model: m, Constants: constants}
	index := func(x, y, z int) int {
		return x + dims[0]*(y+dims[1]*z)
	}
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				l.Particles = append(l.Particles, Particle{
					Position: model.Vec3{X: float64(x) * spacing, Y: float64(y) * spacing, Z: float64(z) * spacing},
					Spin:     model.Vec3{Z: 1},
				})
			}
		}
	}

	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				here := index(x, y, z)
				steps := [3][3]int{{x + 1, y, z}, {x, y + 1, z}, {x, y, z + 1}}
				for axis, next := range steps {
					if dims[axis] == 1 {
						continue
					}
					if next[axis] == dims[axis] {
						if !g.Periodic {
							continue
						}
						next[axis] = 0
					}
					if err := l.AddBond(here, index(next[0], next[1], next[2]), exchange); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return l, nil
}

// CoupleWithin bonds every pair of particles closer than cutoff.
func (l *Lattice) CoupleWithin(cutoff, exchange float64) error {
	for i := range l.Particles {
		for j := i + 1; j < len(l.Particles); j++ {
			if l.Particles[i].Position.Sub(l.Particles[j].Position).Norm() <= cutoff {
				if err := l.AddBond(i, j, exchange); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
