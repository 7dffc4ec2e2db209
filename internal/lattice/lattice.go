package lattice

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"spinscatter/internal/model"
)

type SpinModel string

const (
	Ising      SpinModel = "ising"
	Heisenberg SpinModel = "heisenberg"
)

func ParseSpinModel(name string) (SpinModel, error) {
	switch SpinModel(strings.ToLower(strings.TrimSpace(name))) {
	case "", Heisenberg:
		return Heisenberg, nil
	case Ising:
		return Ising, nil
	default:
		return "", fmt.Errorf("unsupported spin model: %s", name)
	}
}

// Coupling is one directed half of a symmetric bond.
type Coupling struct {
	To       int     `json:"to"`
	Strength float64 `json:"strength"`
}

type Particle struct {
	Position  model.Vec3 `json:"position"`
	Spin      model.Vec3 `json:"spin"`
	Couplings []Coupling `json:"couplings"`
}

// Constants are the global terms of the Hamiltonian
//
//	E = -sum_bonds J_ij S_i.S_j - D sum_i (S_i.n)^2 - sum_i B.S_i
//
// where each bond is counted once, D is Anisotropy, n is AnisotropyAxis and
// B is Field, all in energy units.
type Constants struct {
	Field          model.Vec3 `json:"field"`
	Anisotropy     float64    `json:"anisotropy"`
	AnisotropyAxis model.Vec3 `json:"anisotropy_axis"`
}

type Lattice struct {
	Name      string     `json:"name"`
	Model     SpinModel  `json:"model"`
	Particles []Particle `json:"particles"`
	Constants Constants  `json:"constants"`
}

func (l *Lattice) Len() int {
	return len(l.Particles)
}

func (l *Lattice) Positions() []model.Vec3 {
	out := make([]model.Vec3, len(l.Particles))
	for i, p := range l.Particles {
		out[i] = p.Position
	}
	return out
}

// AddBond couples i and j symmetrically. Repeated bonds between the same
// pair accumulate their strengths.
func (l *Lattice) AddBond(i, j int, strength float64) error {
	if i == j {
		return fmt.Errorf("self coupling on particle %d", i)
	}
	if i < 0 || j < 0 || i >= len(l.Particles) || j >= len(l.Particles) {
		return fmt.Errorf("bond %d-%d out of range (particles=%d)", i, j, len(l.Particles))
	}
	l.addHalfBond(i, j, strength)
	l.addHalfBond(j, i, strength)
	return nil
}

func (l *Lattice) addHalfBond(from, to int, strength float64) {
	couplings := l.Particles[from].Couplings
	for k := range couplings {
		if couplings[k].To == to {
			couplings[k].Strength += strength
			return
		}
	}
	l.Particles[from].Couplings = append(couplings, Coupling{To: to, Strength: strength})
}

// Validate checks that every coupling resolves to a particle of this lattice,
// that bonds are symmetric and that all constants are finite.
func (l *Lattice) Validate() error {
	if l == nil {
		return errors.New("lattice is required")
	}
	if len(l.Particles) == 0 {
		return errors.New("lattice has no particles")
	}
	if _, err := ParseSpinModel(string(l.Model)); err != nil {
		return err
	}
	if !l.Constants.Field.IsFinite() || !l.Constants.AnisotropyAxis.IsFinite() || math.IsNaN(l.Constants.Anisotropy) || math.IsInf(l.Constants.Anisotropy, 0) {
		return errors.New("lattice constants must be finite")
	}
	for i, p := range l.Particles {
		if !p.Position.IsFinite() {
			return fmt.Errorf("particle %d has a non-finite position", i)
		}
		seen := make(map[int]struct{}, len(p.Couplings))
		for _, c := range p.Couplings {
			if c.To < 0 || c.To >= len(l.Particles) {
				return fmt.Errorf("particle %d couples to missing particle %d", i, c.To)
			}
			if c.To == i {
				return fmt.Errorf("particle %d couples to itself", i)
			}
			if _, dup := seen[c.To]; dup {
				return fmt.Errorf("particle %d lists particle %d twice", i, c.To)
			}
			seen[c.To] = struct{}{}
			back, ok := l.strength(c.To, i)
			if !ok || back != c.Strength {
				return fmt.Errorf("bond %d-%d is not symmetric", i, c.To)
			}
		}
	}
	return nil
}

func (l *Lattice) strength(from, to int) (float64, bool) {
	for _, c := range l.Particles[from].Couplings {
		if c.To == to {
			return c.Strength, true
		}
	}
	return 0, false
}

// Bonds returns the number of distinct bonds.
func (l *Lattice) Bonds() int {
	n := 0
	for i, p := range l.Particles {
		for _, c := range p.Couplings {
			if c.To > i {
				n++
			}
		}
	}
	return n
}

// Energy evaluates the Hamiltonian from scratch.
func (l *Lattice) Energy(spins []model.Vec3) float64 {
	axis := l.Constants.AnisotropyAxis.Unit()
	energy := 0.0
	for i, p := range l.Particles {
		s := spins[i]
		for _, c := range p.Couplings {
			if c.To > i {
				energy -= c.Strength * s.Dot(spins[c.To])
			}
		}
		if l.Constants.Anisotropy != 0 {
			proj := s.Dot(axis)
			energy -= l.Constants.Anisotropy * proj * proj
		}
		energy -= l.Constants.Field.Dot(s)
	}
	return energy
}

// LocalField is the exchange field of the neighbors of i plus the external
// field.
func (l *Lattice) LocalField(spins []model.Vec3, i int) model.Vec3 {
	h := l.Constants.Field
	for _, c := range l.Particles[i].Couplings {
		h = h.Add(spins[c.To].Scale(c.Strength))
	}
	return h
}

// DeltaEnergy is the energy change of replacing spin i with next. It only
// touches the neighbors of i.
func (l *Lattice) DeltaEnergy(spins []model.Vec3, i int, next model.Vec3) float64 {
	prev := spins[i]
	delta := -next.Sub(prev).Dot(l.LocalField(spins, i))
	if l.Constants.Anisotropy != 0 {
		axis := l.Constants.AnisotropyAxis.Unit()
		pn, pp := next.Dot(axis), prev.Dot(axis)
		delta -= l.Constants.Anisotropy * (pn*pn - pp*pp)
	}
	return delta
}

// Magnetization is |sum S_i| / N.
func Magnetization(spins []model.Vec3) float64 {
	if len(spins) == 0 {
		return 0
	}
	var total model.Vec3
	for _, s := range spins {
		total = total.Add(s)
	}
	return total.Norm() / float64(len(spins))
}

// Clone deep-copies the lattice so that workers never share coupling slices.
func (l *Lattice) Clone() *Lattice {
	out := *l
	out.Particles = make([]Particle, len(l.Particles))
	for i, p := range l.Particles {
		p.Couplings = append([]Coupling(nil), p.Couplings...)
		out.Particles[i] = p
	}
	return &out
}

// Configuration returns the spins stored on the particles with their energy.
func (l *Lattice) Configuration() Configuration {
	spins := make([]model.Vec3, len(l.Particles))
	for i, p := range l.Particles {
		spins[i] = l.normalizeSpin(p.Spin)
	}
	return Configuration{Spins: spins, Energy: l.Energy(spins)}
}

// Apply stores cfg on the particles.
func (l *Lattice) Apply(cfg Configuration) error {
	if len(cfg.Spins) != len(l.Particles) {
		return fmt.Errorf("configuration has %d spins, lattice has %d particles", len(cfg.Spins), len(l.Particles))
	}
	for i := range l.Particles {
		l.Particles[i].Spin = cfg.Spins[i]
	}
	return nil
}

func (l *Lattice) normalizeSpin(s model.Vec3) model.Vec3 {
	if l.Model == Ising {
		if s.Z < 0 {
			return model.Vec3{Z: -1}
		}
		return model.Vec3{Z: 1}
	}
	return s.Unit()
}
