package lattice

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"spinscatter/internal/model"
)

type Proposal string

const (
	ProposalFlip    Proposal = "flip"
	ProposalUniform Proposal = "uniform"
	ProposalCone    Proposal = "cone"
)

const defaultConeWidth = 0.3

// Proposer draws a candidate orientation for a single spin.
type Proposer struct {
	Kind      Proposal
	ConeWidth float64
}

func NewProposer(kind string, coneWidth float64) (Proposer, error) {
	switch Proposal(strings.ToLower(strings.TrimSpace(kind))) {
	case "", ProposalFlip:
		return Proposer{Kind: ProposalFlip}, nil
	case ProposalUniform:
		return Proposer{Kind: ProposalUniform}, nil
	case ProposalCone:
		if coneWidth < 0 {
			return Proposer{}, fmt.Errorf("cone width must be >= 0, got %v", coneWidth)
		}
		if coneWidth == 0 {
			coneWidth = defaultConeWidth
		}
		return Proposer{Kind: ProposalCone, ConeWidth: coneWidth}, nil
	default:
		return Proposer{}, fmt.Errorf("unsupported proposal: %s", kind)
	}
}

// Check rejects proposals that would leave the spin model's state space.
func (p Proposer) Check(m SpinModel) error {
	if m == Ising && p.Kind != ProposalFlip && p.Kind != "" {
		return fmt.Errorf("ising lattices only support the %s proposal, got %s", ProposalFlip, p.Kind)
	}
	return nil
}

func (p Proposer) Propose(rng *rand.Rand, current model.Vec3) model.Vec3 {
	switch p.Kind {
	case ProposalUniform:
		return randomUnit(rng)
	case ProposalCone:
		width := p.ConeWidth
		if width == 0 {
			width = defaultConeWidth
		}
		return current.Add(randomUnit(rng).Scale(width)).Unit()
	default:
		return current.Scale(-1)
	}
}

// Metropolis accepts downhill moves unconditionally and uphill moves with
// probability exp(-delta/T). At T <= 0 only downhill moves pass.
func Metropolis(delta, temperature float64, rng *rand.Rand) bool {
	if delta <= 0 {
		return true
	}
	if temperature <= 0 {
		return false
	}
	return rng.Float64() < math.Exp(-delta/temperature)
}

// Sweep performs one Monte Carlo sweep: N single-spin proposals on randomly
// chosen sites. cfg.Energy is updated incrementally on every accepted move.
func Sweep(rng *rand.Rand, l *Lattice, cfg *Configuration, temperature float64, proposer Proposer) int {
	n := len(cfg.Spins)
	accepted := 0
	for k := 0; k < n; k++ {
		i := rng.Intn(n)
		candidate := proposer.Propose(rng, cfg.Spins[i])
		delta := l.DeltaEnergy(cfg.Spins, i, candidate)
		if Metropolis(delta, temperature, rng) {
			cfg.Spins[i] = candidate
			cfg.Energy += delta
			accepted++
		}
	}
	return accepted
}
