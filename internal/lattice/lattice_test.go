package lattice

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spinscatter/internal/model"
)

func heisenbergSquare(t *testing.T) *Lattice {
	t.Helper()
	l, err := Build("square", Heisenberg, Geometry{Kind: "square", Size: []int{4, 4}, Periodic: true}, 1.0, Constants{
		Field:          model.Vec3{X: 0.1, Z: 0.3},
		Anisotropy:     0.2,
		AnisotropyAxis: model.Vec3{Z: 1},
	})
	require.NoError(t, err)
	return l
}

func TestBuildSquarePeriodicBondCount(t *testing.T) {
	l, err := Build("sq", Ising, Geometry{Kind: "square", Size: []int{3, 3}, Periodic: true}, 1, Constants{})
	require.NoError(t, err)
	assert.Equal(t, 9, l.Len())
	assert.Equal(t, 18, l.Bonds())
	require.NoError(t, l.Validate())

	open, err := Build("sq", Ising, Geometry{Kind: "square", Size: []int{3, 3}}, 1, Constants{})
	require.NoError(t, err)
	assert.Equal(t, 12, open.Bonds())
}

func TestBuildPeriodicPairMergesBond(t *testing.T) {
	l, err := Build("pair", Ising, Geometry{Kind: "chain", Size: []int{2}, Periodic: true}, 1.5, Constants{})
	require.NoError(t, err)
	require.Equal(t, 1, l.Bonds())
	assert.Equal(t, 3.0, l.Particles[0].Couplings[0].Strength)
}

func TestBuildRejectsBadGeometry(t *testing.T) {
	_, err := Build("x", Ising, Geometry{Kind: "hexagonal", Size: []int{2}}, 1, Constants{})
	assert.Error(t, err)
	_, err = Build("x", Ising, Geometry{Kind: "square", Size: []int{2, 0}}, 1, Constants{})
	assert.Error(t, err)
}

func TestValidateRejectsDanglingCoupling(t *testing.T) {
	l := &Lattice{Model: Ising, Particles: []Particle{
		{Couplings: []Coupling{{To: 3, Strength: 1}}},
		{},
	}}
	assert.Error(t, l.Validate())

	asym := &Lattice{Model: Ising, Particles: []Particle{
		{Couplings: []Coupling{{To: 1, Strength: 1}}},
		{},
	}}
	assert.Error(t, asym.Validate())
}

func TestIsingPairEnergy(t *testing.T) {
	l := &Lattice{Model: Ising, Particles: make([]Particle, 2)}
	require.NoError(t, l.AddBond(0, 1, 1))

	aligned := []model.Vec3{{Z: 1}, {Z: 1}}
	opposed := []model.Vec3{{Z: 1}, {Z: -1}}
	assert.Equal(t, -1.0, l.Energy(aligned))
	assert.Equal(t, 1.0, l.Energy(opposed))
	assert.Equal(t, 2.0, l.DeltaEnergy(aligned, 1, model.Vec3{Z: -1}))
}

func TestDeltaEnergyMatchesRecompute(t *testing.T) {
	l := heisenbergSquare(t)
	rng := rand.New(rand.NewSource(3))
	cfg := RandomConfiguration(rng, l)
	proposer, err := NewProposer("cone", 0.5)
	require.NoError(t, err)

	for k := 0; k < 200; k++ {
		i := rng.Intn(l.Len())
		candidate := proposer.Propose(rng, cfg.Spins[i])
		before := l.Energy(cfg.Spins)
		delta := l.DeltaEnergy(cfg.Spins, i, candidate)
		cfg.Spins[i] = candidate
		after := l.Energy(cfg.Spins)
		assert.InDelta(t, after-before, delta, 1e-9)
	}
}

func TestSweepTracksEnergyIncrementally(t *testing.T) {
	l := heisenbergSquare(t)
	rng := rand.New(rand.NewSource(9))
	cfg := RandomConfiguration(rng, l)
	proposer, err := NewProposer("uniform", 0)
	require.NoError(t, err)

	for sweep := 0; sweep < 50; sweep++ {
		Sweep(rng, l, &cfg, 0.8, proposer)
		require.InDelta(t, l.Energy(cfg.Spins), cfg.Energy, 1e-8, "sweep %d", sweep)
	}
	for _, s := range cfg.Spins {
		assert.InDelta(t, 1.0, s.Norm(), 1e-12)
	}
}

func TestMetropolisAlwaysAcceptsDownhill(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, temperature := range []float64{0, 0.1, 1, 10} {
		for _, delta := range []float64{-5, -0.1, 0} {
			assert.True(t, Metropolis(delta, temperature, rng))
		}
	}
	assert.False(t, Metropolis(0.1, 0, rng))
}

func TestMetropolisAcceptanceRateMatchesBoltzmann(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cases := []struct {
		delta       float64
		temperature float64
	}{
		{delta: 1, temperature: 1},
		{delta: 0.5, temperature: 2},
		{delta: 3, temperature: 1.5},
	}
	const trials = 200000
	for _, tc := range cases {
		accepted := 0
		for i := 0; i < trials; i++ {
			if Metropolis(tc.delta, tc.temperature, rng) {
				accepted++
			}
		}
		want := math.Exp(-tc.delta / tc.temperature)
		assert.InDelta(t, want, float64(accepted)/trials, 0.01, "delta=%v T=%v", tc.delta, tc.temperature)
	}
}

func TestProposerRules(t *testing.T) {
	_, err := NewProposer("teleport", 0)
	assert.Error(t, err)

	cone, err := NewProposer("cone", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultConeWidth, cone.ConeWidth)
	assert.Error(t, cone.Check(Ising))

	flip, err := NewProposer("", 0)
	require.NoError(t, err)
	assert.NoError(t, flip.Check(Ising))
	assert.Equal(t, model.Vec3{Z: -1}, flip.Propose(rand.New(rand.NewSource(1)), model.Vec3{Z: 1}))
}

func TestConfigurationCloneDoesNotAlias(t *testing.T) {
	cfg := Configuration{Spins: []model.Vec3{{Z: 1}, {Z: -1}}, Energy: -1}
	cp := cfg.Clone()
	cp.Spins[0] = model.Vec3{Z: -1}
	assert.Equal(t, 1.0, cfg.Spins[0].Z)
}

func TestMagnetization(t *testing.T) {
	assert.Equal(t, 1.0, Magnetization([]model.Vec3{{Z: 1}, {Z: 1}}))
	assert.Equal(t, 0.0, Magnetization([]model.Vec3{{Z: 1}, {Z: -1}}))
	assert.Equal(t, 0.0, Magnetization(nil))
}

func TestDecodeGeneratedLattice(t *testing.T) {
	doc := `
name: square-4
model: heisenberg
exchange: -1.0
field: [0, 0, 0.5]
anisotropy: 0.1
generate:
  kind: square
  size: [4, 4]
  spacing: 2.0
  periodic: true
`
	l, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "square-4", l.Name)
	assert.Equal(t, Heisenberg, l.Model)
	assert.Equal(t, 16, l.Len())
	assert.Equal(t, 32, l.Bonds())
	assert.Equal(t, model.Vec3{Z: 0.5}, l.Constants.Field)
	assert.Equal(t, model.Vec3{Z: 1}, l.Constants.AnisotropyAxis)
	assert.Equal(t, model.Vec3{X: 2}, l.Particles[1].Position)
	assert.Equal(t, -1.0, l.Particles[0].Couplings[0].Strength)
}

func TestDecodeExplicitLattice(t *testing.T) {
	doc := `
name: dimer
model: ising
particles:
  - position: [0, 0, 0]
    spin: [1]
  - position: [1, 0, 0]
    spin: [-1]
couplings:
  - {from: 0, to: 1, strength: 2.5}
`
	l, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())
	assert.Equal(t, 2.5, l.Particles[1].Couplings[0].Strength)
	cfg := l.Configuration()
	assert.Equal(t, 2.5, cfg.Energy)
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	cases := map[string]string{
		"unknown field":  "name: x\nbogus: 1\n",
		"bad model":      "model: potts\nparticles: [{position: [0,0,0]}]\n",
		"missing target": "particles: [{position: [0,0,0]}]\ncouplings: [{from: 0, to: 4}]\n",
		"bad vector":     "particles: [{position: [0,0]}]\n",
		"empty":          "name: x\n",
	}
	for name, doc := range cases {
		_, err := Decode(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}
