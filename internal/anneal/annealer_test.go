package anneal

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spinscatter/internal/lattice"
	"spinscatter/internal/model"
	"spinscatter/internal/schedule"
)

func dimer(t *testing.T) *lattice.Lattice {
	t.Helper()
	l := &lattice.Lattice{Name: "dimer", Model: lattice.Ising, Particles: []lattice.Particle{
		{Position: model.Vec3{}},
		{Position: model.Vec3{X: 1}},
	}}
	require.NoError(t, l.AddBond(0, 1, 1))
	return l
}

func TestAnnealDimerReachesGroundState(t *testing.T) {
	l := dimer(t)
	s, err := schedule.Of(2.0, 1.0, 0.1)
	require.NoError(t, err)

	a := &Annealer{Workers: 4, SweepsPerTemperature: 100, Seed: 7}
	res, err := a.Run(context.Background(), l, s)
	require.NoError(t, err)

	assert.Equal(t, -1.0, res.Best.Energy)
	assert.Equal(t, l.Energy(res.Best.Spins), res.Best.Energy)
	require.Len(t, res.Workers, 4)
	for _, w := range res.Workers {
		assert.LessOrEqual(t, res.Best.Energy, w.Initial.Energy, "worker %d", w.Worker)
	}
	assert.Zero(t, res.Failed())
}

func TestAnnealDescentOnHeisenbergSquare(t *testing.T) {
	l, err := lattice.Build("sq", lattice.Heisenberg, lattice.Geometry{Kind: "square", Size: []int{4, 4}, Periodic: true}, 1, lattice.Constants{})
	require.NoError(t, err)
	s, err := schedule.New(schedule.Spec{Start: 2, End: 0.05, CoolingRate: 0.6})
	require.NoError(t, err)
	proposer, err := lattice.NewProposer("cone", 0.4)
	require.NoError(t, err)

	a := &Annealer{Workers: 3, SweepsPerTemperature: 20, Proposer: proposer, Seed: 1}
	res, err := a.Run(context.Background(), l, s)
	require.NoError(t, err)

	for _, w := range res.Workers {
		assert.LessOrEqual(t, res.Best.Energy, w.Initial.Energy)
		assert.LessOrEqual(t, w.Best.Energy, w.Initial.Energy)
	}
	assert.InDelta(t, l.Energy(res.Best.Spins), res.Best.Energy, 1e-8)
	// 32 ferromagnetic bonds; a well annealed state sits near -32.
	assert.Less(t, res.Best.Energy, -24.0)
}

func TestAnnealIsDeterministicForSeed(t *testing.T) {
	l := dimer(t)
	s, err := schedule.Of(1.0, 0.5)
	require.NoError(t, err)

	a := &Annealer{Workers: 2, SweepsPerTemperature: 10, Seed: 99}
	first, err := a.Run(context.Background(), l, s)
	require.NoError(t, err)
	second, err := a.Run(context.Background(), l, s)
	require.NoError(t, err)
	assert.Equal(t, first.Best, second.Best)
	assert.Equal(t, first.Worker, second.Worker)
}

func TestAnnealAllWorkersFailIsConvergenceFailure(t *testing.T) {
	l := dimer(t)
	l.Constants.Anisotropy = math.MaxFloat64
	l.Constants.AnisotropyAxis = model.Vec3{Z: 1}
	s, err := schedule.Of(1.0)
	require.NoError(t, err)

	a := &Annealer{Workers: 3, SweepsPerTemperature: 5}
	res, err := a.Run(context.Background(), l, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConvergenceFailure)

	var workerErr *WorkerError
	assert.True(t, errors.As(err, &workerErr))
	assert.Equal(t, 3, res.Failed())
}

func TestSelectBestContainsFailuresAndBreaksTiesByWorker(t *testing.T) {
	cfg := func(e float64) lattice.Configuration {
		return lattice.Configuration{Spins: []model.Vec3{{Z: 1}}, Energy: e}
	}
	results := []WorkerResult{
		{Worker: 0, Err: &WorkerError{Worker: 0, Err: errNonFinite}},
		{Worker: 1, Best: cfg(-2)},
		{Worker: 2, Best: cfg(-2)},
		{Worker: 3, Best: cfg(-1)},
	}
	res, err := selectBest(results)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Worker)
	assert.Equal(t, -2.0, res.Best.Energy)
	assert.Equal(t, 1, res.Failed())

	res.Best.Spins[0] = model.Vec3{Z: -1}
	assert.Equal(t, 1.0, results[1].Best.Spins[0].Z)
}

func TestAnnealValidation(t *testing.T) {
	l := dimer(t)
	good, err := schedule.Of(1.0, 0.5)
	require.NoError(t, err)
	rising, err := schedule.Of(0.5, 1.0)
	require.NoError(t, err)
	cone, err := lattice.NewProposer("cone", 0.2)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = (&Annealer{SweepsPerTemperature: 1}).Run(ctx, l, good)
	assert.Error(t, err)
	_, err = (&Annealer{Workers: 1}).Run(ctx, l, good)
	assert.Error(t, err)
	_, err = (&Annealer{Workers: 1, SweepsPerTemperature: 1}).Run(ctx, l, rising)
	assert.Error(t, err)
	_, err = (&Annealer{Workers: 1, SweepsPerTemperature: 1, Proposer: cone}).Run(ctx, l, good)
	assert.Error(t, err)
}

func TestAnnealHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := schedule.Of(1.0)
	require.NoError(t, err)
	_, err = (&Annealer{Workers: 2, SweepsPerTemperature: 1}).Run(ctx, dimer(t), s)
	assert.ErrorIs(t, err, context.Canceled)
}
