package fourier

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"spinscatter/internal/model"
)

// separationTolerance is the grid used to decide that two separation
// vectors are the same.
const separationTolerance = 1e-6

type separationKey struct {
	x, y, z int64
}

func keyOf(v model.Vec3) separationKey {
	return separationKey{
		x: int64(math.Round(v.X / separationTolerance)),
		y: int64(math.Round(v.Y / separationTolerance)),
		z: int64(math.Round(v.Z / separationTolerance)),
	}
}

// SeparationGroups buckets every ordered pair (i, j), i == j included, by
// r_j - r_i. Groups come back in a deterministic order.
func SeparationGroups(positions []model.Vec3) []Group {
	index := make(map[separationKey]int)
	var groups []Group
	for i, ri := range positions {
		for j, rj := range positions {
			d := rj.Sub(ri)
			key := keyOf(d)
			k, ok := index[key]
			if !ok {
				k = len(groups)
				index[key] = k
				groups = append(groups, Group{Separation: d})
			}
			groups[k].Pairs = append(groups[k].Pairs, [2]int{i, j})
		}
	}
	sort.SliceStable(groups, func(a, b int) bool {
		ka, kb := keyOf(groups[a].Separation), keyOf(groups[b].Separation)
		if ka.x != kb.x {
			return ka.x < kb.x
		}
		if ka.y != kb.y {
			return ka.y < kb.y
		}
		return ka.z < kb.z
	})
	return groups
}

// parallelFor splits [0, n) into at most workers contiguous chunks and runs
// fn on each. The first error cancels the remaining chunks.
func parallelFor(ctx context.Context, n, workers int, fn func(lo, hi int) error) error {
	if n == 0 {
		return ctx.Err()
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		lo := lo
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}
