package fourier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"runtime"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/dsp/fourier"

	"spinscatter/internal/lattice"
	"spinscatter/internal/logging"
	"spinscatter/internal/model"
	"spinscatter/internal/simulate"
)

// ErrInsufficientTrajectory is returned when a time-axis transform has
// fewer than two samples to work with.
var ErrInsufficientTrajectory = errors.New("fourier: trajectory needs at least two rows")

const (
	defaultQCount = 16
	defaultQMax   = math.Pi
)

// Analyzer turns a trajectory into the dynamic structure factor
//
//	S(q, w) = |sum_j exp(-i q.r_j) S_j(w)|^2 / (N M)
//
// evaluated per temperature segment. It is computed as a sum over
// separation vectors d = r_j - r_i of the time-transformed pair
// correlation G_d(w), so the q stage scales with the number of distinct
// separations rather than with N^2.
type Analyzer struct {
	// Workers bounds the fan-out of every stage. Zero means GOMAXPROCS.
	Workers int
	// TimeStep is the physical time of one sweep. Zero means 1.
	TimeStep float64
	// Planck converts frequency to energy. Zero means 1.
	Planck float64

	// QPoints overrides the generated line of QCount points from 0 to QMax
	// along QDirection.
	QPoints    []model.Vec3
	QMax       float64
	QCount     int
	QDirection model.Vec3
	// FixedQ selects the q point of the reduced energy spectrum.
	FixedQ int

	Logger logrus.FieldLogger
}

// Group collects the ordered site pairs sharing one separation vector.
type Group struct {
	Separation model.Vec3
	Pairs      [][2]int
}

// Correlation is the time-averaged, pair-averaged spin correlation
// <S_i(t).S_j(t+tau)> of one separation, for lags tau = 0..M-1.
type Correlation struct {
	Temperature float64
	Separation  model.Vec3
	Pairs       int
	Lags        []float64
	Values      []float64
}

func (a *Analyzer) workers() int {
	if a.Workers > 0 {
		return a.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (a *Analyzer) timeStep() float64 {
	if a.TimeStep > 0 {
		return a.TimeStep
	}
	return 1
}

func (a *Analyzer) planck() float64 {
	if a.Planck > 0 {
		return a.Planck
	}
	return 1
}

// Q returns the scattering vectors the analyzer evaluates.
func (a *Analyzer) Q() []model.Vec3 {
	if len(a.QPoints) > 0 {
		return append([]model.Vec3(nil), a.QPoints...)
	}
	count := a.QCount
	if count <= 0 {
		count = defaultQCount
	}
	qmax := a.QMax
	if qmax == 0 {
		qmax = defaultQMax
	}
	dir := a.QDirection
	if dir.Norm() == 0 {
		dir = model.Vec3{X: 1}
	}
	dir = dir.Unit()
	out := make([]model.Vec3, count)
	for i := range out {
		frac := 0.0
		if count > 1 {
			frac = float64(i) / float64(count-1)
		}
		out[i] = dir.Scale(frac * qmax)
	}
	return out
}

// Analyze computes one spectrum segment per temperature of traj.
func (a *Analyzer) Analyze(ctx context.Context, l *lattice.Lattice, traj model.Trajectory) (model.Spectrum, error) {
	segments, err := a.prepare(l, traj)
	if err != nil {
		return model.Spectrum{}, err
	}
	qpoints := a.Q()
	if a.FixedQ < 0 || a.FixedQ >= len(qpoints) {
		return model.Spectrum{}, fmt.Errorf("fixed q index %d out of range (q points=%d)", a.FixedQ, len(qpoints))
	}
	groups := SeparationGroups(l.Positions())
	log := logging.OrDiscard(a.Logger)

	spectrum := model.Spectrum{RunID: traj.RunID, QPoints: qpoints, FixedQ: a.FixedQ}
	for _, seg := range segments {
		g, err := a.groupSpectra(ctx, seg, groups, l.Len())
		if err != nil {
			return model.Spectrum{}, err
		}
		out, err := a.intensity(ctx, seg, groups, g, qpoints, l.Len())
		if err != nil {
			return model.Spectrum{}, err
		}
		log.WithFields(logrus.Fields{
			"temperature": seg.Temperature,
			"rows":        len(seg.Rows),
			"separations": len(groups),
			"q_points":    len(qpoints),
		}).Debug("segment transformed")
		spectrum.Segments = append(spectrum.Segments, out)
	}
	return spectrum, nil
}

// Correlations returns the real-time correlation function per separation
// and temperature.
func (a *Analyzer) Correlations(ctx context.Context, l *lattice.Lattice, traj model.Trajectory) ([]Correlation, error) {
	segments, err := a.prepare(l, traj)
	if err != nil {
		return nil, err
	}
	groups := SeparationGroups(l.Positions())
	var out []Correlation
	for _, seg := range segments {
		g, err := a.groupSpectra(ctx, seg, groups, l.Len())
		if err != nil {
			return nil, err
		}
		m := len(seg.Rows)
		fft := fourier.NewCmplxFFT(m)
		dt := float64(seg.Stride) * a.timeStep()
		for k, group := range groups {
			seq := fft.Sequence(nil, g[k])
			corr := Correlation{
				Temperature: seg.Temperature,
				Separation:  group.Separation,
				Pairs:       len(group.Pairs),
				Lags:        make([]float64, m),
				Values:      make([]float64, m),
			}
			norm := float64(m) * float64(m) * float64(len(group.Pairs))
			for tau := 0; tau < m; tau++ {
				corr.Lags[tau] = float64(tau) * dt
				corr.Values[tau] = real(seq[tau]) / norm
			}
			out = append(out, corr)
		}
	}
	return out, nil
}

func (a *Analyzer) prepare(l *lattice.Lattice, traj model.Trajectory) ([]simulate.Segment, error) {
	if len(traj.Rows) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientTrajectory, len(traj.Rows))
	}
	if l == nil || l.Len() == 0 {
		return nil, errors.New("lattice geometry is required")
	}
	if traj.Sites == 0 {
		traj.Sites = len(traj.Rows[0].Spins)
	}
	if traj.Sites != l.Len() {
		return nil, fmt.Errorf("trajectory has %d sites, lattice has %d", traj.Sites, l.Len())
	}
	if err := simulate.ValidateTrajectory(traj); err != nil {
		return nil, err
	}
	segments := simulate.Segments(traj)
	for _, seg := range segments {
		if len(seg.Rows) < 2 {
			return nil, fmt.Errorf("%w: T=%v has %d row", ErrInsufficientTrajectory, seg.Temperature, len(seg.Rows))
		}
	}
	return segments, nil
}

// groupSpectra returns G_d(w) = sum over pairs (i,j) in d and spin
// components of conj(S_i(w)) S_j(w), indexed [group][frequency bin].
func (a *Analyzer) groupSpectra(ctx context.Context, seg simulate.Segment, groups []Group, sites int) ([][]complex128, error) {
	m := len(seg.Rows)
	site := make([][3][]complex128, sites)
	err := parallelFor(ctx, sites, a.workers(), func(lo, hi int) error {
		fft := fourier.NewCmplxFFT(m)
		series := make([]complex128, m)
		for i := lo; i < hi; i++ {
			for c := 0; c < 3; c++ {
				for t, row := range seg.Rows {
					series[t] = complex(component(row.Spins[i], c), 0)
				}
				site[i][c] = fft.Coefficients(nil, series)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([][]complex128, len(groups))
	err = parallelFor(ctx, len(groups), a.workers(), func(lo, hi int) error {
		for k := lo; k < hi; k++ {
			acc := make([]complex128, m)
			for _, pair := range groups[k].Pairs {
				si, sj := site[pair[0]], site[pair[1]]
				for c := 0; c < 3; c++ {
					for w := 0; w < m; w++ {
						acc[w] += cmplx.Conj(si[c][w]) * sj[c][w]
					}
				}
			}
			out[k] = acc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Analyzer) intensity(ctx context.Context, seg simulate.Segment, groups []Group, g [][]complex128, qpoints []model.Vec3, sites int) (model.SpectrumSegment, error) {
	m := len(seg.Rows)
	order := shiftedOrder(m)
	dt := float64(seg.Stride) * a.timeStep()
	out := model.SpectrumSegment{
		Block:       seg.Block,
		Temperature: seg.Temperature,
		Rows:        m,
		Frequencies: make([]float64, m),
		Energies:    make([]float64, m),
		Intensity:   make([][]float64, len(qpoints)),
	}
	for pos, k := range order {
		out.Frequencies[pos] = binFrequency(k, m, dt)
		out.Energies[pos] = a.planck() * out.Frequencies[pos]
	}

	norm := float64(sites) * float64(m)
	err := parallelFor(ctx, len(qpoints), a.workers(), func(lo, hi int) error {
		for qi := lo; qi < hi; qi++ {
			q := qpoints[qi]
			phases := make([]complex128, len(groups))
			for k, group := range groups {
				phases[k] = cmplx.Exp(complex(0, -q.Dot(group.Separation)))
			}
			row := make([]float64, m)
			for pos, w := range order {
				var sum complex128
				for k := range groups {
					sum += phases[k] * g[k][w]
				}
				row[pos] = cmplx.Abs(sum) / norm
			}
			out.Intensity[qi] = row
		}
		return nil
	})
	if err != nil {
		return model.SpectrumSegment{}, err
	}

	out.EnergySpectrum = append([]float64(nil), out.Intensity[a.FixedQ]...)
	out.IntegratedSpectrum = make([]float64, m)
	for _, row := range out.Intensity {
		for w, v := range row {
			out.IntegratedSpectrum[w] += v
		}
	}
	return out, nil
}

func component(v model.Vec3, c int) float64 {
	switch c {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// binFrequency maps FFT bin k of an m-point transform to a signed
// frequency, negative bins above the midpoint.
func binFrequency(k, m int, dt float64) float64 {
	if k >= (m+1)/2 {
		k -= m
	}
	return float64(k) / (float64(m) * dt)
}

// shiftedOrder lists FFT bins by ascending frequency.
func shiftedOrder(m int) []int {
	half := (m + 1) / 2
	out := make([]int, 0, m)
	for k := half; k < m; k++ {
		out = append(out, k)
	}
	for k := 0; k < half; k++ {
		out = append(out, k)
	}
	return out
}
