// Package render draws spin configurations, energy traces and scattering
// spectra with gonum/plot. The output format is chosen per call.
package render

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	_ "gonum.org/v1/plot/vg/vgeps"
	_ "gonum.org/v1/plot/vg/vgimg"
	_ "gonum.org/v1/plot/vg/vgpdf"
	_ "gonum.org/v1/plot/vg/vgsvg"

	"spinscatter/internal/model"
)

var formats = []string{"png", "svg", "pdf", "eps", "jpg", "jpeg", "tif", "tiff"}

// Options sizes and encodes one figure. Width and Height are in inches.
type Options struct {
	Format string
	Width  float64
	Height float64
}

func (o Options) normalized() (Options, error) {
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Format == "" {
		o.Format = "png"
	}
	if !ValidFormat(o.Format) {
		return Options{}, fmt.Errorf("unsupported plot format: %s", o.Format)
	}
	if o.Width <= 0 {
		o.Width = 6
	}
	if o.Height <= 0 {
		o.Height = 4
	}
	return o, nil
}

func ValidFormat(format string) bool {
	for _, f := range formats {
		if f == format {
			return true
		}
	}
	return false
}

// FileName appends the extension of the configured format to base.
func (o Options) FileName(base string) string {
	n, err := o.normalized()
	if err != nil {
		return base
	}
	return base + "." + n.Format
}

// Encode writes p to w.
func Encode(w io.Writer, p *plot.Plot, opts Options) error {
	opts, err := opts.normalized()
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(vg.Length(opts.Width)*vg.Inch, vg.Length(opts.Height)*vg.Inch, opts.Format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save writes p to path.
func Save(path string, p *plot.Plot, opts Options) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Encode(f, p, opts)
}

// SpinMap projects every spin onto the xy plane as an arrow anchored at
// its site, colored by its z component.
func SpinMap(title string, positions, spins []model.Vec3) (*plot.Plot, error) {
	if len(positions) != len(spins) {
		return nil, fmt.Errorf("spin map: %d positions for %d spins", len(positions), len(spins))
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("spin map: no sites")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	sites := make(plotter.XYs, len(positions))
	for i, r := range positions {
		sites[i].X, sites[i].Y = r.X, r.Y
	}
	scatter, err := plotter.NewScatter(sites)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(scatter, &arrows{positions: positions, spins: spins, scale: arrowScale(positions), palette: palette.Heat(64, 1)})
	return p, nil
}

// EnergyCurve plots the recorded energy against the sweep index, one line
// per temperature.
func EnergyCurve(title string, trajectory model.Trajectory) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "sweep"
	p.Y.Label.Text = "energy"

	i := 0
	for start := 0; start < len(trajectory.Rows); i++ {
		temp := trajectory.Rows[start].Temperature
		end := start
		for end < len(trajectory.Rows) && trajectory.Rows[end].Temperature == temp {
			end++
		}
		pts := make(plotter.XYs, 0, end-start)
		for _, row := range trajectory.Rows[start:end] {
			pts = append(pts, plotter.XY{X: float64(row.Step), Y: row.Energy})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("energy curve at T=%v: %w", temp, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("T=%g", temp), line)
		start = end
	}
	return p, nil
}

// EnergySpectrum plots the fixed-q spectrum of every temperature against
// energy transfer.
func EnergySpectrum(title string, spectrum model.Spectrum) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "energy"
	p.Y.Label.Text = "S(q, E)"

	for i, seg := range spectrum.Segments {
		if len(seg.EnergySpectrum) != len(seg.Energies) {
			return nil, fmt.Errorf("energy spectrum at T=%v: %d values for %d energies", seg.Temperature, len(seg.EnergySpectrum), len(seg.Energies))
		}
		pts := make(plotter.XYs, len(seg.Energies))
		for w := range seg.Energies {
			pts[w] = plotter.XY{X: seg.Energies[w], Y: seg.EnergySpectrum[w]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("energy spectrum at T=%v: %w", seg.Temperature, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("T=%g", seg.Temperature), line)
	}
	return p, nil
}

// IntensityMap draws S(|q|, E) of one segment as a heat map.
func IntensityMap(title string, qpoints []model.Vec3, seg model.SpectrumSegment) (*plot.Plot, error) {
	if len(seg.Intensity) != len(qpoints) || len(qpoints) == 0 {
		return nil, fmt.Errorf("intensity map: %d rows for %d q points", len(seg.Intensity), len(qpoints))
	}
	if len(seg.Energies) == 0 {
		return nil, fmt.Errorf("intensity map: empty energy axis")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "energy"
	p.Y.Label.Text = "|q|"

	grid := intensityGrid{energies: seg.Energies, q: make([]float64, len(qpoints)), z: seg.Intensity}
	for i, q := range qpoints {
		grid.q[i] = q.Norm()
	}
	p.Add(plotter.NewHeatMap(grid, palette.Heat(64, 1)))
	return p, nil
}

// intensityGrid adapts [q][frequency] intensities to plotter.GridXYZ with
// energy on the column axis.
type intensityGrid struct {
	energies []float64
	q        []float64
	z        [][]float64
}

func (g intensityGrid) Dims() (c, r int)   { return len(g.energies), len(g.q) }
func (g intensityGrid) Z(c, r int) float64 { return g.z[r][c] }
func (g intensityGrid) X(c int) float64    { return g.energies[c] }
func (g intensityGrid) Y(r int) float64 {
	// Repeated |q| values collapse the cell height; fall back to the index.
	for i := 1; i < len(g.q); i++ {
		if g.q[i] <= g.q[i-1] {
			return float64(r)
		}
	}
	return g.q[r]
}

type arrows struct {
	positions []model.Vec3
	spins     []model.Vec3
	scale     float64
	palette   palette.Palette
}

func (a *arrows) Plot(c draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&c)
	colors := a.palette.Colors()
	for i, r := range a.positions {
		s := a.spins[i]
		tip := model.Vec3{X: r.X + a.scale*s.X, Y: r.Y + a.scale*s.Y}
		idx := int(math.Round((s.Z + 1) / 2 * float64(len(colors)-1)))
		idx = max(0, min(len(colors)-1, idx))
		sty := draw.LineStyle{Color: colors[idx], Width: vg.Points(1)}
		c.StrokeLine2(sty, trX(r.X), trY(r.Y), trX(tip.X), trY(tip.Y))
	}
}

func (a *arrows) DataRange() (xmin, xmax, ymin, ymax float64) {
	xmin, ymin = math.Inf(1), math.Inf(1)
	xmax, ymax = math.Inf(-1), math.Inf(-1)
	for _, r := range a.positions {
		xmin = math.Min(xmin, r.X-a.scale)
		xmax = math.Max(xmax, r.X+a.scale)
		ymin = math.Min(ymin, r.Y-a.scale)
		ymax = math.Max(ymax, r.Y+a.scale)
	}
	return xmin, xmax, ymin, ymax
}

// arrowScale is 0.4 of the smallest in-plane site spacing, or 0.4 when
// there is no such spacing.
func arrowScale(positions []model.Vec3) float64 {
	best := math.Inf(1)
	for i := range positions {
		for j := i + 1; j < len(positions); j++ {
			d := math.Hypot(positions[j].X-positions[i].X, positions[j].Y-positions[i].Y)
			if d > 1e-9 && d < best {
				best = d
			}
		}
	}
	if math.IsInf(best, 1) {
		return 0.4
	}
	return 0.4 * best
}
