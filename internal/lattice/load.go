package lattice

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"spinscatter/internal/model"
)

type fileParticle struct {
	Position []float64 `yaml:"position"`
	Spin     []float64 `yaml:"spin"`
}

type fileBond struct {
	From     int      `yaml:"from"`
	To       int      `yaml:"to"`
	Strength *float64 `yaml:"strength"`
}

type fileLattice struct {
	Name           string         `yaml:"name"`
	Model          string         `yaml:"model"`
	Exchange       float64        `yaml:"exchange"`
	Field          []float64      `yaml:"field"`
	Anisotropy     float64        `yaml:"anisotropy"`
	AnisotropyAxis []float64      `yaml:"anisotropy_axis"`
	Generate       *Geometry      `yaml:"generate"`
	Cutoff         float64        `yaml:"cutoff"`
	Particles      []fileParticle `yaml:"particles"`
	Couplings      []fileBond     `yaml:"couplings"`
}

// Load reads a YAML lattice description.
func Load(path string) (*Lattice, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lattice file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	l, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load lattice %s: %w", path, err)
	}
	return l, nil
}

// Decode builds a lattice either from a generate block or from explicit
// particles. Explicit couplings are added on top of either; couplings
// without a strength use the exchange constant.
func Decode(r io.Reader) (*Lattice, error) {
	var raw fileLattice
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode lattice yaml: %w", err)
	}

	spinModel, err := ParseSpinModel(raw.Model)
	if err != nil {
		return nil, err
	}
	field, err := vec3(raw.Field, model.Vec3{})
	if err != nil {
		return nil, fmt.Errorf("field: %w", err)
	}
	axis, err := vec3(raw.AnisotropyAxis, model.Vec3{Z: 1})
	if err != nil {
		return nil, fmt.Errorf("anisotropy_axis: %w", err)
	}
	constants := Constants{Field: field, Anisotropy: raw.Anisotropy, AnisotropyAxis: axis}
	exchange := raw.Exchange
	if exchange == 0 {
		exchange = 1
	}

	var l *Lattice
	switch {
	case raw.Generate != nil && len(raw.Particles) > 0:
		return nil, errors.New("lattice file sets both generate and particles")
	case raw.Generate != nil:
		l, err = Build(raw.Name, spinModel, *raw.Generate, exchange, constants)
		if err != nil {
			return nil, err
		}
	default:
		l = &Lattice{Name: raw.Name, Model: spinModel, Constants: constants}
		for i, p := range raw.Particles {
			pos, err := vec3(p.Position, model.Vec3{})
			if err != nil {
				return nil, fmt.Errorf("particle %d position: %w", i, err)
			}
			spin, err := vec3(p.Spin, model.Vec3{Z: 1})
			if err != nil {
				return nil, fmt.Errorf("particle %d spin: %w", i, err)
			}
			l.Particles = append(l.Particles, Particle{Position: pos, Spin: spin})
		}
	}

	if raw.Cutoff > 0 {
		if err := l.CoupleWithin(raw.Cutoff, exchange); err != nil {
			return nil, err
		}
	}
	for _, b := range raw.Couplings {
		strength := exchange
		if b.Strength != nil {
			strength = *b.Strength
		}
		if err := l.AddBond(b.From, b.To, strength); err != nil {
			return nil, err
		}
	}
	for i := range l.Particles {
		l.Particles[i].Spin = l.normalizeSpin(l.Particles[i].Spin)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func vec3(values []float64, fallback model.Vec3) (model.Vec3, error) {
	switch len(values) {
	case 0:
		return fallback, nil
	case 1:
		return model.Vec3{Z: values[0]}, nil
	case 3:
		return model.Vec3{X: values[0], Y: values[1], Z: values[2]}, nil
	default:
		return model.Vec3{}, fmt.Errorf("expected 1 or 3 components, got %d", len(values))
	}
}
