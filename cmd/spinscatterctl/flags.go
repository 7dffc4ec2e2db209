package main

import (
	"math"

	"github.com/spf13/cobra"
)

func (c *cli) addSimulationFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("lattice", "", "YAML lattice description")
	f.String("run-id", "", "run id (default random UUID)")
	f.String("store", "sqlite", "trajectory store: memory|sqlite|csv")
	f.String("plot-format", "png", "plot format: png|svg|pdf|eps|jpg|tif")
	f.Int("workers", 8, "parallel workers for annealing and analysis")
	f.Int64("seed", 1, "random seed")
	f.StringSlice("temperatures", nil, "explicit temperature schedule, comma separated")
	f.Float64("t-start", 3.0, "geometric schedule start temperature")
	f.Float64("t-end", 0.1, "geometric schedule end temperature")
	f.Float64("cooling-rate", 0.8, "geometric schedule cooling rate in (0,1)")
	f.Int("anneal-sweeps", 200, "sweeps per annealing temperature")
	f.Int("equilibration-sweeps", 100, "unrecorded sweeps per temperature")
	f.Int("sweeps", 1000, "recorded sweeps per temperature")
	f.Int("sample-interval", 1, "sweeps between recorded rows")
	f.String("proposal", "", "spin proposal: flip|uniform|cone (default by model)")
	f.Float64("cone-width", 0, "cone proposal half-width in radians")

	for flag, key := range map[string]string{
		"lattice":              "lattice",
		"store":                "store",
		"plot-format":          "plot_format",
		"workers":              "workers",
		"seed":                 "seed",
		"temperatures":         "schedule.temperatures",
		"t-start":              "schedule.start",
		"t-end":                "schedule.end",
		"cooling-rate":         "schedule.cooling_rate",
		"anneal-sweeps":        "anneal_sweeps",
		"equilibration-sweeps": "equilibration_sweeps",
		"sweeps":               "sweeps",
		"sample-interval":      "sample_interval",
		"proposal":             "proposal",
		"cone-width":           "cone_width",
		"run-id":               "run_id",
	} {
		c.bind(cmd, flag, key)
	}
}

func (c *cli) addFourierFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64("time-step", 1, "physical time of one sweep")
	f.Float64("planck", 1, "frequency to energy conversion factor")
	f.Float64("q-max", math.Pi, "largest scattering vector magnitude")
	f.Int("q-count", 16, "scattering vectors from 0 to q-max")
	f.StringSlice("q-direction", nil, "scattering direction x,y,z (default 1,0,0)")
	f.Int("fixed-q", 0, "q index of the reduced energy spectrum")

	for flag, key := range map[string]string{
		"time-step":   "time_step",
		"planck":      "planck",
		"q-max":       "q_max",
		"q-count":     "q_count",
		"q-direction": "q_direction",
		"fixed-q":     "fixed_q",
	} {
		c.bind(cmd, flag, key)
	}
}
