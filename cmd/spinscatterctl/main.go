package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"spinscatter/internal/config"
	"spinscatter/internal/logging"
	"spinscatter/pkg/spinscatter"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli holds the state shared by every subcommand of one invocation.
type cli struct {
	v          *viper.Viper
	configPath string
	// bindings maps command name to flag name to viper key. Only the flags
	// of the executing command are bound, so commands can share flag names.
	bindings map[string]map[string]string
	stdout   io.Writer
	stderr   io.Writer
	logger   *logrus.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{v: config.NewViper(), stdout: stdout, stderr: stderr, bindings: map[string]map[string]string{}}

	root := &cobra.Command{
		Use:           "spinscatterctl",
		Short:         "Anneal, simulate and Fourier-analyze classical spin lattices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.bindFlags(cmd); err != nil {
				return err
			}
			if err := config.Read(c.v, c.configPath); err != nil {
				return err
			}
			c.logger = logging.New(c.v.GetString("log_level"), c.stderr)
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "YAML run configuration file")
	pf.String("log-level", "info", "log level: debug|info|warn|error")
	pf.String("data-dir", "runs", "directory holding run artifacts and the run index")
	c.bind(root, "log-level", "log_level")
	c.bind(root, "data-dir", "data_dir")

	root.AddCommand(
		c.newRunCmd(),
		c.newAnnealCmd(),
		c.newAnalyzeCmd(),
		c.newRunsCmd(),
		c.newExportCmd(),
	)
	return root
}

func (c *cli) bind(cmd *cobra.Command, flag, key string) {
	name := cmd.Name()
	if c.bindings[name] == nil {
		c.bindings[name] = map[string]string{}
	}
	c.bindings[name][flag] = key
}

func (c *cli) bindFlags(cmd *cobra.Command) error {
	for _, name := range []string{cmd.Root().Name(), cmd.Name()} {
		for flag, key := range c.bindings[name] {
			f := cmd.Flags().Lookup(flag)
			if f == nil {
				continue
			}
			if err := c.v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *cli) client() (*spinscatter.Client, error) {
	return spinscatter.New(spinscatter.Options{
		DataDir: c.v.GetString("data_dir"),
		Logger:  c.logger,
	})
}

func (c *cli) loadConfig() (config.RunConfig, error) {
	var cfg config.RunConfig
	if err := c.v.Unmarshal(&cfg); err != nil {
		return config.RunConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.RunConfig{}, err
	}
	return cfg, nil
}

func (c *cli) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: anneal, simulate or reload, analyze and plot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			summary, err := client.Run(cmd.Context(), spinscatter.RunRequest{Config: cfg})
			if err != nil {
				return err
			}
			c.printRun(summary)
			return nil
		},
	}
	c.addSimulationFlags(cmd)
	c.addFourierFlags(cmd)
	f := cmd.Flags()
	f.Bool("anneal", false, "anneal to a ground state before simulating")
	f.Bool("fourier", false, "compute the scattering spectrum")
	f.Bool("plot-spins", false, "plot the final spin configuration")
	f.Bool("plot-energy", false, "plot the energy trace and the fixed-q energy spectrum")
	f.Bool("plot-neutron", false, "plot the intensity map of every temperature")
	f.String("datafile", "", "reload the trajectory from this store instead of simulating")
	f.String("datafile-run", "", "run id inside the datafile (default most recent)")
	c.bind(cmd, "anneal", "anneal")
	c.bind(cmd, "fourier", "fourier")
	c.bind(cmd, "plot-spins", "should_plot_spins")
	c.bind(cmd, "plot-energy", "should_plot_energy")
	c.bind(cmd, "plot-neutron", "should_plot_neutron")
	c.bind(cmd, "datafile", "datafile")
	c.bind(cmd, "datafile-run", "datafile_run")
	return cmd
}

func (c *cli) newAnnealCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "anneal",
		Short: "Search for the ground state and write it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.v.Set("anneal", true)
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			summary, err := client.Anneal(cmd.Context(), spinscatter.AnnealRequest{Config: cfg, Output: out})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "lattice=%s energy=%.6f worker=%d workers=%d failed=%d out=%s\n",
				summary.Lattice,
				summary.Energy,
				summary.Worker,
				summary.Workers,
				summary.Failed,
				summary.Output,
			)
			return nil
		},
	}
	c.addSimulationFlags(cmd)
	cmd.Flags().StringVar(&out, "out", "ground_state.json", "ground state output path")
	return cmd
}

func (c *cli) newAnalyzeCmd() *cobra.Command {
	var datafile, runID string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute the scattering spectrum of a stored trajectory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if datafile == "" {
				return errors.New("analyze requires --datafile")
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			summary, err := client.Analyze(cmd.Context(), spinscatter.AnalyzeRequest{Config: cfg, Datafile: datafile, RunID: runID})
			if err != nil {
				return err
			}
			c.printRun(summary)
			return nil
		},
	}
	c.addSimulationFlags(cmd)
	c.addFourierFlags(cmd)
	f := cmd.Flags()
	f.StringVar(&datafile, "datafile", "", "trajectory store to analyze (.db or .csv)")
	f.StringVar(&runID, "datafile-run", "", "stored run to analyze (default most recent)")
	f.Bool("plot-energy", false, "plot the fixed-q energy spectrum")
	f.Bool("plot-neutron", false, "plot the intensity map of every temperature")
	c.bind(cmd, "plot-energy", "should_plot_energy")
	c.bind(cmd, "plot-neutron", "should_plot_neutron")
	return cmd
}

func (c *cli) newRunsCmd() *cobra.Command {
	var limit int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List indexed runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			items, err := client.Runs(cmd.Context(), spinscatter.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				type runsItem struct {
					RunID        string  `json:"run_id"`
					CreatedAtUTC string  `json:"created_at_utc"`
					Lattice      string  `json:"lattice"`
					Model        string  `json:"model"`
					Sites        int     `json:"sites"`
					Temperatures int     `json:"temperatures"`
					Rows         int     `json:"rows"`
					Seed         int64   `json:"seed"`
					Annealed     bool    `json:"annealed"`
					Analyzed     bool    `json:"analyzed"`
					FinalEnergy  float64 `json:"final_energy"`
					Datafile     string  `json:"datafile,omitempty"`
				}
				out := make([]runsItem, 0, len(items))
				for _, it := range items {
					out = append(out, runsItem(it))
				}
				enc := json.NewEncoder(c.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			if len(items) == 0 {
				fmt.Fprintln(c.stdout, "no runs found")
				return nil
			}
			for _, it := range items {
				fmt.Fprintf(c.stdout, "run_id=%s created_at=%s lattice=%s model=%s sites=%d temperatures=%d rows=%s annealed=%t analyzed=%t final_energy=%.6f\n",
					it.RunID,
					it.CreatedAtUTC,
					it.Lattice,
					it.Model,
					it.Sites,
					it.Temperatures,
					humanize.Comma(int64(it.Rows)),
					it.Annealed,
					it.Analyzed,
					it.FinalEnergy,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs list as JSON")
	return cmd
}

func (c *cli) newExportCmd() *cobra.Command {
	var req spinscatter.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the artifacts of one run into an export directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			summary, err := client.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id to export")
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVar(&req.OutDir, "out", "exports", "export directory")
	return cmd
}

func (c *cli) printRun(s spinscatter.RunSummary) {
	fmt.Fprintf(c.stdout, "run_id=%s lattice=%s sites=%d rows=%s temperatures=%d final_energy=%.6f artifacts=%s\n",
		s.RunID,
		s.Lattice,
		s.Sites,
		humanize.Comma(int64(s.Rows)),
		len(s.Temperatures),
		s.FinalEnergy,
		s.ArtifactsDir,
	)
	if s.Datafile != "" {
		fmt.Fprintf(c.stdout, "datafile=%s\n", s.Datafile)
	}
	if s.Annealed {
		fmt.Fprintf(c.stdout, "ground_state_energy=%.6f\n", s.GroundStateEnergy)
	}
	if s.Spectrum != nil {
		fmt.Fprintf(c.stdout, "spectrum segments=%d q_points=%d\n", s.Segments, len(s.Spectrum.QPoints))
	}
	for _, p := range s.Plots {
		fmt.Fprintf(c.stdout, "plot=%s\n", p)
	}
}
