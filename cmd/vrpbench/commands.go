package main

import (
	"fmt"
	"log"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vrpbench/internal/buildinfo"
	"vrpbench/internal/config"
	"vrpbench/internal/cost"
	"vrpbench/internal/model"
)

// planFlags override the config file for run and instances.
type planFlags struct {
	configPath string
	output     string
	workers    int
	seed       int64
	timeLimit  string
	problems   []string
	firsts     []string
	locals     []string
	instances  []string
}

func (f *planFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fl.StringVarP(&f.output, "output", "o", "", "results file (default TSP.txt)")
	fl.IntVarP(&f.workers, "workers", "w", 0, "parallel runs")
	fl.Int64Var(&f.seed, "seed", 0, "random seed passed to the engine")
	fl.StringVar(&f.timeLimit, "time-limit", "", "limit for runs with a metaheuristic, e.g. 2s")
	fl.StringSliceVarP(&f.problems, "problem", "p", nil, "problem names to run (repeatable)")
	fl.StringSliceVar(&f.firsts, "first", nil, "first solution strategies to run")
	fl.StringSliceVar(&f.locals, "local", nil, "local search metaheuristics to run")
	fl.StringSliceVar(&f.instances, "instance", nil, "extra YAML instance files")
}

// load reads the config and applies the flags that were set.
func (f *planFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	fl := cmd.Flags()
	if fl.Changed("output") {
		cfg.Output = f.output
	}
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("seed") {
		cfg.Seed = f.seed
	}
	if fl.Changed("time-limit") {
		cfg.TimeLimit = f.timeLimit
	}
	if fl.Changed("problem") {
		cfg.Problems = f.problems
	}
	if fl.Changed("first") {
		cfg.FirstSolutions = f.firsts
	}
	if fl.Changed("local") {
		cfg.LocalSearch = f.locals
	}
	cfg.Instances = append(cfg.Instances, f.instances...)
	return cfg, cfg.Validate()
}

func newRootCmd(logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "vrpbench",
		Short:         "Benchmark routing search strategies on TSP and VRP instances",
		SilenceUsage: true,
	}
	root.AddCommand(
		newRunCmd(logger),
		newServeCmd(logger),
		newInstancesCmd(),
		newMatrixCmd(),
		newVersionCmd(),
	)
	return root
}

func newInstancesCmd() *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List the configured problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			plan, err := cfg.Plan()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVARIANT\tNODES\tVEHICLES\tDEPOT\tTIME LIMIT")
			for _, in := range plan.Problems {
				d := model.Describe(in)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", d.Name, d.Variant, d.Nodes, d.Vehicles, d.Depot,
					time.Duration(d.TimeLimitMs)*time.Millisecond)
			}
			fmt.Fprintf(tw, "\n%d problems x %d strategies x %d metaheuristics = %d runs\n",
				len(plan.Problems), len(plan.FirstSolutions), len(plan.Metaheuristics), plan.Size())
			return tw.Flush()
		},
	}
	flags.register(cmd)
	return cmd
}

func newMatrixCmd() *cobra.Command {
	var (
		size    int
		maxCost int64
		seed    int64
	)
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Print a random symmetric cost matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < 1 {
				return fmt.Errorf("size must be >= 1, got %d", size)
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), cost.Random(size, maxCost, seed).String())
			return err
		},
	}
	cmd.Flags().IntVarP(&size, "size", "n", 10, "number of nodes")
	cmd.Flags().Int64Var(&maxCost, "max", 100, "largest entry")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildinfo.Info()
			keys := make([]string, 0, len(info))
			for k := range info {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if info[k] != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, info[k])
				}
			}
			return nil
		},
	}
}
