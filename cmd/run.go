package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cwbudde/gomidaco/internal/config"
	"github.com/cwbudde/gomidaco/internal/coord"
	"github.com/cwbudde/gomidaco/internal/opt"
	"github.com/cwbudde/gomidaco/internal/problem"
	"github.com/cwbudde/gomidaco/internal/run"
	"github.com/cwbudde/gomidaco/internal/store"
)

// defaultHistoryMarker is the value of a history flag given without a path.
const defaultHistoryMarker = "<default>"

// historyFlag is a flag with an optional path: "--store-history" selects the
// default name, "--store-history=path" a specific one.
type historyFlag struct {
	opt run.HistoryOption
}

func (f *historyFlag) String() string {
	switch {
	case !f.opt.Enabled:
		return ""
	case f.opt.Path == "":
		return defaultHistoryMarker
	}
	return f.opt.Path
}

func (f *historyFlag) Set(s string) error {
	if s == defaultHistoryMarker || s == "" {
		f.opt = run.DefaultHistory()
	} else {
		f.opt = run.HistoryAt(s)
	}
	return nil
}

func (f *historyFlag) Type() string { return "path" }

var (
	problemPath  string
	optionsPath  string
	optPairs     []string
	storeHistory historyFlag
	hotStart     historyFlag
	parallel     string
	rank         int
	size         int
	coordAddr    string
	workers      int
	dataDir      string
	metricsAddr  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an optimization",
	Long: `Runs the optimizer on a problem definition.

--store-history logs every evaluation to a history pair (<name>.cue and
<name>.bin). --hot-start replays a history before evaluating live; a run
resumed with the same options follows the recorded run exactly. Both flags
take an optional path (--store-history=path); without one the name is derived
from IFILE.

With --parallel POA the run is split over lock-step workers, either in this
process (--workers N) or as separate processes (--rank, --size, --coord-addr).`,
	Args: runArgs,
	RunE: runOptimization,
}

// runArgs rejects positional arguments. A path given as
// "--hot-start path" ends up here because the history flags take their
// value only after "=".
func runArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument %q: history paths are passed as --store-history=path and --hot-start=path", args[0])
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&problemPath, "problem", "", "Problem definition file (YAML, required)")
	runCmd.Flags().StringVar(&optionsPath, "options", "", "Solver options file (YAML)")
	runCmd.Flags().StringArrayVar(&optPairs, "opt", nil, "Solver option KEY=VALUE (repeatable, overrides --options)")

	runCmd.Flags().Var(&storeHistory, "store-history", "Log evaluations to a history, optionally at path")
	runCmd.Flags().Lookup("store-history").NoOptDefVal = defaultHistoryMarker
	runCmd.Flags().Var(&hotStart, "hot-start", "Replay a history before evaluating live, optionally from path")
	runCmd.Flags().Lookup("hot-start").NoOptDefVal = defaultHistoryMarker

	runCmd.Flags().StringVar(&parallel, "parallel", "", "Parallel mode: empty (serial) or POA")
	runCmd.Flags().IntVar(&rank, "rank", 0, "Rank of this process in a distributed POA run")
	runCmd.Flags().IntVar(&size, "size", 1, "Number of processes in a distributed POA run")
	runCmd.Flags().StringVar(&coordAddr, "coord-addr", "localhost:7171", "Coordinator address of a distributed POA run")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Number of in-process POA workers (overrides --size)")

	runCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for solutions and traces (empty = do not save)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (coordinator only)")

	runCmd.MarkFlagRequired("problem")
	rootCmd.AddCommand(runCmd)
}

func loadConfig() (config.RunConfig, error) {
	cfg := config.Default()
	if optionsPath != "" {
		var err error
		if cfg, err = config.LoadFile(optionsPath); err != nil {
			return cfg, err
		}
	}
	for _, pair := range optPairs {
		if err := cfg.SetPair(pair); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func runOptimization(cmd *cobra.Command, args []string) error {
	prob, err := problem.LoadFile(problemPath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mode, err := config.ParseParallelMode(parallel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	runner := &run.Runner{
		Solver: opt.NewMayfly(),
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
		Logger: slog.Default(),
	}
	isRoot := mode == config.Serial || workers > 0 || rank == coord.Root
	if dataDir != "" && isRoot {
		solutions, err := store.NewFSStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to create solution store: %w", err)
		}
		runner.Solutions = solutions
	}
	if metricsAddr != "" && isRoot {
		reg := prometheus.NewRegistry()
		runner.Metrics = run.NewMetrics(reg)
		shutdown := serveMetrics(metricsAddr, reg)
		defer shutdown()
	}

	opts := run.Options{
		Config:   cfg,
		Store:    storeHistory.opt,
		HotStart: hotStart.opt,
	}

	slog.Info("Starting optimization",
		"problem", prob.Name,
		"parallel", mode,
		"max_eval", cfg.MaxEval,
		"max_time", cfg.MaxTime)

	var sol *store.Solution
	switch {
	case mode == config.Serial:
		sol, err = runner.Run(ctx, prob, opts)
	case workers > 0:
		sol, err = run.RunLocal(ctx, runner, workers, prob, opts)
	default:
		comm, cerr := connect(ctx, coordAddr, rank, size)
		if cerr != nil {
			return cerr
		}
		defer comm.Close()
		opts.Comm = comm
		sol, err = runner.Run(ctx, prob, opts)
	}
	if err != nil {
		return err
	}

	if isRoot {
		printSolution(cmd, sol)
	}
	return nil
}

// connect joins a distributed worker group over gRPC.
func connect(ctx context.Context, addr string, rank, size int) (coord.Communicator, error) {
	if size < 1 || rank < 0 || rank >= size {
		return nil, &config.ConfigError{Key: "rank", Reason: fmt.Sprintf("%d is outside a group of %d", rank, size)}
	}
	if rank == coord.Root {
		root, err := coord.Listen(addr, size)
		if err != nil {
			return nil, err
		}
		slog.Info("Coordinator listening", "addr", root.Addr(), "size", size)
		return root, nil
	}

	joinCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	w, err := coord.Join(joinCtx, addr, rank, size)
	if err != nil {
		return nil, fmt.Errorf("failed to join coordinator at %s: %w", addr, err)
	}
	slog.Info("Joined coordinator", "addr", addr, "rank", rank)
	return w, nil
}

// serveMetrics exposes reg over HTTP until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func printSolution(cmd *cobra.Command, sol *store.Solution) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", sol.Name)
	fmt.Fprintf(out, "  status:   %d (%s)\n", sol.Status, sol.Inform)
	fmt.Fprintf(out, "  evals:    %d (%d replayed)\n", sol.Evals, sol.Replayed)
	fmt.Fprintf(out, "  seed:     %d\n", sol.Seed)
	fmt.Fprintf(out, "  elapsed:  %s\n", sol.Elapsed.Round(time.Millisecond))
	for _, v := range sol.Variables {
		fmt.Fprintf(out, "  %-10s = %g\n", v.Name, v.Value)
	}
	for _, o := range sol.Objectives {
		fmt.Fprintf(out, "  %-10s = %g\n", o.Name, o.Value)
	}
	for _, c := range sol.Constraints {
		fmt.Fprintf(out, "  %-10s = %g\n", c.Name, c.Value)
	}
	if sol.HistoryPath != "" {
		fmt.Fprintf(out, "  history:  %s\n", sol.HistoryPath)
	}
}
