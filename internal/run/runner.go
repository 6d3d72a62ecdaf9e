// Package run drives one optimization run: it resolves the history mode,
// agrees on the seed across workers, answers solver evaluations through the
// replay proxy and swaps the history into place when the run succeeds.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/gomidaco/internal/config"
	"github.com/cwbudde/gomidaco/internal/coord"
	"github.com/cwbudde/gomidaco/internal/history"
	"github.com/cwbudde/gomidaco/internal/opt"
	"github.com/cwbudde/gomidaco/internal/problem"
	"github.com/cwbudde/gomidaco/internal/store"
)

// Runner runs problems with one solver.
type Runner struct {
	Solver opt.Solver

	// Solutions, when set, receives the solution and trace of every
	// successful run.
	Solutions store.Store

	// Metrics, when set, counts the coordinator's evaluations.
	Metrics *Metrics

	// Stdout and Stderr receive solver output when IPRINT is 0, selected by
	// IOUT. They default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger

	now func() time.Time
}

// Options are the per-run settings.
type Options struct {
	Config   config.RunConfig
	Store    HistoryOption
	HotStart HistoryOption

	// Comm is the worker group; nil runs a single worker.
	Comm coord.Communicator

	// Args are passed to every objective call.
	Args []any
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Run optimizes prob and returns the solution reported by the solver.
// Every worker of the group must call Run with the same problem and options.
func (r *Runner) Run(ctx context.Context, prob *problem.Problem, opts Options) (*store.Solution, error) {
	if err := prob.Validate(); err != nil {
		return nil, err
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	comm := opts.Comm
	if comm == nil {
		comm = coord.Solo()
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("rank", comm.Rank(), "problem", prob.Name)

	mode := ResolveHistoryMode(opts.Store, opts.HotStart, cfg.DefaultHistoryName())
	rc := newRunContext(comm, prob, mode, r.Metrics, logger)
	defer rc.Close()

	var out io.Writer
	var outFile *os.File
	var cause error
	if rc.IsRoot() {
		rc.RunID = uuid.NewString()
		rc.logger = rc.logger.With("run_id", rc.RunID)
		outFile, out, cause = r.prepareOutput(cfg)
		if cause == nil {
			cause = rc.open(prob.Name, r.Solutions)
		}
		if cause == nil {
			rc.Seed, cause = rc.selectSeed(cfg, r.clock())
		}
		if cause == nil && rc.log != nil {
			cause = rc.log.WriteSeed(rc.Seed)
		}
	}
	if outFile != nil {
		defer outFile.Close()
	}
	if err := rc.setup(ctx, cause); err != nil {
		if rc.IsRoot() {
			rc.Close()
			err = r.settleHistory(rc, mode, err)
		}
		return nil, err
	}
	if !rc.IsRoot() {
		rc.logger = rc.logger.With("run_id", rc.RunID)
	}
	rc.logger.Info("Run started", "seed", rc.Seed, "workers", comm.Size(), "mode", fmt.Sprintf("%T", mode))

	req := buildRequest(prob, cfg, rc.Seed)
	if rc.IsRoot() {
		req.Out = out
	} else {
		// the coordinator's clock decides when time runs out
		req.Print = -1
		req.MaxTime = 0
	}

	proxy := NewProxy(rc, prob.Func, opts.Args...)
	start := r.clock()
	res, err := r.Solver.Solve(ctx, req, proxy.Evaluate)
	elapsed := r.clock().Sub(start)

	if errors.Is(err, errStopped) {
		err = nil
	}
	switch {
	case err == nil:
		err = rc.finish(ctx, nil)
	case rc.IsRoot():
		if ferr := rc.finish(ctx, err); ferr != nil {
			rc.logger.Warn("Failed to notify workers of abort", "error", ferr)
		}
	}

	if cerr := rc.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if rc.IsRoot() {
		err = r.settleHistory(rc, mode, err)
	}
	if err != nil {
		rc.logger.Error("Run failed", "evals", rc.Evals(), "error", err)
		return nil, err
	}

	sol := r.solution(rc, prob, cfg, mode, res, elapsed)
	if rc.IsRoot() && r.Solutions != nil {
		if err := r.Solutions.SaveSolution(sol); err != nil {
			return nil, fmt.Errorf("failed to save solution: %w", err)
		}
	}

	rc.logger.Info("Run finished",
		"status", res.Status,
		"inform", opt.Inform(res.Status),
		"evals", res.Evals,
		"replayed", rc.Replayed(),
		"elapsed", elapsed)
	return sol, nil
}

// prepareOutput removes a stale output file and opens the solver output.
func (r *Runner) prepareOutput(cfg config.RunConfig) (*os.File, io.Writer, error) {
	if cfg.Print < 0 {
		return nil, nil, nil
	}
	if err := os.Remove(cfg.File); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to remove stale output file: %w", err)
	}
	if cfg.Print == 0 {
		return nil, r.screen(cfg.Unit), nil
	}
	f, err := os.Create(cfg.File)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f, nil
}

// screen returns the stream for IPRINT 0 output on the given IOUT unit.
func (r *Runner) screen(unit int) io.Writer {
	if unit == config.StderrUnit {
		if r.Stderr != nil {
			return r.Stderr
		}
		return os.Stderr
	}
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

// settleHistory swaps a temporary log into place after success, or removes
// it after failure so the hot-start source stays untouched.
func (r *Runner) settleHistory(rc *RunContext, mode HistoryMode, runErr error) error {
	rw, ok := mode.(ReadWrite)
	if !ok || !rw.Temp() {
		return runErr
	}
	if runErr != nil {
		if err := history.Remove(rw.LogPath()); err != nil {
			rc.logger.Warn("Failed to remove temporary history", "path", rw.LogPath(), "error", err)
		}
		return runErr
	}
	if err := history.Swap(rw.Dest, rw.LogPath()); err != nil {
		return err
	}
	rc.logger.Info("History replaced", "path", rw.Dest)
	return nil
}

func buildRequest(prob *problem.Problem, cfg config.RunConfig, seed int64) opt.Request {
	d := prob.Dims()
	lower, upper := prob.Bounds()
	return opt.Request{
		N:        d.N,
		NInt:     d.NInt,
		M:        d.M,
		MEq:      d.MEq,
		NObj:     len(prob.Objectives()),
		Lower:    lower,
		Upper:    upper,
		Integer:  prob.IntegerMask(),
		Equality: prob.EqualityMask(),
		X0:       prob.InitialPoint(),
		Accuracy: cfg.Accuracy,
		Seed:     seed,
		QStart:   cfg.QStart,
		MaxEval:  cfg.MaxEval,
		MaxTime:  time.Duration(cfg.MaxTime * float64(time.Second)),
		PopSize:  cfg.PopSize,
		Print:    cfg.Print,
	}
}

func (r *Runner) solution(rc *RunContext, prob *problem.Problem, cfg config.RunConfig, mode HistoryMode, res opt.Result, elapsed time.Duration) *store.Solution {
	sol := &store.Solution{
		RunID:       rc.RunID,
		Name:        "Solution to " + prob.Name,
		Problem:     prob.Name,
		Status:      res.Status,
		Inform:      opt.Inform(res.Status),
		Evals:       res.Evals,
		Replayed:    rc.Replayed(),
		Seed:        rc.Seed,
		Elapsed:     elapsed,
		Options:     cfg.Options(),
		HistoryPath: historyDest(mode),
		Timestamp:   r.clock(),
	}
	for i, v := range prob.Variables() {
		sv := store.Variable{Name: v.Name, Kind: string(v.Kind), Lower: v.Lower, Upper: v.Upper, Value: v.Value}
		if i < len(res.X) {
			sv.Value = res.X[i]
		}
		sol.Variables = append(sol.Variables, sv)
	}
	for i, o := range prob.Objectives() {
		sv := store.Value{Name: o.Name, Value: o.Value}
		if i < len(res.Obj) {
			sv.Value = res.Obj[i]
		}
		sol.Objectives = append(sol.Objectives, sv)
	}
	for i, c := range prob.Constraints() {
		sv := store.Value{Name: c.Name, Kind: string(c.Kind), Value: c.Value}
		if i < len(res.Con) {
			sv.Value = res.Con[i]
		}
		sol.Constraints = append(sol.Constraints, sv)
	}
	return sol
}

func historyDest(m HistoryMode) string {
	switch m := m.(type) {
	case WriteOnly:
		return m.Path
	case ReadWrite:
		return m.Dest
	}
	return ""
}
