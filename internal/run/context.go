package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/gomidaco/internal/config"
	"github.com/cwbudde/gomidaco/internal/coord"
	"github.com/cwbudde/gomidaco/internal/history"
	"github.com/cwbudde/gomidaco/internal/problem"
	"github.com/cwbudde/gomidaco/internal/store"
)

// ReplayState tracks hot-start replay. Active only ever goes from true to
// false; Exhausted is set when the history ran out.
type ReplayState struct {
	Active    bool
	Exhausted bool
}

// RunContext is the state of one run on one worker. Only the coordinator
// holds history handles; other workers mirror its replay state from the
// per-evaluation broadcast.
type RunContext struct {
	RunID string
	Seed  int64

	comm    coord.Communicator
	mode    HistoryMode
	layout  problem.Layout
	grouped bool
	nobj    int
	ncon    int

	replay ReplayState
	source *history.Store
	cursor *history.Cursor
	log    *history.Store
	trace  *store.TraceWriter

	metrics *Metrics
	logger  *slog.Logger

	evals    int
	replayed int

	// terminated is set once a Stop or Abort broadcast has been exchanged.
	terminated bool
	closed     bool
}

func newRunContext(comm coord.Communicator, prob *problem.Problem, mode HistoryMode, metrics *Metrics, logger *slog.Logger) *RunContext {
	_, replaying := mode.(ReadWrite)
	rc := &RunContext{
		comm:    comm,
		mode:    mode,
		layout:  prob.Layout(),
		grouped: prob.UsesGroups(),
		nobj:    len(prob.Objectives()),
		ncon:    len(prob.Constraints()),
		replay:  ReplayState{Active: replaying},
		logger:  logger,
	}
	if rc.IsRoot() {
		rc.metrics = metrics
		rc.metrics.setReplay(replaying)
	}
	return rc
}

// IsRoot reports whether this worker is the coordinator.
func (rc *RunContext) IsRoot() bool { return rc.comm.Rank() == coord.Root }

// Replay returns the current replay state.
func (rc *RunContext) Replay() ReplayState { return rc.replay }

// Evals returns the number of evaluations answered so far.
func (rc *RunContext) Evals() int { return rc.evals }

// Replayed returns how many evaluations came from the history.
func (rc *RunContext) Replayed() int { return rc.replayed }

// open opens the history pair(s) on the coordinator.
func (rc *RunContext) open(problemName string, solutions store.Store) error {
	if rw, ok := rc.mode.(ReadWrite); ok {
		src, err := history.Open(rw.Source, history.ModeRead)
		if err != nil {
			return err
		}
		rc.source = src
		rc.cursor = src.Cursor()
		rc.logger.Info("Hot start", "source", rw.Source, "records", src.Len(), "temp", rw.Temp())
	}

	if path := logPath(rc.mode); path != "" {
		log, err := history.Open(path, history.ModeWrite,
			history.WithProblem(problemName), history.WithRunID(rc.RunID))
		if err != nil {
			return err
		}
		rc.log = log
		rc.logger.Info("Logging history", "path", path)
	}

	if solutions != nil {
		tw, err := solutions.CreateTrace(rc.RunID)
		if err != nil {
			return err
		}
		rc.trace = tw
	}
	return nil
}

// selectSeed picks the run seed on the coordinator: the recorded seed on a
// hot start, a time based seed when ISEED is negative, ISEED otherwise.
func (rc *RunContext) selectSeed(cfg config.RunConfig, now time.Time) (int64, error) {
	switch {
	case rc.source != nil:
		return rc.source.Seed()
	case cfg.Seed < 0:
		return now.Unix(), nil
	default:
		return cfg.Seed, nil
	}
}

// setupMessage is the one broadcast before the first evaluation.
type setupMessage struct {
	RunID string `json:"runId"`
	Seed  int64  `json:"seed"`
	Abort string `json:"abort,omitempty"`
}

// setup agrees on run ID and seed across workers. The coordinator passes the
// error of its own preparation, which aborts every worker.
func (rc *RunContext) setup(ctx context.Context, cause error) error {
	msg := setupMessage{RunID: rc.RunID, Seed: rc.Seed}
	if cause != nil {
		msg.Abort = cause.Error()
	}
	if rc.comm.Size() > 1 {
		if err := rc.comm.Broadcast(ctx, &msg); err != nil {
			return errors.Join(cause, fmt.Errorf("broadcast setup: %w", err))
		}
	}
	if rc.IsRoot() {
		return cause
	}
	if msg.Abort != "" {
		return &AbortError{Cause: msg.Abort}
	}
	rc.RunID, rc.Seed = msg.RunID, msg.Seed
	return nil
}

// endReplay permanently disables replay. The coordinator closes the source.
func (rc *RunContext) endReplay() {
	rc.replay = ReplayState{Active: false, Exhausted: true}
	rc.metrics.setReplay(false)
	if rc.source != nil {
		if err := rc.source.Close(); err != nil {
			rc.logger.Warn("Failed to close hot-start history", "error", err)
		}
	}
	rc.logger.Info("Hot-start history exhausted, evaluating live", "evals", rc.evals)
}

// record logs one answered evaluation on the coordinator.
func (rc *RunContext) record(x, obj, con []float64, fail, replayed bool) error {
	rc.evals++
	if replayed {
		rc.replayed++
	}
	if !rc.IsRoot() {
		return nil
	}
	rc.metrics.observe(replayed, fail)

	if rc.log != nil {
		rec := history.EvaluationRecord{X: x, Obj: obj, Con: con, Fail: fail}
		if err := rc.log.WriteRecord(rec); err != nil {
			return err
		}
	}

	if rc.trace != nil && !fail {
		var sum float64
		for _, f := range obj {
			sum += f
		}
		if _, err := rc.trace.Observe(rc.evals, sum, replayed, x); err != nil {
			rc.logger.Warn("Failed to write trace entry", "error", err)
		}
	}
	return nil
}

// finish exchanges the terminal broadcast after the solver returned.
// The coordinator sends Stop, plus its error as the abort cause; a worker
// that is not already stopped receives it.
func (rc *RunContext) finish(ctx context.Context, cause error) error {
	if rc.comm.Size() == 1 || rc.terminated {
		return nil
	}
	rc.terminated = true

	if rc.IsRoot() {
		msg := evalMessage{Stop: true}
		if cause != nil {
			msg.Abort = cause.Error()
		}
		if err := rc.comm.Broadcast(ctx, &msg); err != nil {
			return fmt.Errorf("broadcast stop: %w", err)
		}
		return nil
	}

	var msg evalMessage
	if err := rc.comm.Broadcast(ctx, &msg); err != nil {
		return fmt.Errorf("receive stop: %w", err)
	}
	if msg.Abort != "" {
		return &AbortError{Cause: msg.Abort}
	}
	if !msg.Stop {
		return errors.New("solver finished before the coordinator")
	}
	return nil
}

// Close releases every history handle. It is safe to call more than once.
func (rc *RunContext) Close() error {
	if rc.closed {
		return nil
	}
	rc.closed = true

	var errs []error
	if rc.log != nil {
		errs = append(errs, rc.log.Close())
	}
	if rc.source != nil {
		errs = append(errs, rc.source.Close())
	}
	if rc.trace != nil {
		errs = append(errs, rc.trace.Close())
	}
	return errors.Join(errs...)
}
