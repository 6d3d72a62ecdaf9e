package run

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/gomidaco/internal/history"
	"github.com/cwbudde/gomidaco/internal/problem"
)

// Sentinel replaces every objective and constraint of a failed evaluation.
const Sentinel = 1.0e21

var errStopped = errors.New("coordinator stopped the run")

// AbortError is returned on a worker when the coordinator aborted the run.
type AbortError struct {
	Cause string
}

func (e *AbortError) Error() string {
	return "run aborted by coordinator: " + e.Cause
}

// ShapeError reports objective or constraint vectors of the wrong length.
type ShapeError struct {
	What      string
	Got, Want int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s vector has %d components, problem declares %d", e.What, e.Got, e.Want)
}

// evalMessage is the single broadcast of an evaluation. Values travel as
// IEEE-754 bit patterns so every worker sees bit-identical results,
// including infinities and NaN.
type evalMessage struct {
	Replay bool     `json:"replay,omitempty"`
	Obj    []uint64 `json:"obj,omitempty"`
	Con    []uint64 `json:"con,omitempty"`
	Fail   bool     `json:"fail,omitempty"`
	Stop   bool     `json:"stop,omitempty"`
	Abort  string   `json:"abort,omitempty"`
}

func toBits(v []float64) []uint64 {
	if v == nil {
		return nil
	}
	b := make([]uint64, len(v))
	for i, f := range v {
		b[i] = math.Float64bits(f)
	}
	return b
}

func fromBits(b []uint64) []float64 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float64, len(b))
	for i, u := range b {
		v[i] = math.Float64frombits(u)
	}
	return v
}

func sentinels(n int) []float64 {
	if n == 0 {
		return nil
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = Sentinel
	}
	return v
}

// Proxy is the evaluation callback handed to the solver.
type Proxy struct {
	rc   *RunContext
	fn   problem.ObjectiveFunc
	args []any
}

// NewProxy creates the evaluation proxy of a run.
func NewProxy(rc *RunContext, fn problem.ObjectiveFunc, args ...any) *Proxy {
	return &Proxy{rc: rc, fn: fn, args: args}
}

// Evaluate answers one solver request for x, either from the hot-start
// history or by calling the objective function. Failed evaluations are
// reported to the solver with every component set to Sentinel.
func (p *Proxy) Evaluate(ctx context.Context, x []float64) ([]float64, []float64, error) {
	rc := p.rc

	pt := problem.Point{X: x}
	if rc.grouped {
		pt.Groups = rc.layout.Group(x)
	}

	msg, err := rc.exchange(ctx)
	if err != nil {
		return nil, nil, err
	}

	var obj, con []float64
	var fail bool
	if msg.Replay {
		obj, con, fail = fromBits(msg.Obj), fromBits(msg.Con), msg.Fail
	} else {
		obj, con, fail = p.fn(pt, p.args...)
	}

	if fail {
		obj, con = sentinels(rc.nobj), sentinels(rc.ncon)
	} else {
		if len(obj) != rc.nobj {
			return nil, nil, &ShapeError{What: "objective", Got: len(obj), Want: rc.nobj}
		}
		if len(con) != rc.ncon {
			return nil, nil, &ShapeError{What: "constraint", Got: len(con), Want: rc.ncon}
		}
	}

	if err := rc.record(x, obj, con, fail, msg.Replay); err != nil {
		return nil, nil, err
	}
	return obj, con, nil
}

// exchange performs the per-evaluation broadcast. The coordinator reads the
// next replay record first; workers adopt whatever it decided.
func (rc *RunContext) exchange(ctx context.Context) (evalMessage, error) {
	var msg evalMessage
	var abort error

	if rc.IsRoot() && rc.replay.Active {
		rec, err := rc.cursor.Next(history.FieldObj, history.FieldCon, history.FieldFail)
		switch {
		case errors.Is(err, history.ErrEndOfHistory):
			rc.endReplay()
		case err != nil:
			abort = err
			msg.Abort = err.Error()
		default:
			msg.Replay = true
			msg.Obj = toBits(rec.Obj)
			msg.Con = toBits(rec.Con)
			msg.Fail = rec.Fail
		}
	}

	if rc.comm.Size() > 1 {
		if err := rc.comm.Broadcast(ctx, &msg); err != nil {
			return msg, errors.Join(abort, fmt.Errorf("broadcast evaluation %d: %w", rc.evals+1, err))
		}
	}

	if rc.IsRoot() {
		if abort != nil {
			rc.terminated = true
			return msg, abort
		}
		return msg, nil
	}

	switch {
	case msg.Abort != "":
		rc.terminated = true
		return msg, &AbortError{Cause: msg.Abort}
	case msg.Stop:
		rc.terminated = true
		return msg, errStopped
	case msg.Replay && !rc.replay.Active:
		return msg, fmt.Errorf("evaluation %d: coordinator replays after replay ended", rc.evals+1)
	case !msg.Replay && rc.replay.Active:
		rc.endReplay()
	}
	return msg, nil
}
