package opt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/cwbudde/mayfly"
)

const (
	minPopSize      = 20 // mayfly v0.1.0 rejects smaller populations
	maxIterations   = 100000
	penaltyWeight   = 1e6
	progressEvery   = 1000
	defaultAccuracy = 1e-4
)

// MayflySolver runs the Mayfly algorithm as the external solver. The search
// happens on the unit cube, so per-variable bounds work even though the
// library only takes scalar bounds.
type MayflySolver struct {
	now func() time.Time
}

// NewMayfly creates a Mayfly-backed solver.
func NewMayfly() *MayflySolver {
	return &MayflySolver{now: time.Now}
}

// Solve runs Mayfly on req. The initial point is always evaluated first.
func (m *MayflySolver) Solve(ctx context.Context, req Request, eval Callback) (Result, error) {
	if req.N < 1 {
		return Result{}, errors.New("solver needs at least one variable")
	}
	if len(req.Lower) != req.N || len(req.Upper) != req.N {
		return Result{}, fmt.Errorf("bounds have %d/%d entries, want %d", len(req.Lower), len(req.Upper), req.N)
	}

	run := &mayflyRun{
		ctx:   ctx,
		req:   req,
		eval:  eval,
		now:   m.now,
		start: m.now(),
		out:   req.Out,
	}
	if req.Print < 0 || run.out == nil {
		run.out = io.Discard
	}
	if run.req.Accuracy <= 0 {
		run.req.Accuracy = defaultAccuracy
	}
	run.window(req.X0, req.QStart)

	run.header()

	if len(req.X0) == req.N {
		run.cost(run.encode(req.X0))
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = run.cost
	config.ProblemSize = req.N
	config.MaxIterations = iterationsFor(req.MaxEval, popSize(req.PopSize))
	config.NPop = popSize(req.PopSize)
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(req.Seed))

	if run.err == nil && !run.exhausted() {
		if _, err := mayfly.Optimize(config); err != nil && run.err == nil {
			run.err = fmt.Errorf("mayfly: %w", err)
		}
	}

	res := run.result()
	run.footer(res)
	return res, run.err
}

func popSize(n int) int {
	if n < minPopSize {
		return minPopSize
	}
	return n
}

func iterationsFor(maxEval, pop int) int {
	if maxEval <= 0 {
		return maxIterations
	}
	it := maxEval/pop + 1
	if it > maxIterations {
		return maxIterations
	}
	return it
}

// mayflyRun is the state of one Solve call.
type mayflyRun struct {
	ctx  context.Context
	req  Request
	eval Callback
	now  func() time.Time
	out  io.Writer

	start time.Time
	lo    []float64 // unit cube window
	hi    []float64

	evals  int
	status int
	err    error

	best      []float64
	bestObj   []float64
	bestCon   []float64
	bestViol  float64
	bestValue float64
}

// window narrows the search around x0. qstart 0 searches the whole box.
func (r *mayflyRun) window(x0 []float64, qstart int) {
	n := r.req.N
	r.lo = make([]float64, n)
	r.hi = make([]float64, n)
	for i := range n {
		r.lo[i], r.hi[i] = 0, 1
	}
	if qstart <= 0 || len(x0) != n {
		return
	}
	half := 0.5 / float64(1+qstart)
	u := r.unit(x0)
	for i := range n {
		r.lo[i] = math.Max(0, u[i]-half)
		r.hi[i] = math.Min(1, u[i]+half)
	}
}

// unit maps a point in bounds to the unit cube.
func (r *mayflyRun) unit(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, v := range x {
		span := r.req.Upper[i] - r.req.Lower[i]
		if span > 0 {
			u[i] = (v - r.req.Lower[i]) / span
		}
	}
	return u
}

// encode maps a point in bounds to the search coordinates of the window.
func (r *mayflyRun) encode(x []float64) []float64 {
	u := r.unit(x)
	for i := range u {
		w := r.hi[i] - r.lo[i]
		if w > 0 {
			u[i] = (u[i] - r.lo[i]) / w
		} else {
			u[i] = 0
		}
	}
	return u
}

// decode maps search coordinates back into bounds, rounding integers.
func (r *mayflyRun) decode(pos []float64) []float64 {
	x := make([]float64, r.req.N)
	for i := range x {
		p := math.Min(1, math.Max(0, pos[i]))
		u := r.lo[i] + p*(r.hi[i]-r.lo[i])
		v := r.req.Lower[i] + u*(r.req.Upper[i]-r.req.Lower[i])
		if r.req.Integer != nil && r.req.Integer[i] {
			v = math.Round(v)
			v = math.Min(r.req.Upper[i], math.Max(r.req.Lower[i], v))
		}
		x[i] = v
	}
	return x
}

func (r *mayflyRun) exhausted() bool {
	if r.req.MaxEval > 0 && r.evals >= r.req.MaxEval {
		r.status = StatusMaxEval
		return true
	}
	if r.req.MaxTime > 0 && r.now().Sub(r.start) >= r.req.MaxTime {
		r.status = StatusMaxTime
		return true
	}
	return false
}

// cost is the scalar objective handed to mayfly.
func (r *mayflyRun) cost(pos []float64) float64 {
	if r.err != nil || r.exhausted() {
		return math.Inf(1)
	}
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return math.Inf(1)
	}

	x := r.decode(pos)
	obj, con, err := r.eval(r.ctx, x)
	if err != nil {
		r.err = err
		return math.Inf(1)
	}
	r.evals++

	viol := r.violation(con)
	value := 0.0
	for _, f := range obj {
		value += f
	}
	r.track(x, obj, con, viol, value)

	if r.evals%progressEvery == 0 {
		r.progress()
	}

	c := value + penaltyWeight*viol
	if math.IsNaN(c) {
		return math.Inf(1)
	}
	return c
}

func (r *mayflyRun) violation(con []float64) float64 {
	var v float64
	for i, g := range con {
		if r.req.isEquality(i) {
			v += math.Max(0, math.Abs(g)-r.req.Accuracy)
		} else {
			v += math.Max(0, -g-r.req.Accuracy)
		}
	}
	return v
}

// track keeps the best point: feasible beats infeasible, then lower
// objective sum, or lower violation among infeasible points.
func (r *mayflyRun) track(x, obj, con []float64, viol, value float64) {
	better := false
	switch {
	case r.best == nil:
		better = true
	case viol == 0 && r.bestViol > 0:
		better = true
	case viol == 0 && r.bestViol == 0:
		better = value < r.bestValue
	case viol > 0 && r.bestViol > 0:
		better = viol < r.bestViol
	}
	if !better {
		return
	}
	r.best = x
	r.bestObj = append([]float64(nil), obj...)
	r.bestCon = append([]float64(nil), con...)
	r.bestViol = viol
	r.bestValue = value
}

func (r *mayflyRun) result() Result {
	res := Result{Evals: r.evals, X: r.best, Obj: r.bestObj, Con: r.bestCon}
	switch {
	case r.err != nil:
		res.Status = StatusStopped
	case r.status != 0:
		res.Status = r.status
	case r.req.MaxEval > 0 && r.evals >= r.req.MaxEval:
		res.Status = StatusMaxEval
	case r.bestViol > 0:
		res.Status = StatusInfeasible
	default:
		res.Status = StatusFeasible
	}
	if res.X == nil && len(r.req.X0) == r.req.N {
		res.X = append([]float64(nil), r.req.X0...)
	}
	return res
}

func (r *mayflyRun) header() {
	fmt.Fprintf(r.out, "Mayfly solver: n=%d nint=%d m=%d meq=%d seed=%d maxeval=%d maxtime=%s\n",
		r.req.N, r.req.NInt, r.req.M, r.req.MEq, r.req.Seed, r.req.MaxEval, r.req.MaxTime)
	fmt.Fprintf(r.out, "%10s %16s %16s %12s\n", "EVAL", "OBJECTIVE", "VIOLATION", "TIME")
}

func (r *mayflyRun) progress() {
	fmt.Fprintf(r.out, "%10d %16.8g %16.8g %12s\n",
		r.evals, r.bestValue, r.bestViol, r.now().Sub(r.start).Round(time.Millisecond))
}

func (r *mayflyRun) footer(res Result) {
	fmt.Fprintf(r.out, "Status %d: %s\n", res.Status, Inform(res.Status))
	fmt.Fprintf(r.out, "Evaluations: %d  Best objective: %g  Violation: %g\n", res.Evals, r.bestValue, r.bestViol)
	for i, v := range res.X {
		fmt.Fprintf(r.out, "  x[%d] = %.10g\n", i, v)
	}
}
