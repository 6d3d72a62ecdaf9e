package opt

import (
	"context"
	"io"
	"time"
)

// Solver defines the external optimizer boundary. The solver decides which
// points to evaluate; the caller only answers evaluation requests.
type Solver interface {
	// Solve runs the search described by req, calling eval once per point
	// the solver wants evaluated. The first error returned by eval ends the
	// search and is returned by Solve.
	Solve(ctx context.Context, req Request, eval Callback) (Result, error)
}

// Callback evaluates one flat point and returns objective and constraint
// values in declaration order.
type Callback func(ctx context.Context, x []float64) (obj, con []float64, err error)

// Request describes one solver invocation using flat, ordered arrays.
type Request struct {
	N    int // variables
	NInt int // integer variables
	M    int // constraints
	MEq  int // equality constraints, the first MEq of M

	NObj    int
	Lower   []float64
	Upper   []float64
	Integer []bool
	X0      []float64

	Accuracy float64
	Seed     int64
	QStart   int
	MaxEval  int
	MaxTime  time.Duration
	PopSize  int

	// Print < 0 disables output. Out receives progress lines otherwise.
	Print int
	Out   io.Writer

	// Equality marks equality constraints by position. When nil the first
	// MEq constraints are equalities.
	Equality []bool
}

func (r Request) isEquality(i int) bool {
	if r.Equality != nil {
		return r.Equality[i]
	}
	return i < r.MEq
}

// Result is what the solver reports when it stops.
type Result struct {
	Status int
	Evals  int
	X      []float64
	Obj    []float64
	Con    []float64
}

// Status codes reported in Result.Status.
const (
	StatusFeasible   = 0
	StatusMaxTime    = 1
	StatusMaxEval    = 2
	StatusInfeasible = 3
	StatusStopped    = 4
)

var informs = map[int]string{
	StatusFeasible:   "Optimization finished, feasible solution found",
	StatusMaxTime:    "Time budget (MAXTIME) reached",
	StatusMaxEval:    "Evaluation budget (MAXEVAL) reached",
	StatusInfeasible: "Optimization finished, no feasible solution found",
	StatusStopped:    "Optimization stopped by caller",
}

// Inform returns the text for a status code.
func Inform(code int) string {
	if s, ok := informs[code]; ok {
		return s
	}
	return "Unknown status"
}
