package problem

import (
	"fmt"
	"sort"
)

// builtin is a test objective with the problem shape it can evaluate.
type builtin struct {
	fn      ObjectiveFunc
	minVars int
	nobj    int
	ncon    int
}

var builtins = map[string]builtin{
	"sphere":        {fn: sphere, minVars: 1, nobj: 1},
	"rosenbrock":    {fn: rosenbrock, minVars: 2, nobj: 1},
	"constrained":   {fn: constrained, minVars: 2, nobj: 1, ncon: 2},
	"fail-negative": {fn: failNegative, minVars: 1, nobj: 1},
}

// Builtin looks up a named test objective.
func Builtin(name string) (ObjectiveFunc, bool) {
	b, ok := builtins[name]
	return b.fn, ok
}

// checkShape rejects problems the builtin cannot evaluate.
func (b builtin) checkShape(name string, p *Problem) error {
	switch {
	case len(p.variables) < b.minVars:
		return &ValidationError{Field: "Variables", Reason: fmt.Sprintf("%s needs at least %d variables, got %d", name, b.minVars, len(p.variables))}
	case len(p.objectives) != b.nobj:
		return &ValidationError{Field: "Objectives", Reason: fmt.Sprintf("%s returns %d objectives, problem declares %d", name, b.nobj, len(p.objectives))}
	case len(p.constraints) != b.ncon:
		return &ValidationError{Field: "Constraints", Reason: fmt.Sprintf("%s returns %d constraints, problem declares %d", name, b.ncon, len(p.constraints))}
	}
	return nil
}

// BuiltinNames lists the registered test objectives.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sphere: f(x) = sum(x_i^2), minimum at origin
func sphere(p Point, _ ...any) ([]float64, []float64, bool) {
	var sum float64
	for _, v := range p.X {
		sum += v * v
	}
	return []float64{sum}, nil, false
}

func rosenbrock(p Point, _ ...any) ([]float64, []float64, bool) {
	var sum float64
	for i := 0; i+1 < len(p.X); i++ {
		a := p.X[i+1] - p.X[i]*p.X[i]
		b := 1 - p.X[i]
		sum += 100*a*a + b*b
	}
	return []float64{sum}, nil, false
}

// constrained minimises (x0-1)^2 + (x1-2)^2 subject to
// x0 + x1 - 2 = 0 and x0 - 0.5 >= 0. Optimum at (0.5, 1.5).
func constrained(p Point, _ ...any) ([]float64, []float64, bool) {
	x0, x1 := p.X[0], p.X[1]
	f := (x0-1)*(x0-1) + (x1-2)*(x1-2)
	return []float64{f}, []float64{x0 + x1 - 2, x0 - 0.5}, false
}

// failNegative is the sphere function, reporting failure whenever a
// coordinate is negative.
func failNegative(p Point, args ...any) ([]float64, []float64, bool) {
	obj, con, _ := sphere(p, args...)
	for _, v := range p.X {
		if v < 0 {
			return obj, con, true
		}
	}
	return obj, con, false
}
