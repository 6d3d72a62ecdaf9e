package problem

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// VarKind distinguishes continuous from integer design variables.
type VarKind string

const (
	Continuous VarKind = "c"
	Integer    VarKind = "i"
)

// ConKind distinguishes equality from inequality constraints.
type ConKind string

const (
	Equality   ConKind = "e"
	Inequality ConKind = "i"
)

// Variable is a single design variable.
type Variable struct {
	Name  string  `json:"name"`
	Kind  VarKind `json:"kind"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Value float64 `json:"value"`
}

// Objective is a named objective component.
type Objective struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Constraint is a named constraint component.
type Constraint struct {
	Name  string  `json:"name"`
	Kind  ConKind `json:"kind"`
	Value float64 `json:"value"`
}

// Group is a named run of consecutive variables.
type Group struct {
	Name string
	Size int
}

// Dims holds the problem dimensions the external solver expects.
type Dims struct {
	N    int // variables
	NInt int // integer variables
	M    int // constraints
	MEq  int // equality constraints
}

// Point is the decision vector handed to an ObjectiveFunc. Groups is nil
// unless the problem was defined with variable groups.
type Point struct {
	X      []float64
	Groups Grouped
}

// ObjectiveFunc evaluates a point. It returns the objective values, the
// constraint values and a failure flag.
type ObjectiveFunc func(p Point, args ...any) (obj, con []float64, fail bool)

// ComplexObjectiveFunc is an ObjectiveFunc that works in complex arithmetic,
// e.g. for complex-step derivative checks.
type ComplexObjectiveFunc func(p Point, args ...any) (obj, con []complex128, fail bool)

// Real narrows a ComplexObjectiveFunc to its real component.
func Real(fn ComplexObjectiveFunc) ObjectiveFunc {
	return func(p Point, args ...any) ([]float64, []float64, bool) {
		cobj, ccon, fail := fn(p, args...)
		obj := make([]float64, len(cobj))
		for i, v := range cobj {
			obj[i] = real(v)
		}
		con := make([]float64, len(ccon))
		for i, v := range ccon {
			con[i] = real(v)
		}
		return obj, con, fail
	}
}

// Problem is an optimization problem with explicitly ordered variables,
// objectives, constraints and variable groups.
type Problem struct {
	Name string
	Func ObjectiveFunc

	variables   []Variable
	objectives  []Objective
	constraints []Constraint
	groups      []Group
	useGroups   bool

	varNames map[string]bool
	objNames map[string]bool
	conNames map[string]bool
}

// New creates an empty problem.
func New(name string, fn ObjectiveFunc) *Problem {
	return &Problem{
		Name:     norm.NFC.String(name),
		Func:     fn,
		varNames: make(map[string]bool),
		objNames: make(map[string]bool),
		conNames: make(map[string]bool),
	}
}

// AddVar appends a single variable. It occupies a group of its own.
func (p *Problem) AddVar(name string, kind VarKind, lower, upper, value float64) error {
	name = norm.NFC.String(name)
	if err := p.checkVar(name, kind, lower, upper); err != nil {
		return err
	}
	if p.hasGroup(name) {
		return &ValidationError{Field: "Group", Reason: fmt.Sprintf("duplicate name %q", name)}
	}
	p.varNames[name] = true
	p.variables = append(p.variables, Variable{Name: name, Kind: kind, Lower: lower, Upper: upper, Value: value})
	p.groups = append(p.groups, Group{Name: name, Size: 1})
	return nil
}

// AddVarGroup appends n variables sharing kind, bounds and initial value,
// addressable together under the group name.
func (p *Problem) AddVarGroup(name string, n int, kind VarKind, lower, upper, value float64) error {
	name = norm.NFC.String(name)
	if n <= 0 {
		return &ValidationError{Field: "Group", Reason: fmt.Sprintf("%q size must be positive", name)}
	}
	if p.hasGroup(name) {
		return &ValidationError{Field: "Group", Reason: fmt.Sprintf("duplicate name %q", name)}
	}
	for i := 0; i < n; i++ {
		vname := fmt.Sprintf("%s_%d", name, i)
		if err := p.checkVar(vname, kind, lower, upper); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		vname := fmt.Sprintf("%s_%d", name, i)
		p.varNames[vname] = true
		p.variables = append(p.variables, Variable{Name: vname, Kind: kind, Lower: lower, Upper: upper, Value: value})
	}
	p.groups = append(p.groups, Group{Name: name, Size: n})
	p.useGroups = true
	return nil
}

// AddObj appends an objective.
func (p *Problem) AddObj(name string, value float64) error {
	name = norm.NFC.String(name)
	if name == "" {
		return &ValidationError{Field: "Objective", Reason: "name cannot be empty"}
	}
	if p.objNames[name] {
		return &ValidationError{Field: "Objective", Reason: fmt.Sprintf("duplicate name %q", name)}
	}
	p.objNames[name] = true
	p.objectives = append(p.objectives, Objective{Name: name, Value: value})
	return nil
}

// AddCon appends a constraint.
func (p *Problem) AddCon(name string, kind ConKind, value float64) error {
	name = norm.NFC.String(name)
	if name == "" {
		return &ValidationError{Field: "Constraint", Reason: "name cannot be empty"}
	}
	if kind != Equality && kind != Inequality {
		return &ValidationError{Field: "Constraint", Reason: fmt.Sprintf("%q has unknown kind %q", name, kind)}
	}
	if p.conNames[name] {
		return &ValidationError{Field: "Constraint", Reason: fmt.Sprintf("duplicate name %q", name)}
	}
	p.conNames[name] = true
	p.constraints = append(p.constraints, Constraint{Name: name, Kind: kind, Value: value})
	return nil
}

func (p *Problem) checkVar(name string, kind VarKind, lower, upper float64) error {
	if name == "" {
		return &ValidationError{Field: "Variable", Reason: "name cannot be empty"}
	}
	if kind != Continuous && kind != Integer {
		return &ValidationError{Field: "Variable", Reason: fmt.Sprintf("%q has unknown kind %q", name, kind)}
	}
	if lower > upper {
		return &ValidationError{Field: "Variable", Reason: fmt.Sprintf("%q lower bound exceeds upper bound", name)}
	}
	if p.varNames[name] {
		return &ValidationError{Field: "Variable", Reason: fmt.Sprintf("duplicate name %q", name)}
	}
	return nil
}

func (p *Problem) hasGroup(name string) bool {
	for _, g := range p.groups {
		if g.Name == name {
			return true
		}
	}
	return false
}

// Variables returns a copy of the ordered variables.
func (p *Problem) Variables() []Variable { return append([]Variable(nil), p.variables...) }

// Objectives returns a copy of the ordered objectives.
func (p *Problem) Objectives() []Objective { return append([]Objective(nil), p.objectives...) }

// Constraints returns a copy of the ordered constraints.
func (p *Problem) Constraints() []Constraint { return append([]Constraint(nil), p.constraints...) }

// UsesGroups reports whether the objective expects grouped points.
func (p *Problem) UsesGroups() bool { return p.useGroups }

// Layout returns the group layout over the flat variable vector.
func (p *Problem) Layout() Layout { return NewLayout(p.groups) }

// Dims counts variables, integer variables, constraints and equality constraints.
func (p *Problem) Dims() Dims {
	d := Dims{N: len(p.variables), M: len(p.constraints)}
	for _, v := range p.variables {
		if v.Kind == Integer {
			d.NInt++
		}
	}
	for _, c := range p.constraints {
		if c.Kind == Equality {
			d.MEq++
		}
	}
	return d
}

// Bounds returns the lower and upper bound arrays in variable order.
func (p *Problem) Bounds() (lower, upper []float64) {
	lower = make([]float64, len(p.variables))
	upper = make([]float64, len(p.variables))
	for i, v := range p.variables {
		lower[i] = v.Lower
		upper[i] = v.Upper
	}
	return lower, upper
}

// InitialPoint returns the initial variable values in variable order.
func (p *Problem) InitialPoint() []float64 {
	x := make([]float64, len(p.variables))
	for i, v := range p.variables {
		x[i] = v.Value
	}
	return x
}

// IntegerMask marks integer variables.
func (p *Problem) IntegerMask() []bool {
	mask := make([]bool, len(p.variables))
	for i, v := range p.variables {
		mask[i] = v.Kind == Integer
	}
	return mask
}

// EqualityMask marks equality constraints.
func (p *Problem) EqualityMask() []bool {
	mask := make([]bool, len(p.constraints))
	for i, c := range p.constraints {
		mask[i] = c.Kind == Equality
	}
	return mask
}

// Validate checks that the problem can be handed to a solver.
func (p *Problem) Validate() error {
	if p.Name == "" {
		return &ValidationError{Field: "Name", Reason: "cannot be empty"}
	}
	if p.Func == nil {
		return &ValidationError{Field: "Func", Reason: "cannot be nil"}
	}
	if len(p.variables) == 0 {
		return &ValidationError{Field: "Variables", Reason: "at least one variable is required"}
	}
	if len(p.objectives) == 0 {
		return &ValidationError{Field: "Objectives", Reason: "at least one objective is required"}
	}
	return nil
}

// ValidationError represents an invalid problem definition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "problem validation error: " + e.Field + " " + e.Reason
}
