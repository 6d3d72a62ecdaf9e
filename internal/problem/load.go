package problem

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML form of a problem definition.
type File struct {
	Name        string         `yaml:"name"`
	Function    string         `yaml:"function"`
	Variables   []VariableSpec `yaml:"variables"`
	Objectives  []string       `yaml:"objectives"`
	Constraints []ConSpec      `yaml:"constraints,omitempty"`
}

// VariableSpec declares either a single variable (Name) or a group (Group + Size).
type VariableSpec struct {
	Name  string  `yaml:"name,omitempty"`
	Group string  `yaml:"group,omitempty"`
	Size  int     `yaml:"size,omitempty"`
	Type  string  `yaml:"type"`
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
	Value float64 `yaml:"value"`
}

// ConSpec declares a constraint.
type ConSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// LoadFile reads a YAML problem definition and binds its builtin objective.
func LoadFile(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read problem file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML problem definition.
func Parse(data []byte) (*Problem, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse problem: %w", err)
	}
	return f.Build()
}

// Build turns the file form into a Problem.
func (f *File) Build() (*Problem, error) {
	b, ok := builtins[f.Function]
	if !ok {
		return nil, &ValidationError{Field: "Function", Reason: fmt.Sprintf("unknown builtin %q (have %v)", f.Function, BuiltinNames())}
	}

	p := New(f.Name, b.fn)
	for _, v := range f.Variables {
		kind := VarKind(v.Type)
		if kind == "" {
			kind = Continuous
		}
		var err error
		switch {
		case v.Group != "" && v.Name != "":
			err = &ValidationError{Field: "Variable", Reason: fmt.Sprintf("%q sets both name and group", v.Name)}
		case v.Group != "":
			err = p.AddVarGroup(v.Group, v.Size, kind, v.Lower, v.Upper, v.Value)
		default:
			err = p.AddVar(v.Name, kind, v.Lower, v.Upper, v.Value)
		}
		if err != nil {
			return nil, err
		}
	}
	for _, name := range f.Objectives {
		if err := p.AddObj(name, 0); err != nil {
			return nil, err
		}
	}
	for _, c := range f.Constraints {
		if err := p.AddCon(c.Name, ConKind(c.Type), 0); err != nil {
			return nil, err
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := b.checkShape(f.Function, p); err != nil {
		return nil, err
	}
	return p, nil
}
