package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RunConfig holds the solver tuning parameters of one run. It is treated as
// immutable once the run starts.
type RunConfig struct {
	// Accuracy for constraint violation
	Accuracy float64 `yaml:"ACC" json:"ACC"`

	// Seed for the random number generator; negative selects a time based seed
	Seed int64 `yaml:"ISEED" json:"ISEED"`

	// Quality of the starting point (0 means x0 is a random point)
	QStart int `yaml:"QSTART" json:"QSTART"`

	// Maximal number of function evaluations
	MaxEval int `yaml:"MAXEVAL" json:"MAXEVAL"`

	// Maximal run time in seconds
	MaxTime float64 `yaml:"MAXTIME" json:"MAXTIME"`

	// Output level (<0 none, 0 screen, >=1 file)
	Print int `yaml:"IPRINT" json:"IPRINT"`

	// Screen unit for IPRINT 0: StdoutUnit or StderrUnit
	Unit int `yaml:"IOUT" json:"IOUT"`

	// Output file name
	File string `yaml:"IFILE" json:"IFILE"`

	// Population size of the solver backend
	PopSize int `yaml:"POPSIZE" json:"POPSIZE"`
}

// Screen units accepted by IOUT.
const (
	StderrUnit = 0
	StdoutUnit = 6
)

type optionKind int

const (
	floatOption optionKind = iota
	intOption
	stringOption
)

func (k optionKind) String() string {
	switch k {
	case floatOption:
		return "float"
	case intOption:
		return "int"
	default:
		return "string"
	}
}

type optionDef struct {
	kind optionKind
	set  func(c *RunConfig, v any)
	get  func(c RunConfig) any
}

// Keys lists the option keys in display order.
var Keys = []string{"ACC", "ISEED", "QSTART", "MAXEVAL", "MAXTIME", "IPRINT", "IOUT", "IFILE", "POPSIZE"}

var table = map[string]optionDef{
	"ACC":     {floatOption, func(c *RunConfig, v any) { c.Accuracy = v.(float64) }, func(c RunConfig) any { return c.Accuracy }},
	"ISEED":   {intOption, func(c *RunConfig, v any) { c.Seed = v.(int64) }, func(c RunConfig) any { return c.Seed }},
	"QSTART":  {intOption, func(c *RunConfig, v any) { c.QStart = int(v.(int64)) }, func(c RunConfig) any { return c.QStart }},
	"MAXEVAL": {intOption, func(c *RunConfig, v any) { c.MaxEval = int(v.(int64)) }, func(c RunConfig) any { return c.MaxEval }},
	"MAXTIME": {floatOption, func(c *RunConfig, v any) { c.MaxTime = v.(float64) }, func(c RunConfig) any { return c.MaxTime }},
	"IPRINT":  {intOption, func(c *RunConfig, v any) { c.Print = int(v.(int64)) }, func(c RunConfig) any { return c.Print }},
	"IOUT":    {intOption, func(c *RunConfig, v any) { c.Unit = int(v.(int64)) }, func(c RunConfig) any { return c.Unit }},
	"IFILE":   {stringOption, func(c *RunConfig, v any) { c.File = v.(string) }, func(c RunConfig) any { return c.File }},
	"POPSIZE": {intOption, func(c *RunConfig, v any) { c.PopSize = int(v.(int64)) }, func(c RunConfig) any { return c.PopSize }},
}

// Default returns the default run configuration.
func Default() RunConfig {
	return RunConfig{
		Accuracy: 0.0001,
		Seed:     -1,
		QStart:   0,
		MaxEval:  500000,
		MaxTime:  86400,
		Print:    1,
		Unit:     StdoutUnit,
		File:     "MIDACO.out",
		PopSize:  20,
	}
}

// Set parses value according to the declared type of key and stores it.
func (c *RunConfig) Set(key, value string) error {
	key = strings.ToUpper(strings.TrimSpace(key))
	def, ok := table[key]
	if !ok {
		return &ConfigError{Key: key, Reason: "unknown option"}
	}

	var parsed any
	var err error
	switch def.kind {
	case floatOption:
		parsed, err = strconv.ParseFloat(value, 64)
	case intOption:
		parsed, err = strconv.ParseInt(value, 10, 64)
	default:
		parsed = value
	}
	if err != nil {
		return &ConfigError{Key: key, Reason: fmt.Sprintf("expected %s, got %q", def.kind, value)}
	}

	def.set(c, parsed)
	return nil
}

// SetPair applies a KEY=VALUE assignment.
func (c *RunConfig) SetPair(pair string) error {
	key, value, ok := strings.Cut(pair, "=")
	if !ok {
		return &ConfigError{Key: pair, Reason: "expected KEY=VALUE"}
	}
	return c.Set(key, value)
}

// Options returns the configuration keyed by option name.
func (c RunConfig) Options() map[string]any {
	opts := make(map[string]any, len(table))
	for key, def := range table {
		opts[key] = def.get(c)
	}
	return opts
}

// Validate rejects configurations no solver run can honour.
func (c RunConfig) Validate() error {
	if c.Accuracy < 0 {
		return &ConfigError{Key: "ACC", Reason: "cannot be negative"}
	}
	if c.MaxEval <= 0 {
		return &ConfigError{Key: "MAXEVAL", Reason: "must be positive"}
	}
	if c.MaxTime <= 0 {
		return &ConfigError{Key: "MAXTIME", Reason: "must be positive"}
	}
	if c.PopSize <= 0 {
		return &ConfigError{Key: "POPSIZE", Reason: "must be positive"}
	}
	if c.Unit != StdoutUnit && c.Unit != StderrUnit {
		return &ConfigError{Key: "IOUT", Reason: fmt.Sprintf("unit %d is neither %d (stdout) nor %d (stderr)", c.Unit, StdoutUnit, StderrUnit)}
	}
	if c.Print >= 1 && c.File == "" {
		return &ConfigError{Key: "IFILE", Reason: "required when IPRINT >= 1"}
	}
	return nil
}

// DefaultHistoryName derives the default history name from the output file
// name: the part of its base name before the first dot.
func (c RunConfig) DefaultHistoryName() string {
	dir, base := filepath.Split(c.File)
	stem, _, _ := strings.Cut(base, ".")
	if stem == "" {
		stem = "MIDACO"
	}
	return filepath.Join(dir, stem)
}

// LoadFile overlays the options in a YAML file onto the defaults.
func LoadFile(path string) (RunConfig, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read options file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return c, &ConfigError{Key: path, Reason: err.Error()}
	}
	return c, nil
}

// ParallelMode selects how objective evaluations are coordinated.
type ParallelMode int

const (
	// Serial runs a single worker.
	Serial ParallelMode = iota
	// POA (parallel objective analysis) runs several lock-step workers.
	POA
)

func (m ParallelMode) String() string {
	if m == POA {
		return "POA"
	}
	return "serial"
}

// ParseParallelMode accepts "" (serial) or "POA", case-insensitively.
func ParseParallelMode(s string) (ParallelMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return Serial, nil
	case "POA":
		return POA, nil
	default:
		return Serial, &ConfigError{Key: "parallel", Reason: fmt.Sprintf("must be empty or POA, got %q", s)}
	}
}

// ErrConfig matches any ConfigError with errors.Is.
var ErrConfig = &ConfigError{}

// ConfigError reports an invalid run configuration. It is fatal at startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "config error"
	}
	return "config error: " + e.Key + " " + e.Reason
}

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}
