package store

import (
	"fmt"
	"time"
)

// Variable is a design variable with its final value.
type Variable struct {
	Name  string  `json:"name"`
	Kind  string  `json:"kind"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Value float64 `json:"value"`
}

// Value is a named objective or constraint with its final value.
type Value struct {
	Name  string  `json:"name"`
	Kind  string  `json:"kind,omitempty"`
	Value float64 `json:"value"`
}

// Solution is the outcome of one finished run.
//
// Solutions are written by the coordinating worker only. They describe the
// best point the solver reported, not the history: the evaluation history
// lives in the history file pair named by HistoryPath.
type Solution struct {
	// RunID is the unique identifier of the run, shared with the history header
	RunID string `json:"runId"`

	// Name is a display name, e.g. "Mayfly solution to sphere"
	Name string `json:"name"`

	// Problem is the name of the optimization problem
	Problem string `json:"problem"`

	// Status is the solver status code, Inform its text
	Status int    `json:"status"`
	Inform string `json:"inform"`

	// Evals counts the evaluations requested by the solver
	Evals int `json:"evals"`

	// Replayed counts the evaluations answered from a previous history
	Replayed int `json:"replayed"`

	// Seed is the seed the run actually used
	Seed int64 `json:"seed"`

	// Elapsed is the solver wall time
	Elapsed time.Duration `json:"elapsed"`

	Variables   []Variable `json:"variables"`
	Objectives  []Value    `json:"objectives"`
	Constraints []Value    `json:"constraints,omitempty"`

	// Options are the run options in effect
	Options map[string]any `json:"options"`

	// HistoryPath is the history pair written by the run, if any
	HistoryPath string `json:"historyPath,omitempty"`

	// Timestamp records when the run finished
	Timestamp time.Time `json:"timestamp"`
}

// SolutionInfo contains solution metadata without variable values.
// Used for listing solutions efficiently.
type SolutionInfo struct {
	RunID     string    `json:"runId"`
	Problem   string    `json:"problem"`
	Status    int       `json:"status"`
	Evals     int       `json:"evals"`
	Objective float64   `json:"objective"`
	Timestamp time.Time `json:"timestamp"`
}

// ToInfo converts a full Solution to SolutionInfo (metadata only).
func (s *Solution) ToInfo() SolutionInfo {
	info := SolutionInfo{
		RunID:     s.RunID,
		Problem:   s.Problem,
		Status:    s.Status,
		Evals:     s.Evals,
		Timestamp: s.Timestamp,
	}
	for _, o := range s.Objectives {
		info.Objective += o.Value
	}
	return info
}

// Validate checks if the solution has valid data.
func (s *Solution) Validate() error {
	if s.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if s.Problem == "" {
		return &ValidationError{Field: "Problem", Reason: "cannot be empty"}
	}
	if len(s.Variables) == 0 {
		return &ValidationError{Field: "Variables", Reason: "cannot be empty"}
	}
	if len(s.Objectives) == 0 {
		return &ValidationError{Field: "Objectives", Reason: "cannot be empty"}
	}
	if s.Evals < 0 {
		return &ValidationError{Field: "Evals", Reason: "cannot be negative"}
	}
	if s.Replayed > s.Evals {
		return &ValidationError{
			Field:  "Replayed",
			Reason: fmt.Sprintf("exceeds evaluation count (%d > %d)", s.Replayed, s.Evals),
		}
	}
	if s.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents a solution validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
