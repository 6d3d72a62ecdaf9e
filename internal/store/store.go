package store

// Store defines the interface for solution persistence operations.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the solution doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveSolution atomically saves the solution of a finished run under its
	// run ID. An existing solution with the same ID is overwritten.
	SaveSolution(sol *Solution) error

	// LoadSolution retrieves the solution of the given run.
	// Returns ErrNotFound if no solution exists for runID.
	LoadSolution(runID string) (*Solution, error)

	// ListSolutions returns metadata for all stored solutions.
	ListSolutions() ([]SolutionInfo, error)

	// CreateTrace starts the improvement trace of a run. The trace is kept
	// next to the run's solution.
	CreateTrace(runID string) (*TraceWriter, error)

	// LoadTrace returns the improvement trace of a run.
	// Returns ErrNotFound if the run has no trace.
	LoadTrace(runID string) ([]TraceEntry, error)

	// DeleteSolution removes the solution and its trace.
	// Returns ErrNotFound if no solution exists for runID.
	DeleteSolution(runID string) error
}

var _ Store = (*FSStore)(nil)

// ErrNotFound is returned when a requested solution does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing solution error.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "solution not found: " + e.RunID
	}
	return "solution not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
