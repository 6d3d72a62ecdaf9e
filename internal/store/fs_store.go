package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Solutions are stored in a directory structure: <baseDir>/solutions/<runID>/
//
// Thread-safety: This implementation uses atomic file operations (rename)
// and does not require locks.
type FSStore struct {
	baseDir string // Root directory for all solution data (e.g., "./data")
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// runDir returns the directory path for a given run ID.
func (fs *FSStore) runDir(runID string) string {
	return filepath.Join(fs.baseDir, "solutions", runID)
}

// solutionPath returns the path to the solution.json file for a run.
func (fs *FSStore) solutionPath(runID string) string {
	return filepath.Join(fs.runDir(runID), "solution.json")
}

// tracePath returns the path to the improvement trace of a run.
func (fs *FSStore) tracePath(runID string) string {
	return filepath.Join(fs.runDir(runID), "trace.jsonl")
}

// SaveSolution atomically saves a solution.
// Uses temp file + rename pattern to ensure atomicity.
func (fs *FSStore) SaveSolution(sol *Solution) error {
	if sol == nil {
		return fmt.Errorf("solution cannot be nil")
	}
	if err := sol.Validate(); err != nil {
		return err
	}

	runDir := fs.runDir(sol.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(sol, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize solution: %w", err)
	}

	// Write to temporary file first (atomic pattern)
	tempPath := fs.solutionPath(sol.RunID) + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp solution file: %w", err)
	}

	finalPath := fs.solutionPath(sol.RunID)
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename solution file: %w", err)
	}

	slog.Debug("Solution saved", "run_id", sol.RunID, "path", finalPath)
	return nil
}

// LoadSolution retrieves the solution of the given run.
func (fs *FSStore) LoadSolution(runID string) (*Solution, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	path := fs.solutionPath(runID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat solution file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read solution file: %w", err)
	}

	var sol Solution
	if err := json.Unmarshal(data, &sol); err != nil {
		return nil, fmt.Errorf("failed to deserialize solution: %w", err)
	}

	slog.Debug("Solution loaded", "run_id", runID, "path", path)
	return &sol, nil
}

// CreateTrace starts the improvement trace of a run, replacing any earlier one.
func (fs *FSStore) CreateTrace(runID string) (*TraceWriter, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	return createTrace(fs.tracePath(runID))
}

// LoadTrace returns the improvement trace of a run in evaluation order.
func (fs *FSStore) LoadTrace(runID string) ([]TraceEntry, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	entries, err := readTrace(fs.tracePath(runID), runID)
	if err != nil {
		return nil, err
	}
	slog.Debug("Trace loaded", "run_id", runID, "entries", len(entries))
	return entries, nil
}

// ListSolutions returns metadata for all stored solutions, newest first.
func (fs *FSStore) ListSolutions() ([]SolutionInfo, error) {
	dir := filepath.Join(fs.baseDir, "solutions")

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []SolutionInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat solutions directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read solutions directory: %w", err)
	}

	infos := []SolutionInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		runID := entry.Name()
		if _, err := os.Stat(fs.solutionPath(runID)); os.IsNotExist(err) {
			continue
		}

		sol, err := fs.LoadSolution(runID)
		if err != nil {
			slog.Warn("Failed to load solution for listing", "run_id", runID, "error", err)
			continue
		}

		infos = append(infos, sol.ToInfo())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})

	slog.Debug("Listed solutions", "count", len(infos))
	return infos, nil
}

// DeleteSolution removes the solution directory including its trace.
func (fs *FSStore) DeleteSolution(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	runDir := fs.runDir(runID)

	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Solution deleted", "run_id", runID, "path", runDir)
	return nil
}
