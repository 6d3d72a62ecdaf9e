package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gomidaco/internal/store"
)

func testCommand(in string) (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(in))
	return cmd, &out
}

func saveSolution(t *testing.T, fs *store.FSStore, runID string, ts time.Time) {
	t.Helper()
	sol := &store.Solution{
		RunID:      runID,
		Name:       "Solution to sphere",
		Problem:    "sphere",
		Evals:      100,
		Variables:  []store.Variable{{Name: "x0", Kind: "c", Lower: -5, Upper: 5, Value: 0.1}},
		Objectives: []store.Value{{Name: "f", Value: 0.01}},
		Timestamp:  ts,
	}
	if err := fs.SaveSolution(sol); err != nil {
		t.Fatalf("Failed to save solution: %v", err)
	}
}

func withDataDir(t *testing.T, dir string) {
	t.Helper()
	original := solutionsDataDir
	solutionsDataDir = dir
	t.Cleanup(func() { solutionsDataDir = original })
}

func withCleanFlags(t *testing.T, keep, days int, force bool) {
	t.Helper()
	k, d, f := keepLast, olderThanDays, forceClean
	keepLast, olderThanDays, forceClean = keep, days, force
	t.Cleanup(func() { keepLast, olderThanDays, forceClean = k, d, f })
}

func TestSelectSolutionsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	infos := []store.SolutionInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)}, // 10 days old
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},  // 5 days old
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},  // 1 day old
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)}, // 30 days old
	}

	toDelete := selectSolutionsForDeletion(infos, 0, 7, now)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 solutions to delete, got %d", len(toDelete))
	}
	if toDelete[0].RunID != "run1" || toDelete[1].RunID != "run4" {
		t.Errorf("Expected run1 and run4 to be selected for deletion, got %v", toDelete)
	}
}

func TestSelectSolutionsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	infos := []store.SolutionInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}

	toDelete := selectSolutionsForDeletion(infos, 2, 0, now)

	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 solutions to delete, got %d", len(toDelete))
	}
	// oldest first
	if toDelete[0].RunID != "run4" || toDelete[1].RunID != "run1" {
		t.Errorf("Expected run4 and run1 to be selected for deletion, got %v", toDelete)
	}
}

func TestSelectSolutionsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := []store.SolutionInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
		{RunID: "run5", Timestamp: now.AddDate(0, 0, -2)},
	}

	// run4 and run1 are too old; keeping 2 also drops run2
	toDelete := selectSolutionsForDeletion(infos, 2, 7, now)

	if len(toDelete) != 3 {
		t.Fatalf("Expected 3 solutions to delete, got %d", len(toDelete))
	}
	seen := make(map[string]bool)
	for _, info := range toDelete {
		if seen[info.RunID] {
			t.Errorf("%s selected twice", info.RunID)
		}
		seen[info.RunID] = true
	}
	for _, id := range []string{"run1", "run2", "run4"} {
		if !seen[id] {
			t.Errorf("Expected %s to be selected for deletion", id)
		}
	}
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "test.txt")
	content := []byte("Hello, World!")
	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}

	if size < int64(len(content)) {
		t.Errorf("Expected size >= %d, got %d", len(content), size)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestSolutionsListCommand_NoSolutions(t *testing.T) {
	withDataDir(t, t.TempDir())

	cmd, out := testCommand("")
	if err := runListSolutions(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "No solutions found.") {
		t.Errorf("Unexpected output: %q", out.String())
	}
}

func TestSolutionsListCommand_WithSolutions(t *testing.T) {
	tmpDir := t.TempDir()
	fs, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	saveSolution(t, fs, "test-run-id", time.Now())
	withDataDir(t, tmpDir)

	cmd, out := testCommand("")
	if err := runListSolutions(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	for _, want := range []string{"test-run-id", "sphere", "Total solutions: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output misses %q:\n%s", want, out.String())
		}
	}
}

func TestSolutionsCleanCommand_NoFlags(t *testing.T) {
	withDataDir(t, t.TempDir())
	withCleanFlags(t, 0, 0, false)

	cmd, _ := testCommand("")
	if err := runCleanSolutions(cmd, nil); err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestSolutionsCleanCommand_WithForce(t *testing.T) {
	tmpDir := t.TempDir()
	fs, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	saveSolution(t, fs, "old-run", time.Now().AddDate(0, 0, -30))
	saveSolution(t, fs, "new-run", time.Now())
	withDataDir(t, tmpDir)
	withCleanFlags(t, 0, 7, true)

	cmd, _ := testCommand("")
	if err := runCleanSolutions(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := fs.LoadSolution("old-run"); err == nil {
		t.Error("Expected old solution to be deleted")
	}
	if _, err := fs.LoadSolution("new-run"); err != nil {
		t.Errorf("Expected new solution to be kept: %v", err)
	}
}

func TestSolutionsCleanCommand_Declined(t *testing.T) {
	tmpDir := t.TempDir()
	fs, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	saveSolution(t, fs, "old-run", time.Now().AddDate(0, 0, -30))
	withDataDir(t, tmpDir)
	withCleanFlags(t, 0, 7, false)

	cmd, out := testCommand("n\n")
	if err := runCleanSolutions(cmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "Aborted.") {
		t.Errorf("Expected abort message, got %q", out.String())
	}
	if _, err := fs.LoadSolution("old-run"); err != nil {
		t.Errorf("Expected solution to be kept: %v", err)
	}
}

func TestPrintTrace(t *testing.T) {
	entries := []store.TraceEntry{
		{Eval: 1, Cost: 50, Replayed: true, Params: []float64{50, -50}},
		{Eval: 3, Cost: 12.5, Replayed: true, Params: []float64{12.5, -12.5}},
		{Eval: 6, Cost: 0.25, Params: []float64{0.25, -0.25}},
	}

	var buf bytes.Buffer
	printTrace(&buf, entries)
	golden(t).Assert(t, "solution_trace", buf.Bytes())
}

func TestSolutionsShowCommand(t *testing.T) {
	tmpDir := t.TempDir()
	fs, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	saveSolution(t, fs, "show-run", time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC))

	tw, err := fs.CreateTrace("show-run")
	if err != nil {
		t.Fatalf("Failed to create trace: %v", err)
	}
	for i, cost := range []float64{4, 9, 0.01} {
		if _, err := tw.Observe(i+1, cost, i == 0, []float64{cost}); err != nil {
			t.Fatalf("Observe failed: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Failed to close trace: %v", err)
	}
	withDataDir(t, tmpDir)

	cmd, out := testCommand("")
	if err := runShowSolution(cmd, []string{"show-run"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	for _, want := range []string{
		"Solution to sphere\n",
		"  x0         = 0.1\n",
		"  run id:   show-run\n",
		"  finished: 2026-05-04 10:30:00\n",
		"Trace: 2 improvement(s)\n",
		"1     4     replay  [4]\n",
		"3     0.01  live    [0.01]\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output misses %q:\n%s", want, out.String())
		}
	}
}

func TestSolutionsShowCommand_NoTrace(t *testing.T) {
	tmpDir := t.TempDir()
	fs, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	saveSolution(t, fs, "bare-run", time.Now())
	withDataDir(t, tmpDir)

	cmd, out := testCommand("")
	if err := runShowSolution(cmd, []string{"bare-run"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out.String(), "No trace recorded.") {
		t.Errorf("Unexpected output: %q", out.String())
	}
}

func TestSolutionsShowCommand_Missing(t *testing.T) {
	withDataDir(t, t.TempDir())

	cmd, _ := testCommand("")
	err := runShowSolution(cmd, []string{"missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected NotFoundError, got: %v", err)
	}
}
