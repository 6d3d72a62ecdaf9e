package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gomidaco/internal/store"
)

var (
	solutionsDataDir string
	keepLast         int
	olderThanDays    int
	forceClean       bool
)

var solutionsCmd = &cobra.Command{
	Use:   "solutions",
	Short: "Manage saved solutions",
	Long: `Manage the solutions saved by "run --data-dir", including listing,
inspecting and cleaning old runs. Each solution directory also holds the run's
improvement trace.`,
}

var listSolutionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved solutions",
	Long:  `Display all solutions with run ID, timestamp, problem, status, evaluations, objective and size.`,
	RunE:  runListSolutions,
}

var showSolutionCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a solution and its improvement trace",
	Long: `Print a saved solution followed by its improvement trace: every
evaluation that lowered the best objective sum, and whether it was replayed
from a hot-start history.`,
	Args: cobra.ExactArgs(1),
	RunE: runShowSolution,
}

var cleanSolutionsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old solutions",
	Long: `Delete old solutions based on retention policy.
You can keep only the newest N solutions or delete solutions older than N days.`,
	RunE: runCleanSolutions,
}

func init() {
	rootCmd.AddCommand(solutionsCmd)

	solutionsCmd.AddCommand(listSolutionsCmd)
	solutionsCmd.AddCommand(showSolutionCmd)
	solutionsCmd.AddCommand(cleanSolutionsCmd)

	solutionsCmd.PersistentFlags().StringVar(&solutionsDataDir, "data-dir", "./data", "Base directory for solution storage")

	cleanSolutionsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N solutions (0 = keep all)")
	cleanSolutionsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete solutions older than N days (0 = no age limit)")
	cleanSolutionsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openSolutionStore() (store.Store, error) {
	solutionStore, err := store.NewFSStore(solutionsDataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create solution store: %w", err)
	}
	return solutionStore, nil
}

func runListSolutions(cmd *cobra.Command, args []string) error {
	solutionStore, err := openSolutionStore()
	if err != nil {
		return err
	}

	infos, err := solutionStore.ListSolutions()
	if err != nil {
		return fmt.Errorf("failed to list solutions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No solutions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tPROBLEM\tSTATUS\tEVALS\tOBJECTIVE\tSIZE")
	fmt.Fprintln(w, "------\t---------\t-------\t------\t-----\t---------\t----")

	for _, info := range infos {
		runDir := filepath.Join(solutionsDataDir, "solutions", info.RunID)
		size, err := getDirSize(runDir)
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.6g\t%s\n",
			shortID(info.RunID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Problem,
			info.Status,
			info.Evals,
			info.Objective,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(out, "\nTotal solutions: %d\n", len(infos))
	return nil
}

func runShowSolution(cmd *cobra.Command, args []string) error {
	solutionStore, err := openSolutionStore()
	if err != nil {
		return err
	}

	runID := args[0]
	sol, err := solutionStore.LoadSolution(runID)
	if err != nil {
		return err
	}
	printSolution(cmd, sol)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  run id:   %s\n", sol.RunID)
	fmt.Fprintf(out, "  finished: %s\n\n", sol.Timestamp.Format("2006-01-02 15:04:05"))

	entries, err := solutionStore.LoadTrace(runID)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintln(out, "No trace recorded.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load trace: %w", err)
	}
	printTrace(out, entries)
	return nil
}

// printTrace lists the improvements of a run, one per line.
func printTrace(w io.Writer, entries []store.TraceEntry) {
	fmt.Fprintf(w, "Trace: %d improvement(s)\n", len(entries))
	if len(entries) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EVAL\tCOST\tSOURCE\tPOINT")
	for _, e := range entries {
		source := "live"
		if e.Replayed {
			source = "replay"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Eval, formatFloat(e.Cost), source, formatVector(e.Params))
	}
	tw.Flush()
}

func runCleanSolutions(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	solutionStore, err := openSolutionStore()
	if err != nil {
		return err
	}

	infos, err := solutionStore.ListSolutions()
	if err != nil {
		return fmt.Errorf("failed to list solutions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No solutions to clean.")
		return nil
	}

	toDelete := selectSolutionsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No solutions match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d solution(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %d evals, %s)\n",
			shortID(info.RunID),
			info.Problem,
			info.Evals,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := solutionStore.DeleteSolution(info.RunID); err != nil {
			slog.Error("Failed to delete solution", "run_id", info.RunID, "error", err)
			failed++
		} else {
			slog.Info("Deleted solution", "run_id", info.RunID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d solution(s), %d failed.\n", deleted, failed)
	return nil
}

// selectSolutionsForDeletion applies the retention policy: solutions older
// than olderThanDays, plus everything beyond the newest keepLast.
func selectSolutionsForDeletion(infos []store.SolutionInfo, keepLast, olderThanDays int, now time.Time) []store.SolutionInfo {
	var toDelete []store.SolutionInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.SolutionInfo, len(infos))
		copy(sorted, infos)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})

		for _, info := range sorted[:len(sorted)-keepLast] {
			if !selected[info.RunID] {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
