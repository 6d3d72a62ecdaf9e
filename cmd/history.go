package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/gomidaco/internal/export"
	"github.com/cwbudde/gomidaco/internal/history"
)

var exportDB string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect evaluation histories",
	Long: `Inspect the history pairs written by "run --store-history". A history
is named without extension; its files are <name>.cue and <name>.bin.`,
}

var dumpHistoryCmd = &cobra.Command{
	Use:   "dump <path>",
	Short: "List every evaluation record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(args[0], func(s *history.Store) error {
			return dumpHistory(cmd.OutOrStdout(), s)
		})
	},
}

var infoHistoryCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Summarize a history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(args[0], func(s *history.Store) error {
			return historyInfo(cmd.OutOrStdout(), s)
		})
	},
}

var exportHistoryCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Copy a history into an SQLite database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := export.ToSQLite(cmd.Context(), args[0], exportDB)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d record(s) of run %s to %s\n", sum.Records, sum.RunID, exportDB)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.AddCommand(dumpHistoryCmd)
	historyCmd.AddCommand(infoHistoryCmd)
	historyCmd.AddCommand(exportHistoryCmd)

	exportHistoryCmd.Flags().StringVar(&exportDB, "db", "history.db", "SQLite database file")
}

func withHistory(path string, fn func(*history.Store) error) error {
	s, err := history.Open(path, history.ModeRead)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func dumpHistory(w io.Writer, s *history.Store) error {
	h := s.Header()
	fmt.Fprintf(w, "# problem=%s run=%s records=%d\n", h.Problem, h.RunID, s.Len())
	if s.HasSeed() {
		seed, err := s.Seed()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "# seed=%d\n", seed)
	}

	cur := s.Cursor()
	for i := 0; ; i++ {
		rec, err := cur.Next()
		if errors.Is(err, history.ErrEndOfHistory) {
			return nil
		}
		if err != nil {
			return err
		}
		status := "ok  "
		if rec.Fail {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%5d %s x=%s obj=%s con=%s\n", i, status, formatVector(rec.X), formatVector(rec.Obj), formatVector(rec.Con))
	}
}

func historyInfo(w io.Writer, s *history.Store) error {
	h := s.Header()
	records, err := s.Records()
	if err != nil {
		return err
	}

	failed := 0
	best := -1
	var bestSum float64
	for i, rec := range records {
		if rec.Fail {
			failed++
			continue
		}
		var sum float64
		for _, f := range rec.Obj {
			sum += f
		}
		if best < 0 || sum < bestSum {
			best, bestSum = i, sum
		}
	}

	fmt.Fprintf(w, "Path:     %s\n", s.Path())
	fmt.Fprintf(w, "Format:   %s v%d\n", h.Format, h.Version)
	fmt.Fprintf(w, "Problem:  %s\n", h.Problem)
	fmt.Fprintf(w, "Run ID:   %s\n", h.RunID)
	fmt.Fprintf(w, "Created:  %s\n", h.Created.Format("2006-01-02 15:04:05 MST"))
	if s.HasSeed() {
		seed, err := s.Seed()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Seed:     %d\n", seed)
	} else {
		fmt.Fprintf(w, "Seed:     none\n")
	}
	fmt.Fprintf(w, "Records:  %d (%d failed)\n", len(records), failed)
	if best >= 0 {
		fmt.Fprintf(w, "Best:     %s at record %d\n", formatFloat(bestSum), best)
	}
	return nil
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = formatFloat(f)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
