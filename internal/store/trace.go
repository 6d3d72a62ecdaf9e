package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceEntry is one improvement of the best objective sum during a run.
type TraceEntry struct {
	Eval      int       `json:"eval"`
	Cost      float64   `json:"cost"`
	Replayed  bool      `json:"replayed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Params    []float64 `json:"params,omitempty"`
}

// TraceWriter appends improvements of one run to its trace.jsonl. Evaluations
// that do not lower the best cost seen so far are dropped.
type TraceWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	best float64
	now  func() time.Time
}

func createTrace(path string) (*TraceWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &TraceWriter{
		file: f,
		buf:  buf,
		enc:  json.NewEncoder(buf),
		best: math.Inf(1),
		now:  time.Now,
	}, nil
}

// Observe considers evaluation eval with objective sum cost at point x and
// records it when it improves on every earlier one. It reports whether an
// entry was written.
func (tw *TraceWriter) Observe(eval int, cost float64, replayed bool, x []float64) (bool, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if math.IsNaN(cost) || cost >= tw.best {
		return false, nil
	}
	tw.best = cost
	entry := TraceEntry{
		Eval:      eval,
		Cost:      cost,
		Replayed:  replayed,
		Timestamp: tw.now(),
		Params:    append([]float64(nil), x...),
	}
	if err := tw.enc.Encode(entry); err != nil {
		return false, fmt.Errorf("failed to write trace entry: %w", err)
	}
	return true, nil
}

// Best returns the lowest cost observed, or +Inf before the first entry.
func (tw *TraceWriter) Best() float64 {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.best
}

// Close flushes buffered entries and closes the file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.file == nil {
		return nil
	}
	err := tw.buf.Flush()
	if cerr := tw.file.Close(); err == nil {
		err = cerr
	}
	tw.file = nil
	if err != nil {
		return fmt.Errorf("failed to close trace: %w", err)
	}
	return nil
}

// readTrace decodes every entry of the trace at path.
func readTrace(path, runID string) ([]TraceEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{RunID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	entries := []TraceEntry{}
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var e TraceEntry
		err := dec.Decode(&e)
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode trace entry %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
}
