package history

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is a history file pair: a JSON-lines index (<path>.cue) and a
// little-endian float64 data file (<path>.bin). Both files are opened,
// written and closed together.
//
// A store opened for writing is safe for concurrent use; each record becomes
// visible in the index only after its data has been flushed.
type Store struct {
	mu     sync.Mutex
	path   string
	mode   Mode
	header Header
	closed bool

	// write mode
	cue    *os.File
	cueW   *bufio.Writer
	bin    *os.File
	binW   *bufio.Writer
	offset int64
	count  int
	broken error

	// read mode
	records [][]entry
	seed    *entry
}

// Option configures a store opened for writing.
type Option func(*Header)

// WithProblem records the problem name in the header.
func WithProblem(name string) Option {
	return func(h *Header) { h.Problem = name }
}

// WithRunID records a run id in the header instead of a generated one.
func WithRunID(id string) Option {
	return func(h *Header) { h.RunID = id }
}

// CuePath returns the index file path of a history.
func CuePath(path string) string { return path + ".cue" }

// DataPath returns the data file path of a history.
func DataPath(path string) string { return path + ".bin" }

// Open opens the history pair at path. Read mode validates the pair and
// fails with a StorageError if either file is missing or they disagree.
// Write mode truncates any existing pair.
func Open(path string, mode Mode, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, &StorageError{Op: "open", Err: errors.New("path cannot be empty")}
	}
	switch mode {
	case ModeRead:
		return openRead(path)
	case ModeWrite:
		return openWrite(path, opts)
	default:
		return nil, &StorageError{Path: path, Op: "open", Err: fmt.Errorf("unknown mode %d", mode)}
	}
}

func openWrite(path string, opts []Option) (*Store, error) {
	header := Header{
		Format:  formatName,
		Version: formatVersion,
		RunID:   uuid.New().String(),
		Created: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&header)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &StorageError{Path: path, Op: "create", Err: err}
		}
	}

	cue, err := os.Create(CuePath(path))
	if err != nil {
		return nil, &StorageError{Path: path, Op: "create", Err: err}
	}
	bin, err := os.Create(DataPath(path))
	if err != nil {
		cue.Close()
		return nil, &StorageError{Path: path, Op: "create", Err: err}
	}

	s := &Store{
		path:   path,
		mode:   ModeWrite,
		header: header,
		cue:    cue,
		cueW:   bufio.NewWriter(cue),
		bin:    bin,
		binW:   bufio.NewWriterSize(bin, 64*1024),
	}
	err = s.writeIndex(header)
	if err == nil {
		err = s.cueW.Flush()
	}
	if err != nil {
		s.closeFiles()
		return nil, &StorageError{Path: path, Op: "write header", Err: err}
	}

	slog.Debug("History opened", "path", path, "mode", "write", "run_id", header.RunID)
	return s, nil
}

func openRead(path string) (*Store, error) {
	info, err := os.Stat(DataPath(path))
	if err != nil {
		return nil, &StorageError{Path: path, Op: "open", Err: err}
	}
	if info.Size()%8 != 0 {
		return nil, &StorageError{Path: path, Op: "open", Err: fmt.Errorf("data file size %d is not a multiple of 8", info.Size())}
	}
	size := info.Size() / 8

	cue, err := os.Open(CuePath(path))
	if err != nil {
		return nil, &StorageError{Path: path, Op: "open", Err: err}
	}
	defer cue.Close()

	bin, err := os.Open(DataPath(path))
	if err != nil {
		return nil, &StorageError{Path: path, Op: "open", Err: err}
	}

	s := &Store{path: path, mode: ModeRead, bin: bin}
	if err := s.loadIndex(cue, size); err != nil {
		bin.Close()
		return nil, &StorageError{Path: path, Op: "read index", Err: err}
	}

	slog.Debug("History opened", "path", path, "mode", "read", "records", len(s.records))
	return s, nil
}

// loadIndex parses the index and checks it against the data file.
func (s *Store) loadIndex(r io.Reader, size int64) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return errors.New("missing header")
	}
	if err := json.Unmarshal(scanner.Bytes(), &s.header); err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}
	if s.header.Format != formatName || s.header.Version != formatVersion {
		return fmt.Errorf("unsupported format %q version %d", s.header.Format, s.header.Version)
	}

	var pending []entry
	line := 1
	for scanner.Scan() {
		line++
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if e.Offset < 0 || e.Count < 0 || e.Offset+int64(e.Count) > size {
			return fmt.Errorf("line %d: block [%d,+%d) outside data file of %d values", line, e.Offset, e.Count, size)
		}

		switch e.Kind {
		case kindSeed:
			if e.Count != 1 {
				return fmt.Errorf("line %d: seed block must hold one value", line)
			}
			seed := e
			s.seed = &seed
		case kindEval:
			want := recordFields[len(pending)]
			if e.Field != want || e.Record != len(s.records) {
				return fmt.Errorf("line %d: expected field %q of record %d, got %q of record %d", line, want, len(s.records), e.Field, e.Record)
			}
			pending = append(pending, e)
			if len(pending) == len(recordFields) {
				s.records = append(s.records, pending)
				pending = nil
			}
		default:
			return fmt.Errorf("line %d: unknown entry kind %q", line, e.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(pending) != 0 {
		return fmt.Errorf("record %d is truncated after %d of %d fields", len(s.records), len(pending), len(recordFields))
	}
	return nil
}

// Path returns the history path without extension.
func (s *Store) Path() string { return s.path }

// Mode reports how the store was opened.
func (s *Store) Mode() Mode { return s.mode }

// Header returns the index header.
func (s *Store) Header() Header { return s.header }

// Len returns the number of evaluation records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeWrite {
		return s.count
	}
	return len(s.records)
}

// WriteRecord appends an evaluation record.
func (s *Store) WriteRecord(r EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}

	fail := 0.0
	if r.Fail {
		fail = 1
	}
	blocks := [][]float64{r.X, r.Obj, r.Con, {fail}}
	entries := make([]entry, len(blocks))
	offset := s.offset
	for i, block := range blocks {
		entries[i] = entry{Kind: kindEval, Record: s.count, Field: recordFields[i], Offset: offset, Count: len(block)}
		offset += int64(len(block))
	}

	if err := s.appendData(blocks...); err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.writeIndex(e); err != nil {
			s.broken = err
			return &StorageError{Path: s.path, Op: "write index", Err: err}
		}
	}
	if err := s.cueW.Flush(); err != nil {
		s.broken = err
		return &StorageError{Path: s.path, Op: "flush index", Err: err}
	}

	s.offset = offset
	s.count++
	return nil
}

// WriteSeed stores the random seed of the run. The seed is kept as the bit
// pattern of its float64 slot so every int64 survives the round trip.
func (s *Store) WriteSeed(seed int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}
	if err := s.appendData([]float64{math.Float64frombits(uint64(seed))}); err != nil {
		return err
	}
	if err := s.writeIndex(entry{Kind: kindSeed, Field: FieldSeed, Offset: s.offset, Count: 1}); err != nil {
		s.broken = err
		return &StorageError{Path: s.path, Op: "write index", Err: err}
	}
	if err := s.cueW.Flush(); err != nil {
		s.broken = err
		return &StorageError{Path: s.path, Op: "flush index", Err: err}
	}
	s.offset++
	return nil
}

func (s *Store) writable() error {
	if s.mode != ModeWrite {
		return &StorageError{Path: s.path, Op: "write", Err: errors.New("store opened for reading")}
	}
	if s.closed {
		return &StorageError{Path: s.path, Op: "write", Err: os.ErrClosed}
	}
	if s.broken != nil {
		return &StorageError{Path: s.path, Op: "write", Err: fmt.Errorf("store unusable after earlier failure: %w", s.broken)}
	}
	return nil
}

// appendData writes and flushes value blocks to the data file.
func (s *Store) appendData(blocks ...[]float64) error {
	var buf [8]byte
	for _, block := range blocks {
		for _, v := range block {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			if _, err := s.binW.Write(buf[:]); err != nil {
				s.broken = err
				return &StorageError{Path: s.path, Op: "write data", Err: err}
			}
		}
	}
	if err := s.binW.Flush(); err != nil {
		s.broken = err
		return &StorageError{Path: s.path, Op: "flush data", Err: err}
	}
	return nil
}

func (s *Store) writeIndex(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := s.cueW.Write(data); err != nil {
		return err
	}
	return s.cueW.WriteByte('\n')
}

// HasSeed reports whether a read store contains a seed record.
func (s *Store) HasSeed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed != nil
}

// Seed returns the stored random seed. The last seed written wins.
func (s *Store) Seed() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeRead {
		return 0, &StorageError{Path: s.path, Op: "read seed", Err: errors.New("store opened for writing")}
	}
	if s.seed == nil {
		return 0, &StorageError{Path: s.path, Op: "read seed", Err: errors.New("history has no seed record")}
	}
	vals, err := s.readBlock(*s.seed)
	if err != nil {
		return 0, err
	}
	return int64(math.Float64bits(vals[0])), nil
}

// Record reads evaluation record i restricted to fields. No fields means all.
func (s *Store) Record(i int, fields ...Field) (EvaluationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeRead {
		return EvaluationRecord{}, &StorageError{Path: s.path, Op: "read", Err: errors.New("store opened for writing")}
	}
	if s.closed {
		return EvaluationRecord{}, &StorageError{Path: s.path, Op: "read", Err: os.ErrClosed}
	}
	if i < 0 || i >= len(s.records) {
		return EvaluationRecord{}, ErrEndOfHistory
	}
	if len(fields) == 0 {
		fields = AllFields
	}

	var rec EvaluationRecord
	for _, f := range fields {
		e, ok := fieldEntry(s.records[i], f)
		if !ok {
			return EvaluationRecord{}, &StorageError{Path: s.path, Op: "read", Err: fmt.Errorf("unknown record field %q", f)}
		}
		vals, err := s.readBlock(e)
		if err != nil {
			return EvaluationRecord{}, err
		}
		switch f {
		case FieldX:
			rec.X = vals
		case FieldObj:
			rec.Obj = vals
		case FieldCon:
			rec.Con = vals
		case FieldFail:
			rec.Fail = len(vals) == 1 && vals[0] != 0
		}
	}
	return rec, nil
}

// Records reads every evaluation record.
func (s *Store) Records() ([]EvaluationRecord, error) {
	n := s.Len()
	out := make([]EvaluationRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := s.Record(i)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Cursor returns a sequential reader positioned at the first record.
func (s *Store) Cursor() *Cursor {
	return &Cursor{store: s}
}

func fieldEntry(entries []entry, f Field) (entry, bool) {
	for _, e := range entries {
		if e.Field == f {
			return e, true
		}
	}
	return entry{}, false
}

func (s *Store) readBlock(e entry) ([]float64, error) {
	if e.Count == 0 {
		return nil, nil
	}
	buf := make([]byte, 8*e.Count)
	if _, err := s.bin.ReadAt(buf, e.Offset*8); err != nil {
		return nil, &StorageError{Path: s.path, Op: "read data", Err: err}
	}
	vals := make([]float64, e.Count)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vals, nil
}

// Close flushes and releases both files. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.mode == ModeWrite {
		if err := s.binW.Flush(); err != nil {
			errs = append(errs, err)
		}
		if err := s.cueW.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.closeFiles())
	if err := errors.Join(errs...); err != nil {
		return &StorageError{Path: s.path, Op: "close", Err: err}
	}

	slog.Debug("History closed", "path", s.path, "mode", s.mode.String())
	return nil
}

func (s *Store) closeFiles() error {
	var errs []error
	if s.bin != nil {
		errs = append(errs, s.bin.Close())
	}
	if s.cue != nil {
		errs = append(errs, s.cue.Close())
	}
	return errors.Join(errs...)
}
