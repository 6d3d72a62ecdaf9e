package history

import (
	"errors"
	"time"
)

// Field names a block of values stored for an evaluation.
type Field string

const (
	FieldX    Field = "x"
	FieldObj  Field = "obj"
	FieldCon  Field = "con"
	FieldFail Field = "fail"
	FieldSeed Field = "seed"
)

// recordFields is the order in which an evaluation record is stored.
var recordFields = []Field{FieldX, FieldObj, FieldCon, FieldFail}

// AllFields selects every field of an evaluation record.
var AllFields = []Field{FieldX, FieldObj, FieldCon, FieldFail}

// EvaluationRecord is one solver-requested evaluation. Records are immutable
// once written.
type EvaluationRecord struct {
	X    []float64 `json:"x,omitempty"`
	Obj  []float64 `json:"obj,omitempty"`
	Con  []float64 `json:"con,omitempty"`
	Fail bool      `json:"fail"`
}

// Mode selects how a store is opened.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

const (
	formatName    = "gomidaco-history"
	formatVersion = 1
)

// Header is the first line of the index file.
type Header struct {
	Format  string    `json:"format"`
	Version int       `json:"version"`
	Problem string    `json:"problem"`
	RunID   string    `json:"runId"`
	Created time.Time `json:"created"`
}

const (
	kindEval = "eval"
	kindSeed = "seed"
)

// entry locates one field block in the data file. Offset and Count are in
// float64 units.
type entry struct {
	Kind   string `json:"kind"`
	Record int    `json:"record,omitempty"`
	Field  Field  `json:"field"`
	Offset int64  `json:"offset"`
	Count  int    `json:"count"`
}

// ErrEndOfHistory is returned by Cursor.Next once every record was consumed.
var ErrEndOfHistory = errors.New("end of history")

// ErrStorage matches any StorageError with errors.Is.
var ErrStorage = &StorageError{}

// StorageError reports a missing, unreadable or inconsistent history file
// pair. Runs abort on it.
type StorageError struct {
	Path string
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	msg := "history storage error"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	_, ok := target.(*StorageError)
	return ok
}
