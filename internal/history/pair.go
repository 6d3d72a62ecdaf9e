package history

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

// TempPath is the name a run writes to while its own history is the
// hot-start source.
func TempPath(path string) string { return path + "_tmp" }

// Exists reports whether both files of the pair are present.
func Exists(path string) bool {
	if _, err := os.Stat(CuePath(path)); err != nil {
		return false
	}
	if _, err := os.Stat(DataPath(path)); err != nil {
		return false
	}
	return true
}

// SamePair reports whether a and b name the same history pair, however they
// are spelled. Existing pairs are also compared by file identity, which
// catches links.
func SamePair(a, b string) bool {
	if canonical(a) == canonical(b) {
		return true
	}
	ia, err := os.Stat(CuePath(a))
	if err != nil {
		return false
	}
	ib, err := os.Stat(CuePath(b))
	if err != nil {
		return false
	}
	return os.SameFile(ia, ib)
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Remove deletes both files of the pair. Missing files are not an error.
func Remove(path string) error {
	var errs []error
	for _, p := range []string{CuePath(path), DataPath(path)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &StorageError{Path: path, Op: "remove", Err: err}
	}
	return nil
}

// Rename moves both files of the pair.
func Rename(from, to string) error {
	if err := os.Rename(CuePath(from), CuePath(to)); err != nil {
		return &StorageError{Path: from, Op: "rename", Err: err}
	}
	if err := os.Rename(DataPath(from), DataPath(to)); err != nil {
		return &StorageError{Path: from, Op: "rename", Err: err}
	}
	return nil
}

// Swap replaces the pair at original with the pair at temp: the original
// pair is deleted, then temp is renamed into place.
//
// This is not crash-atomic across the pair. A crash after the delete and
// before both renames complete leaves no usable history at original.
func Swap(original, temp string) error {
	if !Exists(temp) {
		return &StorageError{Path: temp, Op: "swap", Err: os.ErrNotExist}
	}
	if err := Remove(original); err != nil {
		return err
	}
	if err := Rename(temp, original); err != nil {
		return err
	}
	slog.Debug("History swapped", "path", original, "from", temp)
	return nil
}
