package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrInvalidPath is returned by ValidatePath.
var ErrInvalidPath = errors.New("invalid path")

// IsConfigured reports whether all provided values are non-empty.
func IsConfigured(values ...string) bool {
	return !slices.Contains(values, "")
}

// ValidatePath rejects empty paths, NUL bytes and any ".." segment in a
// configured file or directory path. field names the setting in the error.
func ValidatePath(field, path string) error {
	switch {
	case path == "":
		return fmt.Errorf("%s: %w: is required", field, ErrInvalidPath)
	case strings.ContainsRune(path, 0):
		return fmt.Errorf("%s: %w: contains a NUL byte", field, ErrInvalidPath)
	}
	segments := strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' })
	if slices.Contains(segments, "..") {
		return fmt.Errorf("%s: %w: must not contain '..'", field, ErrInvalidPath)
	}
	return nil
}

// CheckPathWritable creates dir if needed and verifies that a file can be
// written to and removed from it.
func CheckPathWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError("create directory", err)
	}

	f, err := os.CreateTemp(dir, ".speaktrainer-write-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	_, werr := f.Write([]byte("RIFF"))
	cerr := f.Close()
	rerr := os.Remove(name)
	if err := errors.Join(werr, cerr, rerr); err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	return nil
}
