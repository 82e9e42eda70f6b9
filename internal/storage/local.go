package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/util"
)

// LocalUploader writes objects below a directory served over HTTP.
type LocalUploader struct {
	dir     string
	baseURL string
}

// NewLocalUploader creates dir if needed and checks that it is writable.
func NewLocalUploader(dir, baseURL string) (*LocalUploader, error) {
	if dir == "" {
		return nil, fmt.Errorf("local storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, util.WrapError("create storage directory", err)
	}
	if err := util.CheckPathWritable(dir); err != nil {
		return nil, err
	}
	return &LocalUploader{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir returns the root directory.
func (u *LocalUploader) Dir() string { return u.dir }

func (u *LocalUploader) Upload(ctx context.Context, path string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object path %q", path)
	}

	full := filepath.Join(u.dir, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", util.WrapError("create object directory", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", util.WrapError("write object", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", util.WrapError("commit object", err)
	}
	return u.baseURL + "/" + filepath.ToSlash(clean), nil
}
