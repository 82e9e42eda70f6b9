// Package storage uploads attempt audio and returns a public URL for it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Storage modes.
const (
	ModeS3    = "s3"
	ModeLocal = "local"
)

// Uploader stores an object and returns the URL it is served from.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// Options selects and configures an Uploader.
type Options struct {
	Mode     string
	LocalDir string
	LocalURL string // URL prefix under which LocalDir is served
	S3       S3Config
}

// New returns the Uploader selected by opts.Mode.
func New(opts Options) (Uploader, error) {
	switch opts.Mode {
	case ModeLocal, "":
		return NewLocalUploader(opts.LocalDir, opts.LocalURL)
	case ModeS3:
		return NewS3Uploader(&opts.S3)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", opts.Mode)
	}
}

// ErrInvalidID is returned for ids that cannot be used as an object name.
var ErrInvalidID = errors.New("invalid object id")

// MaxIDLength is the longest accepted object id.
const MaxIDLength = 128

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidID reports whether id is safe as a single path segment and URL
// component: letters, digits, '-' and '_', starting with a letter or digit.
func ValidID(id string) bool {
	return len(id) <= MaxIDLength && idPattern.MatchString(id)
}

// ObjectPath returns the object key for an attempt: {namespace}/{id}{ext}.
// ext may be given with or without the leading dot.
func ObjectPath(namespace, id, ext string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	namespace = strings.Trim(namespace, "/")
	if namespace == "" {
		return id + ext, nil
	}
	return namespace + "/" + id + ext, nil
}

// ContentType returns declared without parameters, or the type detected
// from data when declared is empty or generic.
func ContentType(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	return mimetype.Detect(data).String()
}

// Extension returns the file extension for contentType, including the dot.
func Extension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	if m := mimetype.Lookup(mt); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".bin"
}
