package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/audio"
)

func TestObjectPath(t *testing.T) {
	tests := []struct {
		namespace, id, ext, want string
	}{
		{"attempts", "A1", ".wav", "attempts/A1.wav"},
		{"attempts/", "A1", "webm", "attempts/A1.webm"},
		{"", "A1", ".wav", "A1.wav"},
		{"/a/b/", "X", "", "a/b/X"},
		{"attempts", "3f2b6c1e-9a4d-4e1f-8c2a-1b2c3d4e5f60", ".wav", "attempts/3f2b6c1e-9a4d-4e1f-8c2a-1b2c3d4e5f60.wav"},
	}
	for _, tt := range tests {
		got, err := ObjectPath(tt.namespace, tt.id, tt.ext)
		if err != nil || got != tt.want {
			t.Errorf("ObjectPath(%q, %q, %q) = %q, %v, want %q", tt.namespace, tt.id, tt.ext, got, err, tt.want)
		}
	}
}

func TestObjectPathRejectsUnsafeIDs(t *testing.T) {
	ids := []string{
		"",
		"../other/x",
		"a/b",
		"a?b#c",
		"..",
		".hidden",
		"-leading",
		"with space",
		`back\slash`,
		"é",
		strings.Repeat("a", MaxIDLength+1),
	}
	for _, id := range ids {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true", id)
		}
		if got, err := ObjectPath("attempts", id, ".wav"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("ObjectPath(%q) = %q, %v, want ErrInvalidID", id, got, err)
		}
	}
}

func TestContentTypeAndExtension(t *testing.T) {
	wav := audio.EncodeWAV(make([]byte, 64), 16000, 1)

	if got := ContentType("", wav); got != "audio/wav" {
		t.Errorf("ContentType(sniffed wav) = %q, want audio/wav", got)
	}
	if got := ContentType("application/octet-stream", wav); got != "audio/wav" {
		t.Errorf("ContentType(octet-stream wav) = %q, want audio/wav", got)
	}
	if got := ContentType("audio/webm;codecs=opus", nil); got != "audio/webm" {
		t.Errorf("ContentType(webm) = %q, want audio/webm", got)
	}

	tests := map[string]string{
		"audio/wav":              ".wav",
		"audio/webm;codecs=opus": ".webm",
		"not a type":             ".bin",
	}
	for ct, want := range tests {
		if got := Extension(ct); got != want {
			t.Errorf("Extension(%q) = %q, want %q", ct, got, want)
		}
	}
}

func TestLocalUploader(t *testing.T) {
	dir := t.TempDir()
	u, err := NewLocalUploader(dir, "http://localhost:8080/media/")
	if err != nil {
		t.Fatalf("NewLocalUploader() error = %v", err)
	}

	url, err := u.Upload(context.Background(), "attempts/A1.wav", []byte("RIFF"), "audio/wav")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "http://localhost:8080/media/attempts/A1.wav" {
		t.Errorf("Upload() url = %q", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, "attempts", "A1.wav"))
	if err != nil || string(data) != "RIFF" {
		t.Errorf("stored file = %q, %v", data, err)
	}

	for _, bad := range []string{"../escape.wav", "/abs.wav", ""} {
		if _, err := u.Upload(context.Background(), bad, nil, ""); err == nil {
			t.Errorf("Upload(%q) expected error", bad)
		}
	}
}

type fakeObjectAPI struct {
	put     *s3.PutObjectInput
	body    []byte
	putErr  error
	deleted string
}

func (f *fakeObjectAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.putErr
}

func (f *fakeObjectAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = aws.ToString(in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Uploader(t *testing.T) {
	api := &fakeObjectAPI{}
	u := &S3Uploader{client: api, bucket: "clips", baseURL: "https://cdn.example.org"}

	url, err := u.Upload(context.Background(), "attempts/A 1.wav", []byte("data"), "audio/wav")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "https://cdn.example.org/attempts/A%201.wav" {
		t.Errorf("Upload() url = %q", url)
	}
	if aws.ToString(api.put.Bucket) != "clips" || aws.ToString(api.put.ContentType) != "audio/wav" || string(api.body) != "data" {
		t.Errorf("PutObject input = %+v body %q", api.put, api.body)
	}

	api.putErr = errors.New("access denied")
	if _, err := u.Upload(context.Background(), "k", nil, "audio/wav"); err == nil {
		t.Error("Upload() expected error")
	}

	api.putErr = nil
	if err := u.Check(context.Background()); err != nil {
		t.Errorf("Check() error = %v", err)
	}
	if api.deleted == "" {
		t.Error("Check() did not delete the probe object")
	}
}

func TestPublicBaseURL(t *testing.T) {
	tests := []struct {
		cfg  S3Config
		want string
	}{
		{S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example.org/"}, "https://cdn.example.org"},
		{S3Config{Bucket: "b", Endpoint: "https://r2.example.com"}, "https://r2.example.com/b"},
		{S3Config{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com"},
	}
	for _, tt := range tests {
		if got := publicBaseURL(&tt.cfg); got != tt.want {
			t.Errorf("publicBaseURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestNewUnknownMode(t *testing.T) {
	if _, err := New(Options{Mode: "ftp"}); err == nil {
		t.Error("New() expected error for unknown mode")
	}
	if _, err := New(Options{Mode: ModeS3}); err == nil {
		t.Error("New() expected error for unconfigured S3")
	}
}
