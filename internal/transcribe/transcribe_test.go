package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWhisperTranscribe(t *testing.T) {
	var gotLanguage, gotFile string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" || r.Method != http.MethodPost {
			http.Error(w, "unexpected", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotFile = hdr.Filename
		gotAudio, _ = io.ReadAll(f)
		_, _ = io.WriteString(w, `{"text":"  I am ready to go \n"}`)
	}))
	defer srv.Close()

	w, err := NewWhisper(srv.URL+"/", "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	text, err := w.Transcribe(context.Background(), []byte("RIFFdata"), "audio/webm;codecs=opus", "en")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "I am ready to go" {
		t.Errorf("Transcribe() = %q", text)
	}
	if gotLanguage != "en" || gotFile != "audio.webm" || string(gotAudio) != "RIFFdata" {
		t.Errorf("request: language=%q file=%q audio=%q", gotLanguage, gotFile, gotAudio)
	}
}

func TestWhisperErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		wantIn string
	}{
		{"http error", http.StatusInternalServerError, "model not loaded", "HTTP 500"},
		{"error field", http.StatusOK, `{"error":"failed to decode audio"}`, "failed to decode audio"},
		{"bad json", http.StatusOK, `not json`, "parse JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			w, _ := NewWhisper(srv.URL, "", time.Second)
			_, err := w.Transcribe(context.Background(), []byte("x"), "audio/wav", "")
			if err == nil || !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("Transcribe() error = %v, want it to contain %q", err, tt.wantIn)
			}
		})
	}
}

func TestOpenAITranscribe(t *testing.T) {
	var gotModel, gotAuth, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotAuth = r.Header.Get("Authorization")
		if _, hdr, err := r.FormFile("file"); err == nil {
			gotFile = hdr.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"good morning"}`)
	}))
	defer srv.Close()

	o, err := NewOpenAI("sk-test", "", srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	text, err := o.Transcribe(context.Background(), []byte("RIFF"), "audio/wav", "en")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "good morning" {
		t.Errorf("Transcribe() = %q", text)
	}
	if gotModel != DefaultOpenAIModel || gotAuth != "Bearer sk-test" || gotFile != "audio.wav" {
		t.Errorf("request: model=%q auth=%q file=%q", gotModel, gotAuth, gotFile)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Options{Provider: "vosk"}); err == nil {
		t.Error("New() expected error for unknown provider")
	}
	if _, err := New(Options{Provider: ProviderOpenAI}); err == nil {
		t.Error("New() expected error without api key")
	}
	if _, err := New(Options{Provider: ProviderWhisper, BaseURL: "http://localhost:8081"}); err != nil {
		t.Errorf("New(whisper) error = %v", err)
	}
}

func TestFilename(t *testing.T) {
	tests := map[string]string{
		"audio/wav":              "audio.wav",
		"audio/webm;codecs=opus": "audio.webm",
		"audio/ogg":              "audio.ogg",
		"audio/mpeg":             "audio.mp3",
		"audio/mp4":              "audio.m4a",
		"":                       "audio.wav",
	}
	for ct, want := range tests {
		if got := filename(ct); got != want {
			t.Errorf("filename(%q) = %q, want %q", ct, got, want)
		}
	}
}
