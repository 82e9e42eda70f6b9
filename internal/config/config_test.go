package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	snap := cfg.Snapshot()
	if snap.WebPort != DefaultWebPort || snap.MinVolume != DefaultMinVolume {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.SilenceDuration != 1500*time.Millisecond || snap.PollInterval != 50*time.Millisecond {
		t.Errorf("durations = %v / %v", snap.SilenceDuration, snap.PollInterval)
	}
	if !snap.AutoStop {
		t.Error("AutoStop defaults to false")
	}
	if snap.MaxLatency != 1500*time.Millisecond {
		t.Errorf("MaxLatency = %v", snap.MaxLatency)
	}
	if snap.LedgerDriver != "sqlite" || snap.LedgerDSN != DefaultLedgerDSN {
		t.Errorf("ledger = %s %s", snap.LedgerDriver, snap.LedgerDSN)
	}

	// The written default must load again.
	if err := New(path).Load(); err != nil {
		t.Fatalf("reload default: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"system": {"port": 9090, "api_key": "secret", "log_level": "DEBUG"},
		"audio": {"min_volume": 12, "auto_stop": false, "max_duration_ms": -1},
		"storage": {"mode": "s3", "s3_bucket": "media", "public_base_url": "https://cdn.example.com"},
		"transcription": {"provider": "openai", "api_key": "sk-test"},
		"ledger": {"driver": "postgres", "dsn": "postgres://localhost/trainer"},
		"notifications": {"webhook": {"url": "https://hooks.example.com"}}
	}`)

	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	snap := cfg.Snapshot()

	if snap.WebPort != 9090 || !snap.HasAPIKey() || snap.LogLevel != "debug" {
		t.Errorf("system = %d %q %q", snap.WebPort, snap.APIKey, snap.LogLevel)
	}
	if snap.MinVolume != 12 || snap.AutoStop || snap.MaxDuration != 0 {
		t.Errorf("audio = %d %v %v", snap.MinVolume, snap.AutoStop, snap.MaxDuration)
	}
	if snap.StorageMode != "s3" || snap.S3Bucket != "media" {
		t.Errorf("storage = %s %s", snap.StorageMode, snap.S3Bucket)
	}
	if snap.TranscriptionBaseURL != "" {
		t.Errorf("openai base URL = %q, want empty", snap.TranscriptionBaseURL)
	}
	if !snap.HasWebhook() {
		t.Error("webhook not configured")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
system:
  port: 8181
audio:
  silence_duration_ms: 2000
  language: nl
ledger:
  driver: sheet
  graph:
    tenant_id: t
    table: Attempts
eventlog:
  path: /tmp/events.jsonl
`)

	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	snap := cfg.Snapshot()
	if snap.WebPort != 8181 || snap.SilenceDuration != 2*time.Second || snap.Language != "nl" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.LedgerDriver != "sheet" || snap.Graph.Table != "Attempts" || snap.LedgerDSN != "" {
		t.Errorf("ledger = %+v", snap.Graph)
	}
	if snap.EventLogPath != "/tmp/events.jsonl" {
		t.Errorf("EventLogPath = %q", snap.EventLogPath)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad json", `{`, "parse config"},
		{"port", `{"system": {"port": 70000}}`, "system.port"},
		{"log level", `{"system": {"log_level": "verbose"}}`, "system.log_level"},
		{"min volume", `{"audio": {"min_volume": 300}}`, "audio.min_volume"},
		{"storage mode", `{"storage": {"mode": "ftp"}}`, "storage.mode"},
		{"local path", `{"storage": {"local_path": "../media"}}`, "storage.local_path"},
		{"s3 bucket", `{"storage": {"mode": "s3"}}`, "s3_bucket"},
		{"provider", `{"transcription": {"provider": "vosk"}}`, "transcription.provider"},
		{"openai key", `{"transcription": {"provider": "openai"}}`, "api_key"},
		{"driver", `{"ledger": {"driver": "mongo"}}`, "ledger.driver"},
		{"postgres dsn", `{"ledger": {"driver": "postgres"}}`, "ledger.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(writeFile(t, "config.json", tt.content)).Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetAudioInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatal(err)
	}
	if err := cfg.SetAudioInput("hw:1,0"); err != nil {
		t.Fatalf("SetAudioInput() error = %v", err)
	}

	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Snapshot().AudioInput; got != "hw:1,0" {
		t.Errorf("AudioInput = %q, want hw:1,0", got)
	}
}

func TestBackendDefaultsFollowFile(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantBaseURL string
		wantDSN     string
	}{
		{"defaults", `{}`, DefaultWhisperURL, DefaultLedgerDSN},
		{"whisper custom url", `{"transcription": {"base_url": "http://stt:9000"}}`, "http://stt:9000", DefaultLedgerDSN},
		{"openai", `{"transcription": {"provider": "openai", "api_key": "k"}}`, "", DefaultLedgerDSN},
		{"memory ledger", `{"ledger": {"driver": "memory"}}`, DefaultWhisperURL, ""},
		{"sqlite custom dsn", `{"ledger": {"dsn": "/data/trainer.db"}}`, DefaultWhisperURL, "/data/trainer.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New(writeFile(t, "config.json", tt.content))
			if err := cfg.Load(); err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			snap := cfg.Snapshot()
			if snap.TranscriptionBaseURL != tt.wantBaseURL {
				t.Errorf("TranscriptionBaseURL = %q, want %q", snap.TranscriptionBaseURL, tt.wantBaseURL)
			}
			if snap.LedgerDSN != tt.wantDSN {
				t.Errorf("LedgerDSN = %q, want %q", snap.LedgerDSN, tt.wantDSN)
			}
		})
	}
}
