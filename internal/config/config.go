// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort              = 8080
	DefaultLogLevel             = "info"
	DefaultMinVolume            = 5
	DefaultSilenceDurationMs    = 1500
	DefaultPollIntervalMs       = 50
	DefaultMaxDurationMs        = 60000
	DefaultLanguage             = "en"
	DefaultMaxLatencyMs         = 1500
	DefaultStorageMode          = "local"
	DefaultStorageNamespace     = "attempts"
	DefaultLocalPath            = "media"
	DefaultTranscriptionTimeout = 60
	DefaultProvider             = "whisper"
	DefaultWhisperURL           = "http://127.0.0.1:8081"
	DefaultLedgerDriver         = "sqlite"
	DefaultLedgerDSN            = "speaktrainer.db"
)

var (
	logLevels     = []string{"debug", "info", "warn", "error"}
	storageModes  = []string{"local", "s3"}
	providers     = []string{"openai", "whisper"}
	ledgerDrivers = []string{"sqlite", "postgres", "sheet", "memory"}
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" yaml:"port"`               // HTTP server port
	APIKey     string `json:"api_key" yaml:"api_key"`         // X-API-Key required on /api and /ws (empty = open)
	LogLevel   string `json:"log_level" yaml:"log_level"`     // debug, info, warn or error
}

// AudioConfig holds microphone capture and voice activity settings.
type AudioConfig struct {
	Input             string `json:"input" yaml:"input"`                             // Audio input device identifier
	MinVolume         int    `json:"min_volume" yaml:"min_volume"`                   // Energy gate threshold (0-255)
	SilenceDurationMs int64  `json:"silence_duration_ms" yaml:"silence_duration_ms"` // Silence after speech before auto-stop
	AutoStop          *bool  `json:"auto_stop,omitempty" yaml:"auto_stop,omitempty"` // Stop on silence (default true)
	PollIntervalMs    int64  `json:"poll_interval_ms" yaml:"poll_interval_ms"`       // Energy monitoring interval
	MaxDurationMs     int64  `json:"max_duration_ms" yaml:"max_duration_ms"`         // Recording cap, negative disables
	Language          string `json:"language" yaml:"language"`                       // Default transcription language hint
}

// EvaluationConfig holds scoring settings.
type EvaluationConfig struct {
	DefaultMaxLatencyMs int64 `json:"default_max_latency_ms" yaml:"default_max_latency_ms"`
}

// StorageConfig holds recording upload settings.
type StorageConfig struct {
	Mode              string `json:"mode" yaml:"mode"`                       // local or s3
	Namespace         string `json:"namespace" yaml:"namespace"`             // Object path prefix
	LocalPath         string `json:"local_path" yaml:"local_path"`           // Directory for local mode
	PublicBaseURL     string `json:"public_base_url" yaml:"public_base_url"` // URL prefix of stored objects
	S3Endpoint        string `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3Region          string `json:"s3_region" yaml:"s3_region"`
	S3Bucket          string `json:"s3_bucket" yaml:"s3_bucket"`
	S3AccessKeyID     string `json:"s3_access_key_id" yaml:"s3_access_key_id"`
	S3SecretAccessKey string `json:"s3_secret_access_key" yaml:"s3_secret_access_key"`
}

// TranscriptionConfig holds speech-to-text settings.
type TranscriptionConfig struct {
	Provider       string `json:"provider" yaml:"provider"` // openai or whisper
	APIKey         string `json:"api_key" yaml:"api_key"`
	Model          string `json:"model" yaml:"model"`
	BaseURL        string `json:"base_url" yaml:"base_url"` // API base (openai) or server URL (whisper)
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// GraphConfig holds Microsoft Graph workbook settings for the sheet ledger.
type GraphConfig struct {
	TenantID     string `json:"tenant_id" yaml:"tenant_id"`         // Azure AD tenant ID
	ClientID     string `json:"client_id" yaml:"client_id"`         // App registration client ID
	ClientSecret string `json:"client_secret" yaml:"client_secret"` // App registration client secret
	DriveID      string `json:"drive_id" yaml:"drive_id"`
	ItemID       string `json:"item_id" yaml:"item_id"` // Workbook drive item ID
	Table        string `json:"table" yaml:"table"`
}

// LedgerConfig holds attempt store settings.
type LedgerConfig struct {
	Driver string      `json:"driver" yaml:"driver"` // sqlite, postgres, sheet or memory
	DSN    string      `json:"dsn" yaml:"dsn"`       // SQLite path or PostgreSQL connection string
	Graph  GraphConfig `json:"graph" yaml:"graph"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" yaml:"url"` // Webhook URL for attempt outcomes
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
}

// EventLogConfig holds event log settings.
type EventLogConfig struct {
	Path string `json:"path" yaml:"path"` // JSON lines file (empty = platform default)
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system" yaml:"system"`
	Audio         AudioConfig         `json:"audio" yaml:"audio"`
	Evaluation    EvaluationConfig    `json:"evaluation" yaml:"evaluation"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Transcription TranscriptionConfig `json:"transcription" yaml:"transcription"`
	Ledger        LedgerConfig        `json:"ledger" yaml:"ledger"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	EventLog      EventLogConfig      `json:"eventlog" yaml:"eventlog"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Path returns the file the configuration is loaded from.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		c.applyBackendDefaults()
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if c.isYAML() {
		err = yaml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()
	c.applyBackendDefaults()

	return c.validate()
}

func (c *Config) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(c.filePath))
	return ext == ".yaml" || ext == ".yml"
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if c.System.Port < 1 || c.System.Port > 65535 {
		return fmt.Errorf("invalid system.port %d: must be 1-65535", c.System.Port)
	}
	if !slices.Contains(logLevels, c.System.LogLevel) {
		return fmt.Errorf("invalid system.log_level %q: must be one of %s", c.System.LogLevel, strings.Join(logLevels, ", "))
	}
	if c.Audio.MinVolume < 0 || c.Audio.MinVolume > 255 {
		return fmt.Errorf("invalid audio.min_volume %d: must be 0-255", c.Audio.MinVolume)
	}
	if c.Audio.SilenceDurationMs < 0 || c.Audio.PollIntervalMs < 0 {
		return fmt.Errorf("audio durations must not be negative")
	}
	if !slices.Contains(storageModes, c.Storage.Mode) {
		return fmt.Errorf("invalid storage.mode %q: must be one of %s", c.Storage.Mode, strings.Join(storageModes, ", "))
	}
	if c.Storage.Mode == "local" {
		if err := util.ValidatePath("storage.local_path", c.Storage.LocalPath); err != nil {
			return err
		}
	}
	if c.Storage.Mode == "s3" && c.Storage.S3Bucket == "" {
		return fmt.Errorf("storage.s3_bucket is required for mode s3")
	}
	if !slices.Contains(providers, c.Transcription.Provider) {
		return fmt.Errorf("invalid transcription.provider %q: must be one of %s", c.Transcription.Provider, strings.Join(providers, ", "))
	}
	if c.Transcription.Provider == "openai" && c.Transcription.APIKey == "" {
		return fmt.Errorf("transcription.api_key is required for provider openai")
	}
	if !slices.Contains(ledgerDrivers, c.Ledger.Driver) {
		return fmt.Errorf("invalid ledger.driver %q: must be one of %s", c.Ledger.Driver, strings.Join(ledgerDrivers, ", "))
	}
	if c.Ledger.Driver == "postgres" && c.Ledger.DSN == "" {
		return fmt.Errorf("ledger.dsn is required for driver postgres")
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// System defaults
	c.System.Port = cmp.Or(c.System.Port, DefaultWebPort)
	c.System.LogLevel = strings.ToLower(cmp.Or(c.System.LogLevel, DefaultLogLevel))
	// Audio defaults
	c.Audio.MinVolume = cmp.Or(c.Audio.MinVolume, DefaultMinVolume)
	c.Audio.SilenceDurationMs = cmp.Or(c.Audio.SilenceDurationMs, DefaultSilenceDurationMs)
	c.Audio.PollIntervalMs = cmp.Or(c.Audio.PollIntervalMs, DefaultPollIntervalMs)
	c.Audio.MaxDurationMs = cmp.Or(c.Audio.MaxDurationMs, DefaultMaxDurationMs)
	c.Audio.Language = cmp.Or(c.Audio.Language, DefaultLanguage)
	if c.Audio.AutoStop == nil {
		autoStop := true
		c.Audio.AutoStop = &autoStop
	}
	// Evaluation defaults
	c.Evaluation.DefaultMaxLatencyMs = cmp.Or(c.Evaluation.DefaultMaxLatencyMs, DefaultMaxLatencyMs)
	// Storage defaults
	c.Storage.Mode = cmp.Or(c.Storage.Mode, DefaultStorageMode)
	c.Storage.Namespace = cmp.Or(c.Storage.Namespace, DefaultStorageNamespace)
	c.Storage.LocalPath = cmp.Or(c.Storage.LocalPath, DefaultLocalPath)
	// Transcription defaults
	c.Transcription.Provider = cmp.Or(c.Transcription.Provider, DefaultProvider)
	c.Transcription.TimeoutSeconds = cmp.Or(c.Transcription.TimeoutSeconds, DefaultTranscriptionTimeout)
	// Ledger defaults
	c.Ledger.Driver = cmp.Or(c.Ledger.Driver, DefaultLedgerDriver)
}

// applyBackendDefaults fills values that only apply to the default
// transcription provider and ledger driver. It must run after the file is
// decoded so a file that selects another backend does not inherit them.
func (c *Config) applyBackendDefaults() {
	if c.Transcription.Provider == DefaultProvider {
		c.Transcription.BaseURL = cmp.Or(c.Transcription.BaseURL, DefaultWhisperURL)
	}
	if c.Ledger.Driver == DefaultLedgerDriver {
		c.Ledger.DSN = cmp.Or(c.Ledger.DSN, DefaultLedgerDSN)
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	var (
		data []byte
		err  error
	)
	if c.isYAML() {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort    int
	APIKey     string
	LogLevel   string
	FFmpegPath string

	// Audio
	AudioInput      string
	MinVolume       uint8
	SilenceDuration time.Duration
	AutoStop        bool
	PollInterval    time.Duration
	MaxDuration     time.Duration
	Language        string

	// Evaluation
	MaxLatency time.Duration

	// Storage
	StorageMode      string
	StorageNamespace string
	LocalPath        string
	PublicBaseURL    string
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKeyID    string
	S3SecretKey      string

	// Transcription
	TranscriptionProvider string
	TranscriptionAPIKey   string
	TranscriptionModel    string
	TranscriptionBaseURL  string
	TranscriptionTimeout  time.Duration

	// Ledger
	LedgerDriver string
	LedgerDSN    string
	Graph        GraphConfig

	// Notifications
	WebhookURL   string
	EventLogPath string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	maxDuration := time.Duration(c.Audio.MaxDurationMs) * time.Millisecond
	if maxDuration < 0 {
		maxDuration = 0
	}

	return Snapshot{
		// System
		WebPort:    c.System.Port,
		APIKey:     c.System.APIKey,
		LogLevel:   c.System.LogLevel,
		FFmpegPath: c.System.FFmpegPath,

		// Audio
		AudioInput:      c.Audio.Input,
		MinVolume:       uint8(c.Audio.MinVolume),
		SilenceDuration: time.Duration(c.Audio.SilenceDurationMs) * time.Millisecond,
		AutoStop:        c.Audio.AutoStop == nil || *c.Audio.AutoStop,
		PollInterval:    time.Duration(c.Audio.PollIntervalMs) * time.Millisecond,
		MaxDuration:     maxDuration,
		Language:        c.Audio.Language,

		// Evaluation
		MaxLatency: time.Duration(c.Evaluation.DefaultMaxLatencyMs) * time.Millisecond,

		// Storage
		StorageMode:      c.Storage.Mode,
		StorageNamespace: c.Storage.Namespace,
		LocalPath:        c.Storage.LocalPath,
		PublicBaseURL:    c.Storage.PublicBaseURL,
		S3Endpoint:       c.Storage.S3Endpoint,
		S3Region:         c.Storage.S3Region,
		S3Bucket:         c.Storage.S3Bucket,
		S3AccessKeyID:    c.Storage.S3AccessKeyID,
		S3SecretKey:      c.Storage.S3SecretAccessKey,

		// Transcription
		TranscriptionProvider: c.Transcription.Provider,
		TranscriptionAPIKey:   c.Transcription.APIKey,
		TranscriptionModel:    c.Transcription.Model,
		TranscriptionBaseURL:  c.Transcription.BaseURL,
		TranscriptionTimeout:  time.Duration(c.Transcription.TimeoutSeconds) * time.Second,

		// Ledger
		LedgerDriver: c.Ledger.Driver,
		LedgerDSN:    c.Ledger.DSN,
		Graph:        c.Ledger.Graph,

		// Notifications
		WebhookURL:   c.Notifications.Webhook.URL,
		EventLogPath: c.EventLog.Path,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasAPIKey reports whether the API key guard is enabled.
func (s *Snapshot) HasAPIKey() bool {
	return s.APIKey != ""
}
