package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/audio"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/config"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/notify"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/pipeline"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg *config.Config
	mic *Microphone
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, mic *Microphone) *CommandHandler {
	return &CommandHandler{
		cfg: cfg,
		mic: mic,
	}
}

// Handle processes a WebSocket command for the client identified by sess.
// Commands use slash-style format: namespace/action (e.g., "recorder/start", "audio/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, sess pipeline.Session, triggerStatusUpdate func()) {
	// Parse command into namespace and action
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "recorder":
		h.handleRecorder(action, cmd, send, sess)
	case "audio":
		h.handleAudio(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// handleRecorder routes recorder/* commands
func (h *CommandHandler) handleRecorder(action string, cmd WSCommand, send chan<- any, sess pipeline.Session) {
	switch action {
	case "start":
		h.handleStartRecorder(cmd, send, sess)
	case "stop":
		h.handleStopRecorder(cmd, send)
	default:
		slog.Warn("unknown recorder action", "action", action)
	}
}

// handleAudio routes audio/* commands
func (h *CommandHandler) handleAudio(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		HandleCommand(cmd, send, func(req *AudioUpdateRequest) error {
			slog.Info("audio/update: changing input", "input", req.Input)
			return h.cfg.SetAudioInput(req.Input)
		})
	case "get":
		SendSuccess(send, cmd, map[string]any{
			"input":   h.cfg.Snapshot().AudioInput,
			"devices": audio.ListDevices(),
		})
	default:
		slog.Warn("unknown audio action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	if action != "webhook" || subaction != "test" {
		slog.Warn("unknown notifications action", "action", action, "subaction", subaction)
		return
	}
	url := h.cfg.Snapshot().WebhookURL
	HandleActionAsync(cmd, send, func() (any, error) {
		return nil, notify.SendTestWebhook(h.mic.ctx, url)
	})
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}

// handleStartRecorder processes a recorder/start command. The device is
// acquired asynchronously; the attempt id is returned on success.
func (h *CommandHandler) handleStartRecorder(cmd WSCommand, send chan<- any, sess pipeline.Session) {
	var req RecorderStartRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		id, err := h.mic.Start(sess, Prompt{
			AttemptID:       req.AttemptID,
			ItemID:          req.ItemID,
			Category:        types.Category(req.Category),
			TargetText:      req.TargetText,
			ExpectedPhrases: req.ExpectedPhrases,
			Variations:      req.Variations,
			Keyword:         req.Keyword,
			MaxLatencyMs:    req.MaxLatencyMs,
			MeasurementType: types.MeasurementType(req.MeasurementType),
			Language:        req.Language,
		})
		if err != nil {
			slog.Error("recorder/start: failed to start", "error", err)
			return nil, err
		}
		slog.Info("recorder/start: armed", "attempt_id", id, "category", req.Category)
		return map[string]string{"attempt_id": id}, nil
	})
}

// handleStopRecorder processes a recorder/stop command.
func (h *CommandHandler) handleStopRecorder(cmd WSCommand, send chan<- any) {
	if err := h.mic.Stop(); err != nil {
		SendError(send, cmd, err)
		return
	}
	SendSuccess(send, cmd, nil)
}
