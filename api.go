package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/audio"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/eventlog"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/ledger"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/pipeline"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/server"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/storage"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// listDevices is replaced in tests.
var listDevices = audio.ListDevices

// API response helpers

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, step string) {
	writeJSON(w, status, types.ErrorResponse{Error: message, Step: step})
}

// handleSubmitAttempt handles POST /api/attempts.
func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error(), "")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Debug("failed to remove multipart files", "error", err)
		}
	}()

	req, err := parseSubmitRequest(r.MultipartForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if verr := server.Validate(req); verr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "fields": verr.Errors})
		return
	}

	data, contentType, err := readAudio(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	sess := server.SessionFromRequest(r)
	if sess.UserID == "" {
		sess.UserID = req.UserID
	}

	out, err := s.attempts.Submit(r.Context(), sess, pipeline.Submission{
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
		Audio:           data,
		ContentType:     contentType,
		DurationSec:     req.DurationSec,
		LatencyMs:       req.LatencyMs,
	})
	if err != nil {
		writeAttemptError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, server.NewAttemptResponse(out))
}

// writeAttemptError maps a submission error to its HTTP status.
func writeAttemptError(w http.ResponseWriter, err error) {
	var step string
	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		step = stepErr.Step
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrInvalidID):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUpload), errors.Is(err, pipeline.ErrTranscription):
		status = http.StatusBadGateway
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error(), step)
}

// parseSubmitRequest collects the form fields of an attempt submission.
func parseSubmitRequest(form *multipart.Form) (*server.SubmitRequest, error) {
	value := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	req := &server.SubmitRequest{
		AttemptID:       value("attempt_id"),
		UserID:          value("user_id"),
		ItemID:          value("item_id"),
		Category:        value("category"),
		TargetText:      value("target_en"),
		Keyword:         value("keyword"),
		MeasurementType: value("measurement_type"),
		Language:        value("language"),
	}

	var err error
	if req.ExpectedPhrases, err = formList(form.Value["expected_phrases"]); err != nil {
		return nil, errors.New("expected_phrases: " + err.Error())
	}
	if req.Variations, err = formList(form.Value["variations"]); err != nil {
		return nil, errors.New("variations: " + err.Error())
	}
	if req.MaxLatencyMs, err = formInt(value("max_latency_ms")); err != nil {
		return nil, errors.New("max_latency_ms: " + err.Error())
	}
	if req.LatencyMs, err = formInt(value("time_to_first_response_ms")); err != nil {
		return nil, errors.New("time_to_first_response_ms: " + err.Error())
	}
	if v := value("duration_sec"); v != "" {
		if req.DurationSec, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, errors.New("duration_sec: must be a number")
		}
	}
	return req, nil
}

// formList accepts a repeated field or a single JSON array.
func formList(values []string) ([]string, error) {
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var list []string
		if err := json.Unmarshal([]byte(values[0]), &list); err != nil {
			return nil, errors.New("invalid JSON array")
		}
		values = list
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func formInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New("must be a number")
	}
	return int64(n), nil
}

// readAudio returns the uploaded audio file and its declared content type.
func readAudio(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, "", errors.New("audio file is required")
	}
	defer file.Close() //nolint:errcheck // Read-only multipart file

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.New("failed to read audio file")
	}
	if len(data) == 0 {
		return nil, "", errors.New("audio file is empty")
	}
	return data, header.Header.Get("Content-Type"), nil
}

// handleGetAttempt handles GET /api/attempts/{id}.
func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	rec, err := s.attempts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAttemptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleEvents handles GET /api/events?limit=N&offset=N&filter=attempt|recorder.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = min(v, eventlog.MaxReadLimit)
	}
	offset := 0
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}

	filter := eventlog.TypeFilter(q.Get("filter"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterAttempt, eventlog.FilterRecorder:
	default:
		writeError(w, http.StatusBadRequest, "filter must be attempt or recorder", "")
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.eventLog, limit, offset, filter)
	if err != nil {
		slog.Error("failed to read event log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read event log", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "has_more": hasMore})
}

// handleDevices handles GET /api/devices.
func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": listDevices(),
		"input":   s.config.Snapshot().AudioInput,
	})
}
