// Package server provides request validation, WebSocket commands and the
// microphone controller behind the trainer's HTTP interface.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/storage"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// validate is the shared validator instance for request validation.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})

	// Attempt ids become object names in storage and in public URLs.
	_ = validate.RegisterValidation("attemptid", func(fl validator.FieldLevel) bool {
		return storage.ValidID(fl.Field().String())
	})
}

// CommandResult is the reply to a WebSocket command.
type CommandResult struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// DecodeAndValidate decodes the command payload into data and validates it.
// A missing payload decodes as an empty object. It returns false when an
// error reply was already sent.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, data); err != nil {
			SendError(send, cmd, fmt.Errorf("invalid JSON: %w", err))
			return false
		}
	}

	if err := validate.Struct(data); err != nil {
		reply(send, cmd, CommandResult{Error: ToValidationError(err)})
		return false
	}
	return true
}

// HandleCommand decodes and validates a command, runs process and replies
// with success or the returned error.
func HandleCommand[T any](cmd WSCommand, send chan<- any, process func(*T) error) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}

	if err := process(&data); err != nil {
		SendError(send, cmd, err)
		return
	}
	SendSuccess(send, cmd, nil)
}

// HandleActionAsync runs action on its own goroutine and replies with its
// result. Panics are reported as an internal error.
func HandleActionAsync(cmd WSCommand, send chan<- any, action func() (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				SendError(send, cmd, fmt.Errorf("internal error"))
			}
		}()

		result, err := action()
		if err != nil {
			SendError(send, cmd, err)
			return
		}
		SendSuccess(send, cmd, result)
	}()
}

// SendSuccess replies to cmd with data.
func SendSuccess(send chan<- any, cmd WSCommand, data any) {
	reply(send, cmd, CommandResult{Success: true, Data: data})
}

// SendError replies to cmd with err.
func SendError(send chan<- any, cmd WSCommand, err error) {
	reply(send, cmd, CommandResult{Error: err.Error()})
}

func reply(send chan<- any, cmd WSCommand, res CommandResult) {
	res.Type = cmd.Type + "_result"
	res.ID = cmd.ID
	select {
	case send <- res:
	default:
		slog.Warn("failed to send response: channel full or closed", "type", cmd.Type)
	}
}

// Validate checks v against its struct tags.
func Validate(v any) *types.ValidationError {
	if err := validate.Struct(v); err != nil {
		return ToValidationError(err)
	}
	return nil
}

// ToValidationError converts a validator error to a ValidationError.
func ToValidationError(err error) *types.ValidationError {
	verr := types.NewValidationError()

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("", err.Error(), nil)
		return verr
	}
	for _, e := range fieldErrs {
		verr.Add(e.Namespace()[strings.IndexByte(e.Namespace(), '.')+1:], formatValidationMessage(e), e.Value())
	}
	return verr
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	list := e.Kind() == reflect.Slice
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		if list {
			return fmt.Sprintf("must have at most %s entries", e.Param())
		}
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", e.Param())
		}
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(e.Param(), " ", ", "))
	case "attemptid":
		return fmt.Sprintf("must be 1-%d letters, digits, '-' or '_', starting with a letter or digit", storage.MaxIDLength)
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
