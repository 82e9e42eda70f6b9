package util

import "log/slog"

// LogNotifyResult executes a notification function and logs the result.
func LogNotifyResult(fn func() error, notifyType, attemptID string) {
	if err := fn(); err != nil {
		slog.Error("notification failed", "type", notifyType, "attempt_id", attemptID, "error", err)
		return
	}
	slog.Debug("notification sent", "type", notifyType, "attempt_id", attemptID)
}
