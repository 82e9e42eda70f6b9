//go:build !linux && !windows

package audio

import (
	"strconv"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// buildFFmpegCaptureArgs constructs FFmpeg arguments for mono speech capture.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(types.Channels),
		"-ar", strconv.Itoa(types.SampleRate),
		"pipe:1",
	}
}
