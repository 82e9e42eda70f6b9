package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/util"
)

// stopGrace is how long a capture process gets to exit after a graceful signal.
const stopGrace = 500 * time.Millisecond

// permissionMarkers are stderr fragments that indicate refused microphone access.
var permissionMarkers = []string{
	"permission denied",
	"operation not permitted",
	"access is denied",
	"not authorized",
}

// CommandDevice opens the platform capture command as a microphone stream.
type CommandDevice struct {
	Input      string // device identifier, empty for the platform default
	FFmpegPath string // used on platforms that capture through FFmpeg
}

// Open starts the capture process and blocks until the first audio arrives,
// the process exits, or ctx is done.
func (d *CommandDevice) Open(ctx context.Context) (io.ReadCloser, error) {
	name, args, err := BuildCaptureCommand(d.Input, d.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	proc, err := startProcess(name, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	type firstRead struct {
		buf []byte
		err error
	}
	firstCh := make(chan firstRead, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := proc.stdout.Read(buf)
		firstCh <- firstRead{buf: buf[:n], err: err}
	}()

	select {
	case <-ctx.Done():
		proc.stop()
		return nil, context.Cause(ctx)
	case first := <-firstCh:
		if first.err != nil && len(first.buf) == 0 {
			proc.stop()
			return nil, classifyCaptureError(proc.stderrText(), first.err)
		}
		slog.Debug("capture started", "command", name, "input", d.Input)
		return &captureStream{proc: proc, pending: first.buf}, nil
	}
}

// classifyCaptureError maps capture process output to a capture sentinel error.
func classifyCaptureError(stderr string, err error) error {
	lower := strings.ToLower(stderr)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, util.ExtractLastError(stderr))
		}
	}
	if msg := util.ExtractLastError(stderr); msg != "" {
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

// process represents a running capture subprocess.
type process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser

	mu     sync.Mutex
	stderr bytes.Buffer

	stopOnce sync.Once
}

// startProcess launches a capture subprocess with stdout piped.
func startProcess(name string, args []string) (*process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	p := &process{cmd: cmd, cancel: cancel, stdout: stdout}
	cmd.Stderr = &lockedWriter{mu: &p.mu, w: &p.stderr}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return p, nil
}

// stderrText returns everything the process wrote to stderr so far.
func (p *process) stderrText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.String()
}

// stop signals the process, waits briefly, then kills it. Safe to call more than once.
func (p *process) stop() {
	p.stopOnce.Do(func() {
		if p.cmd.Process != nil {
			if err := util.GracefulSignal(p.cmd.Process); err != nil {
				slog.Debug("graceful capture stop failed", "error", err)
			}
		}
		done := make(chan struct{})
		go func() {
			_ = p.cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopGrace):
			p.cancel()
			<-done
		}
		p.cancel()
	})
}

// captureStream is the io.ReadCloser handed to the recorder.
type captureStream struct {
	proc    *process
	pending []byte
}

func (s *captureStream) Read(b []byte) (int, error) {
	if len(s.pending) > 0 {
		n := copy(b, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	n, err := s.proc.stdout.Read(b)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, classifyCaptureError(s.proc.stderrText(), err)
	}
	return n, err
}

// Close releases the microphone by stopping the capture process.
func (s *captureStream) Close() error {
	s.proc.stop()
	return nil
}

// lockedWriter serialises writes from exec's stderr copier with readers of the buffer.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}
