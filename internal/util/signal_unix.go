//go:build !windows

package util

import (
	"errors"
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that stop the trainer.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
}

// GracefulSignal asks a capture process to flush and exit. A process that
// already exited is not an error.
func GracefulSignal(p *os.Process) error {
	if err := p.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
