package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is the default duration that peak values are held before decaying.
const DefaultPeakHoldDuration = 1500 * time.Millisecond

// PeakHolder tracks peak-hold state for the live level meter.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         uint8
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a new peak holder with the default hold duration.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{holdDuration: DefaultPeakHoldDuration}
}

// Update records a new peak and returns the held peak.
func (p *PeakHolder) Update(peak uint8, now time.Time) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peak >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = peak
		p.heldAt = now
	}
	return p.held
}

// Reset clears the held peak.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = 0
	p.heldAt = time.Time{}
}
