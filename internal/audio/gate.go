// Package audio provides microphone capture, speech energy gating and level metering.
package audio

import (
	"encoding/binary"
)

// DefaultMinVolume is the default peak magnitude (0-255) above which a frame counts as speech.
const DefaultMinVolume uint8 = 5

// maxSampleValue is the maximum absolute value for 16-bit signed audio.
const maxSampleValue = 32768.0

// Gate classifies magnitude frames as speech or silence.
type Gate struct {
	// MinVolume is the exclusive peak threshold on the 0-255 scale.
	MinVolume uint8
}

// NewGate returns a Gate with the given threshold.
func NewGate(minVolume uint8) Gate {
	return Gate{MinVolume: minVolume}
}

// Detect reports whether the frame's peak magnitude exceeds the threshold.
// An empty frame is silence.
func (g Gate) Detect(frame []uint8) bool {
	return Peak(frame) > g.MinVolume
}

// Peak returns the largest magnitude in frame.
func Peak(frame []uint8) uint8 {
	var peak uint8
	for _, v := range frame {
		if v > peak {
			peak = v
		}
	}
	return peak
}

// MagnitudeFrame converts S16LE mono PCM into magnitudes on a 0-255 scale.
// A trailing odd byte is ignored.
func MagnitudeFrame(pcm []byte) []uint8 {
	frame := make([]uint8, len(pcm)/2)
	for i := range frame {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s)
		if v < 0 {
			v = -v
		}
		frame[i] = uint8(min(v/maxSampleValue*255, 255))
	}
	return frame
}
