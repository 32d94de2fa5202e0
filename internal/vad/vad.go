// Package vad classifies normalized audio chunks as speech or silence and
// segments a recording around pauses.
package vad

import (
	"math"

	"github.com/sengokudaikon/echoes/internal/resample"
)

// Label is the classification attached to one chunk.
type Label int

const (
	Silence Label = iota
	Speech
)

func (l Label) String() string {
	if l == Speech {
		return "speech"
	}
	return "silence"
}

// Detector is an energy-based voice activity detector. RMS energy is
// normalized against full-scale 16-bit audio, lightly smoothed across
// chunks, and compared to a threshold. Stateful: classification order
// matters and must follow capture order.
type Detector struct {
	threshold float64
	smoothing float64

	last    float64
	chunks  uint64
	voiced  uint64
	started bool
}

// NewDetector builds a detector. threshold is the normalized energy level
// in (0,1) above which a chunk counts as speech; 0.015 is a usable default
// for close-mic dictation.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = 0.015
	}
	// Light smoothing: enough to suppress single-chunk spikes without
	// delaying silence detection past the hangover window.
	return &Detector{threshold: threshold, smoothing: 0.7}
}

// Classify labels one chunk and advances the smoothing state.
func (d *Detector) Classify(chunk resample.Chunk) Label {
	energy := rms(chunk.Samples)

	if d.started {
		energy = d.smoothing*energy + (1-d.smoothing)*d.last
	}
	d.last = energy
	d.started = true

	d.chunks++
	if energy >= d.threshold {
		d.voiced++
		return Speech
	}
	return Silence
}

// VoicedRatio reports the fraction of chunks classified as speech so far.
func (d *Detector) VoicedRatio() float64 {
	if d.chunks == 0 {
		return 0
	}
	return float64(d.voiced) / float64(d.chunks)
}

// Reset clears classification state between sessions.
func (d *Detector) Reset() {
	d.last = 0
	d.started = false
	d.chunks = 0
	d.voiced = 0
}

// rms returns root-mean-square energy normalized to [0,1].
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(samples))) / math.MaxInt16
}
