package ring

import "time"

// Frame is one hardware callback's worth of interleaved signed samples,
// tagged with the device format and a monotonic sequence number. A frame
// is immutable once produced and is consumed exactly once downstream.
type Frame struct {
	Seq        uint64
	SampleRate int
	Channels   int
	Samples    []int16
}

// SamplesPerChannel returns the frame length in sample periods.
func (f Frame) SamplesPerChannel() int {
	if f.Channels <= 0 {
		return len(f.Samples)
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the wall-clock span the frame covers.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel()) * time.Second / time.Duration(f.SampleRate)
}
