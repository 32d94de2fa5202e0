// Package resample converts captured device audio into the fixed mono
// 16 kHz chunk stream consumed by voice-activity detection and transcription.
package resample

import (
	"fmt"
	"math"

	"github.com/sengokudaikon/echoes/internal/ring"
)

const (
	// TargetRate is the sample rate every downstream consumer expects.
	TargetRate = 16000
	// ChunkSamples is the fixed chunk length: 20 ms at 16 kHz.
	ChunkSamples = 320
)

// Chunk is a fixed-size block of mono 16 kHz samples. Seq increases by one
// per emitted chunk and preserves capture order.
type Chunk struct {
	Seq     uint64
	Samples []int16
}

// Duration returns the fixed chunk span.
func (c Chunk) Duration() float64 {
	return float64(len(c.Samples)) / float64(TargetRate)
}

// Resampler is a stateful streaming converter. It locks onto the format of
// the first frame it sees, downmixes multi-channel input by averaging, and
// performs linear-interpolation rate conversion with fractional-sample
// carry-over between calls. Identical input always yields identical output.
type Resampler struct {
	srcRate     int
	srcChannels int
	step        float64

	in      []int16 // pending mono input samples
	pos     float64 // fractional read position into in
	pending []int16 // partially filled output chunk
	seq     uint64
}

// New returns a resampler producing ChunkSamples-sized mono 16 kHz chunks.
func New() *Resampler {
	return &Resampler{pending: make([]int16, 0, ChunkSamples)}
}

// Process consumes one frame and returns zero or more completed chunks.
// A mid-stream device format change is a pipeline fault, not recoverable here.
func (r *Resampler) Process(frame ring.Frame) ([]Chunk, error) {
	if frame.SampleRate <= 0 || frame.Channels <= 0 {
		return nil, fmt.Errorf("invalid frame format: rate=%d channels=%d", frame.SampleRate, frame.Channels)
	}

	if r.srcRate == 0 {
		r.srcRate = frame.SampleRate
		r.srcChannels = frame.Channels
		r.step = float64(frame.SampleRate) / float64(TargetRate)
	} else if frame.SampleRate != r.srcRate || frame.Channels != r.srcChannels {
		return nil, fmt.Errorf(
			"frame format changed mid-stream: got rate=%d channels=%d, want rate=%d channels=%d",
			frame.SampleRate, frame.Channels, r.srcRate, r.srcChannels,
		)
	}

	r.in = appendMono(r.in, frame)
	return r.emit(), nil
}

// Flush drains any buffered remainder as one final zero-padded chunk.
// The resampler keeps its format lock and sequence counter.
func (r *Resampler) Flush() []Chunk {
	chunks := r.emit()

	// The last input sample can never be interpolated past; fold it in.
	if len(r.in) > 0 && len(r.pending) > 0 {
		r.pending = append(r.pending, r.in[len(r.in)-1])
	}
	r.in = r.in[:0]
	r.pos = 0

	if len(r.pending) == 0 {
		return chunks
	}

	padded := make([]int16, ChunkSamples)
	copy(padded, r.pending)
	chunks = append(chunks, Chunk{Seq: r.seq, Samples: padded})
	r.seq++
	r.pending = r.pending[:0]
	return chunks
}

// emit interpolates as far as the buffered input allows.
func (r *Resampler) emit() []Chunk {
	var chunks []Chunk

	for {
		i := int(r.pos)
		if i+1 >= len(r.in) {
			break
		}

		frac := r.pos - float64(i)
		value := float64(r.in[i]) + (float64(r.in[i+1])-float64(r.in[i]))*frac
		r.pending = append(r.pending, clampSample(value))

		if len(r.pending) == ChunkSamples {
			samples := make([]int16, ChunkSamples)
			copy(samples, r.pending)
			chunks = append(chunks, Chunk{Seq: r.seq, Samples: samples})
			r.seq++
			r.pending = r.pending[:0]
		}

		r.pos += r.step
	}

	// Drop fully consumed input, keeping the sample under the cursor so the
	// next call can interpolate across the frame boundary.
	keep := int(r.pos)
	if keep > len(r.in) {
		keep = len(r.in)
	}
	if keep > 0 {
		r.in = append(r.in[:0], r.in[keep:]...)
		r.pos -= float64(keep)
	}

	return chunks
}

// appendMono downmixes an interleaved frame into dst by channel averaging.
func appendMono(dst []int16, frame ring.Frame) []int16 {
	if frame.Channels == 1 {
		return append(dst, frame.Samples...)
	}

	periods := frame.SamplesPerChannel()
	for p := 0; p < periods; p++ {
		sum := 0
		for ch := 0; ch < frame.Channels; ch++ {
			sum += int(frame.Samples[p*frame.Channels+ch])
		}
		dst = append(dst, int16(sum/frame.Channels))
	}
	return dst
}

func clampSample(v float64) int16 {
	rounded := math.Round(v)
	if rounded > math.MaxInt16 {
		return math.MaxInt16
	}
	if rounded < math.MinInt16 {
		return math.MinInt16
	}
	return int16(rounded)
}
