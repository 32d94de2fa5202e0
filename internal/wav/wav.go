// Package wav encodes finalized PCM buffers into WAV payloads for
// providers that upload files.
package wav

import (
	"bytes"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	gwav "github.com/go-audio/wav"

	"github.com/sengokudaikon/echoes/internal/record"
	"github.com/sengokudaikon/echoes/internal/resample"
)

// Encode renders a finalized buffer as a mono 16-bit PCM WAV file at the
// pipeline rate.
func Encode(buf record.FinalizedBuffer) ([]byte, error) {
	if len(buf.Samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty buffer for session %s", buf.SessionID)
	}
	return EncodePCM(buf.Samples, resample.TargetRate)
}

// EncodePCM renders raw mono samples at the given rate.
func EncodePCM(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	var sink seekableBuffer
	enc := gwav.NewEncoder(&sink, sampleRate, 16, 1, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	intBuf := &gaudio.IntBuffer{
		Data:           data,
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}

	if err := enc.Write(intBuf); err != nil {
		return nil, fmt.Errorf("write wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return sink.data, nil
}

// Decode extracts mono 16-bit samples and the sample rate from WAV bytes.
// Used by tests and debug tooling, not the capture path.
func Decode(payload []byte) ([]int16, int, error) {
	dec := gwav.NewDecoder(bytes.NewReader(payload))
	intBuf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if dec.NumChans != 1 {
		return nil, 0, fmt.Errorf("expected mono audio, got %d channels", dec.NumChans)
	}

	samples := make([]int16, len(intBuf.Data))
	for i, v := range intBuf.Data {
		samples[i] = int16(v)
	}
	return samples, int(dec.SampleRate), nil
}

// seekableBuffer adapts an in-memory byte slice to io.WriteSeeker, which the
// wav encoder needs for header backpatching.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	b.pos = int(next)
	return next, nil
}
