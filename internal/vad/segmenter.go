package vad

import (
	"time"

	"github.com/sengokudaikon/echoes/internal/resample"
)

// Segment is one finalized run of speech: silence-trimmed mono 16 kHz
// samples in capture order. Index increases per segment within a session.
type Segment struct {
	Index       int
	Samples     []int16
	ForcedSplit bool
}

// Duration returns the segment span at the pipeline sample rate.
func (s Segment) Duration() time.Duration {
	return time.Duration(len(s.Samples)) * time.Second / resample.TargetRate
}

// SegmenterConfig holds the tunable segmentation policy.
type SegmenterConfig struct {
	// Hangover is the minimum run of trailing silence that closes a segment.
	Hangover time.Duration
	// MinSpeech discards segments shorter than this once trimmed.
	MinSpeech time.Duration
	// MaxSegment forces a split so a single segment never grows unbounded.
	MaxSegment time.Duration
	// TrimThreshold is the absolute amplitude below which edge samples are
	// considered silence when trimming.
	TrimThreshold int16
}

// DefaultSegmenterConfig matches the dictation defaults: 500 ms hangover,
// 300 ms minimum speech, 5 minute forced split.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		Hangover:      500 * time.Millisecond,
		MinSpeech:     300 * time.Millisecond,
		MaxSegment:    5 * time.Minute,
		TrimThreshold: 328, // ~1% of full scale
	}
}

// Segmenter turns a labeled chunk stream into speech segments. Leading
// silence is never stored; a short pause inside speech does not end the
// segment until the hangover elapses.
type Segmenter struct {
	detector *Detector
	cfg      SegmenterConfig

	hangoverChunks int
	minSamples     int
	maxSamples     int

	speaking   bool
	silenceRun int
	current    []int16
	index      int
}

// NewSegmenter wires a detector to the segmentation policy.
func NewSegmenter(detector *Detector, cfg SegmenterConfig) *Segmenter {
	def := DefaultSegmenterConfig()
	if cfg.Hangover <= 0 {
		cfg.Hangover = def.Hangover
	}
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = def.MinSpeech
	}
	if cfg.MaxSegment <= 0 {
		cfg.MaxSegment = def.MaxSegment
	}
	if cfg.TrimThreshold <= 0 {
		cfg.TrimThreshold = def.TrimThreshold
	}

	chunkDur := time.Duration(resample.ChunkSamples) * time.Second / resample.TargetRate
	hangoverChunks := int((cfg.Hangover + chunkDur - 1) / chunkDur)
	if hangoverChunks < 1 {
		hangoverChunks = 1
	}

	return &Segmenter{
		detector:       detector,
		cfg:            cfg,
		hangoverChunks: hangoverChunks,
		minSamples:     int(cfg.MinSpeech * resample.TargetRate / time.Second),
		maxSamples:     int(cfg.MaxSegment * resample.TargetRate / time.Second),
	}
}

// Push classifies one chunk and returns any segments it finalized: at most
// one hangover-closed segment, or one forced split when the accumulated
// audio hits the maximum segment length.
func (s *Segmenter) Push(chunk resample.Chunk) []Segment {
	label := s.detector.Classify(chunk)

	var closed []Segment

	switch {
	case !s.speaking && label == Speech:
		s.speaking = true
		s.silenceRun = 0
		s.current = append(s.current, chunk.Samples...)

	case s.speaking && label == Speech:
		s.silenceRun = 0
		s.current = append(s.current, chunk.Samples...)

	case s.speaking && label == Silence:
		s.silenceRun++
		s.current = append(s.current, chunk.Samples...)
		if s.silenceRun >= s.hangoverChunks {
			if seg, ok := s.close(false); ok {
				closed = append(closed, seg)
			}
			s.speaking = false
			s.silenceRun = 0
		}

	default:
		// Leading or inter-segment silence: discarded, never stored.
		s.silenceRun = 0
	}

	if s.speaking && len(s.current) >= s.maxSamples {
		if seg, ok := s.close(true); ok {
			closed = append(closed, seg)
		}
		// Recording continues: stay in the speaking state so the next
		// chunk extends a fresh segment without re-detection latency.
		s.silenceRun = 0
	}

	return closed
}

// Speaking reports whether a segment is currently accumulating.
func (s *Segmenter) Speaking() bool {
	return s.speaking
}

// Finish closes the in-progress segment, if any. Call when recording stops.
func (s *Segmenter) Finish() (Segment, bool) {
	if !s.speaking {
		s.current = nil
		return Segment{}, false
	}
	seg, ok := s.close(false)
	s.speaking = false
	s.silenceRun = 0
	return seg, ok
}

// Reset prepares the segmenter for a new session.
func (s *Segmenter) Reset() {
	s.speaking = false
	s.silenceRun = 0
	s.current = nil
	s.index = 0
	s.detector.Reset()
}

// close trims and emits the accumulated segment when it is long enough.
func (s *Segmenter) close(forced bool) (Segment, bool) {
	trimmed := trim(s.current, s.cfg.TrimThreshold)
	s.current = nil

	if len(trimmed) < s.minSamples {
		return Segment{}, false
	}

	seg := Segment{Index: s.index, Samples: trimmed, ForcedSplit: forced}
	s.index++
	return seg, true
}

// trim removes sub-threshold samples from both ends of a segment.
func trim(samples []int16, threshold int16) []int16 {
	start := 0
	for start < len(samples) && abs16(samples[start]) <= threshold {
		start++
	}
	end := len(samples)
	for end > start && abs16(samples[end-1]) <= threshold {
		end--
	}
	if start >= end {
		return nil
	}
	out := make([]int16, end-start)
	copy(out, samples[start:end])
	return out
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}
