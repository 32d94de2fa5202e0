package stt

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/record"
)

// Local runs in-process whisper.cpp inference. The model is loaded lazily
// on first use so a missing model surfaces as a per-request failure, not a
// startup crash. Inference cannot be aborted mid-run; cancellation is
// handled by the dispatcher discarding the late result.
type Local struct {
	cfg config.LocalSTTConfig

	loadOnce sync.Once
	model    whisper.Model
	loadErr  error
}

// NewLocal constructs the local provider without touching the model file.
func NewLocal(cfg config.LocalSTTConfig) *Local {
	return &Local{cfg: cfg}
}

func (l *Local) Name() string {
	return "local"
}

// Transcribe runs whisper inference over the finalized buffer.
func (l *Local) Transcribe(ctx context.Context, buf record.FinalizedBuffer, language string) (Result, error) {
	started := time.Now()

	l.loadOnce.Do(func() {
		model, err := whisper.New(l.cfg.ModelPath)
		if err != nil {
			l.loadErr = fmt.Errorf("load whisper model %q: %w", l.cfg.ModelPath, err)
			return
		}
		l.model = model
	})
	if l.loadErr != nil {
		return Result{}, &Error{Kind: KindModelLoad, Provider: l.Name(), Err: l.loadErr}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, &Error{Kind: KindCanceled, Provider: l.Name(), Err: err}
	}

	wctx, err := l.model.NewContext()
	if err != nil {
		return Result{}, &Error{Kind: KindInference, Provider: l.Name(), Err: fmt.Errorf("create whisper context: %w", err)}
	}
	if l.cfg.Threads > 0 {
		wctx.SetThreads(uint(l.cfg.Threads))
	}
	if lang := strings.TrimSpace(language); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return Result{}, &Error{Kind: KindInference, Provider: l.Name(), Err: fmt.Errorf("set language %q: %w", lang, err)}
		}
	}

	samples := toFloat32(buf.Samples)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, &Error{Kind: KindInference, Provider: l.Name(), Err: fmt.Errorf("whisper inference: %w", err)}
	}

	var (
		text    strings.Builder
		timings []SegmentTiming
	)
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, &Error{Kind: KindInference, Provider: l.Name(), Err: fmt.Errorf("read segment: %w", err)}
		}
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(strings.TrimSpace(segment.Text))
		timings = append(timings, SegmentTiming{Start: segment.Start, End: segment.End, Text: strings.TrimSpace(segment.Text)})
	}

	if err := ctx.Err(); err != nil {
		return Result{}, &Error{Kind: KindCanceled, Provider: l.Name(), Err: err}
	}

	return Result{
		Text:     text.String(),
		Provider: l.Name(),
		Latency:  time.Since(started),
		Timings:  timings,
	}, nil
}

// Close releases the loaded model.
func (l *Local) Close() error {
	if l.model == nil {
		return nil
	}
	return l.model.Close()
}

// toFloat32 converts 16-bit PCM to the normalized float samples whisper
// expects.
func toFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / float32(math.MaxInt16)
	}
	return out
}
