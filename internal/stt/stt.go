// Package stt defines the speech-to-text provider capability and its
// concrete backends. Providers accept mono 16 kHz PCM and return UTF-8
// text; wire-format encoding is each variant's own responsibility.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/record"
)

// SegmentTiming is optional per-segment timing info from a provider.
type SegmentTiming struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Result is the normalized transcription outcome across all providers.
type Result struct {
	Text     string
	Provider string
	Latency  time.Duration
	Timings  []SegmentTiming
}

// Provider is the polymorphic transcription capability. Implementations
// must honor context cancellation where the backend allows aborting;
// otherwise the caller discards late results.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, buf record.FinalizedBuffer, language string) (Result, error)
}

// ErrorKind classifies provider failures for retry policy decisions.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindAuth
	KindRateLimited
	KindTimeout
	KindModelLoad
	KindInference
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindModelLoad:
		return "model_load"
	case KindInference:
		return "inference"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is a typed provider failure. RetryAfter carries a server-supplied
// backoff hint when the provider rate-limited the request.
type Error struct {
	Kind       ErrorKind
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether an error may be retried by the dispatcher.
// Auth, model-load, and inference failures are fatal for the request.
func Retryable(err error) bool {
	var perr *Error
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Kind == KindNetwork || perr.Kind == KindRateLimited
}

// New selects the configured provider variant. Adding a backend means
// adding a case here plus its encode/decode logic, nothing else.
func New(cfg config.STTConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "local":
		return NewLocal(cfg.Local), nil
	case "openai":
		return NewOpenAI(cfg.OpenAI), nil
	case "whisperd":
		return NewWhisperd(cfg.Whisperd), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}
