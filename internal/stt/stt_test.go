package stt

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/record"
)

func testBuffer(ms int) record.FinalizedBuffer {
	samples := make([]int16, 16000*ms/1000)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 3000
		} else {
			samples[i] = -3000
		}
	}
	return record.FinalizedBuffer{
		SessionID: "test-session",
		Segment:   0,
		Samples:   samples,
		Duration:  time.Duration(ms) * time.Millisecond,
	}
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"local", "local"},
		{"openai", "openai"},
		{"whisperd", "whisperd"},
		{"  OpenAI  ", "openai"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := config.Default().STT
			cfg.Provider = tt.provider
			p, err := New(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestNewUnknownProvider(t *testing.T) {
	cfg := config.Default().STT
	cfg.Provider = "deepgram"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deepgram")
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindNetwork, true},
		{KindRateLimited, true},
		{KindAuth, false},
		{KindTimeout, false},
		{KindModelLoad, false},
		{KindInference, false},
		{KindCanceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := &Error{Kind: tt.kind, Provider: "test", Err: errors.New("boom")}
			assert.Equal(t, tt.want, Retryable(err))
		})
	}
}

func TestRetryableWrapped(t *testing.T) {
	inner := &Error{Kind: KindNetwork, Provider: "whisperd", Err: errors.New("refused")}
	wrapped := fmt.Errorf("attempt 2: %w", inner)
	assert.True(t, Retryable(wrapped))
}

func TestRetryableNonProviderError(t *testing.T) {
	assert.False(t, Retryable(errors.New("plain")))
	assert.False(t, Retryable(nil))
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Kind: KindAuth, Provider: "openai", Err: errors.New("invalid api key")}
	assert.Equal(t, "openai: auth: invalid api key", err.Error())
	assert.Equal(t, "errors: model_load", (&Error{Kind: KindModelLoad, Provider: "errors"}).Error())
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("socket closed")
	err := &Error{Kind: KindNetwork, Provider: "whisperd", Err: inner}
	assert.ErrorIs(t, err, inner)
}
