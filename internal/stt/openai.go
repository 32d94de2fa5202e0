package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/record"
	"github.com/sengokudaikon/echoes/internal/wav"
)

// OpenAI transcribes against the OpenAI audio API (or any endpoint
// speaking its protocol via base_url).
type OpenAI struct {
	cfg    config.OpenAIConfig
	client *openai.Client
}

// NewOpenAI builds the remote provider from config.
func NewOpenAI(cfg config.OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = base
	}
	return &OpenAI{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}
}

func (o *OpenAI) Name() string {
	return "openai"
}

// Transcribe uploads the buffer as WAV and normalizes the response.
func (o *OpenAI) Transcribe(ctx context.Context, buf record.FinalizedBuffer, language string) (Result, error) {
	started := time.Now()

	payload, err := wav.Encode(buf)
	if err != nil {
		return Result{}, &Error{Kind: KindInference, Provider: o.Name(), Err: fmt.Errorf("encode wav: %w", err)}
	}

	model := strings.TrimSpace(o.cfg.Model)
	if model == "" {
		model = openai.Whisper1
	}

	req := openai.AudioRequest{
		Model:    model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(payload),
		Language: strings.TrimSpace(language),
		Format:   openai.AudioResponseFormatVerboseJSON,
	}

	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		return Result{}, o.classify(err)
	}

	timings := make([]SegmentTiming, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		timings = append(timings, SegmentTiming{
			Start: time.Duration(seg.Start * float64(time.Second)),
			End:   time.Duration(seg.End * float64(time.Second)),
			Text:  strings.TrimSpace(seg.Text),
		})
	}

	return Result{
		Text:     strings.TrimSpace(resp.Text),
		Provider: o.Name(),
		Latency:  time.Since(started),
		Timings:  timings,
	}, nil
}

// classify maps go-openai failures onto the shared error taxonomy.
func (o *OpenAI) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCanceled, Provider: o.Name(), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: o.Name(), Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: kindFromStatus(apiErr.HTTPStatusCode), Provider: o.Name(), Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: kindFromStatus(reqErr.HTTPStatusCode), Provider: o.Name(), Err: err}
	}

	return &Error{Kind: KindNetwork, Provider: o.Name(), Err: err}
}

// kindFromStatus maps HTTP status codes to error kinds shared by the
// remote variants.
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindNetwork
	default:
		return KindInference
	}
}
