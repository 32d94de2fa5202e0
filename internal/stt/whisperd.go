package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/record"
	"github.com/sengokudaikon/echoes/internal/wav"
)

// Whisperd talks to a self-hosted transcription server over plain HTTP
// multipart. Any server accepting a whisper.cpp-style /inference upload
// works; only a JSON body with a "text" field is required in response.
type Whisperd struct {
	cfg    config.WhisperdConfig
	client *http.Client
}

// NewWhisperd builds the self-hosted provider from config.
func NewWhisperd(cfg config.WhisperdConfig) *Whisperd {
	return &Whisperd{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (w *Whisperd) Name() string {
	return "whisperd"
}

type whisperdResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Transcribe uploads the buffer as a multipart WAV and reads back the
// transcript text.
func (w *Whisperd) Transcribe(ctx context.Context, buf record.FinalizedBuffer, language string) (Result, error) {
	started := time.Now()

	payload, err := wav.Encode(buf)
	if err != nil {
		return Result{}, &Error{Kind: KindInference, Provider: w.Name(), Err: fmt.Errorf("encode wav: %w", err)}
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Result{}, &Error{Kind: KindInference, Provider: w.Name(), Err: err}
	}
	if _, err := part.Write(payload); err != nil {
		return Result{}, &Error{Kind: KindInference, Provider: w.Name(), Err: err}
	}
	if model := strings.TrimSpace(w.cfg.Model); model != "" {
		if err := form.WriteField("model", model); err != nil {
			return Result{}, &Error{Kind: KindInference, Provider: w.Name(), Err: err}
		}
	}
	if lang := strings.TrimSpace(language); lang != "" {
		if err := form.WriteField("language", lang); err != nil {
			return Result{}, &Error{Kind: KindInference, Provider: w.Name(), Err: err}
		}
	}
	if err := form.Close(); err != nil {
		return Result{}, &Error{Kind: KindInference, Provider: w.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoint, &body)
	if err != nil {
		return Result{}, &Error{Kind: KindInference, Provider: w.Name(), Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if key := strings.TrimSpace(w.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, w.classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, &Error{Kind: KindNetwork, Provider: w.Name(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, w.statusError(resp, raw)
	}

	var decoded whisperdResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, &Error{Kind: KindInference, Provider: w.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if decoded.Error != "" {
		return Result{}, &Error{Kind: KindInference, Provider: w.Name(), Err: errors.New(decoded.Error)}
	}

	return Result{
		Text:     strings.TrimSpace(decoded.Text),
		Provider: w.Name(),
		Latency:  time.Since(started),
	}, nil
}

func (w *Whisperd) classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Provider: w.Name(), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Provider: w.Name(), Err: err}
	default:
		return &Error{Kind: KindNetwork, Provider: w.Name(), Err: err}
	}
}

func (w *Whisperd) statusError(resp *http.Response, raw []byte) error {
	err := fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	e := &Error{Kind: kindFromStatus(resp.StatusCode), Provider: w.Name(), Err: err}
	if e.Kind == KindRateLimited {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return e
}

// parseRetryAfter handles the delay-seconds form; HTTP-date values are
// ignored rather than parsed.
func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
