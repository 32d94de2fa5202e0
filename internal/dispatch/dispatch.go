// Package dispatch hands finalized buffers to the transcription provider
// with bounded concurrency, per-request deadlines, and retry with backoff.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/metrics"
	"github.com/sengokudaikon/echoes/internal/record"
	"github.com/sengokudaikon/echoes/internal/stt"
)

// Request is one finalized buffer queued for transcription.
type Request struct {
	Buffer   record.FinalizedBuffer
	Language string
}

// Outcome is the terminal result of one request. Discarded means the
// request's context was cancelled and any text must not be used.
type Outcome struct {
	Buffer    record.FinalizedBuffer
	Result    stt.Result
	Err       error
	Attempts  int
	Discarded bool
}

// Pending is the handle for one in-flight request.
type Pending struct {
	done chan Outcome
}

// Done delivers exactly one Outcome per request.
func (p *Pending) Done() <-chan Outcome {
	return p.done
}

// Dispatcher runs requests on a bounded worker pool. Submit never blocks
// on a full pool; the request waits its turn in a goroutine parked on the
// semaphore.
type Dispatcher struct {
	provider stt.Provider
	cfg      config.DispatchConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics

	sem chan struct{}
	wg  sync.WaitGroup
}

// New builds a dispatcher around the provider.
func New(provider stt.Provider, cfg config.DispatchConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		sem:      make(chan struct{}, workers),
	}
}

// Submit queues one request. Cancelling ctx abandons the request: a retry
// loop in progress stops, and a result that arrives afterwards is marked
// discarded instead of delivered as usable text.
func (d *Dispatcher) Submit(ctx context.Context, req Request) *Pending {
	pending := &Pending{done: make(chan Outcome, 1)}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-ctx.Done():
			pending.done <- Outcome{Buffer: req.Buffer, Err: ctx.Err(), Discarded: true}
			return
		}

		pending.done <- d.run(ctx, req)
	}()

	return pending
}

// Wait blocks until every submitted request has delivered its outcome.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, req Request) Outcome {
	started := time.Now()
	attempts := 0

	d.metrics.DispatchInflight.Inc()
	defer d.metrics.DispatchInflight.Dec()

	timeout := time.Duration(d.cfg.TimeoutMS) * time.Millisecond

	operation := func() (stt.Result, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := d.provider.Transcribe(attemptCtx, req.Buffer, req.Language)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			// The session went away; no point in further attempts.
			return stt.Result{}, backoff.Permanent(err)
		}
		if !stt.Retryable(err) {
			return stt.Result{}, backoff.Permanent(err)
		}
		var perr *stt.Error
		if errors.As(err, &perr) && perr.RetryAfter > 0 {
			return stt.Result{}, backoff.RetryAfter(retryAfterSeconds(perr.RetryAfter))
		}
		return stt.Result{}, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(d.cfg.RetryBackoffMS) * time.Millisecond

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(d.cfg.MaxRetries)+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.metrics.DispatchRetries.Inc()
			d.logger.Warn("transcription attempt failed, retrying",
				"session_id", req.Buffer.SessionID,
				"segment", req.Buffer.Segment,
				"wait", wait,
				"error", err)
		}),
	)

	latency := time.Since(started)
	outcome := Outcome{Buffer: req.Buffer, Result: result, Err: err, Attempts: attempts}

	if ctx.Err() != nil {
		outcome.Discarded = true
		d.metrics.RecordDispatchResult("discarded", latency)
		d.logger.Info("transcription result discarded",
			"session_id", req.Buffer.SessionID,
			"segment", req.Buffer.Segment)
		return outcome
	}

	if err != nil {
		d.metrics.RecordDispatchResult("failed", latency)
		d.logger.Error("transcription failed",
			"session_id", req.Buffer.SessionID,
			"segment", req.Buffer.Segment,
			"attempts", attempts,
			"error", err)
		return outcome
	}

	d.metrics.RecordDispatchResult("ok", latency)
	d.logger.Info("transcription complete",
		"session_id", req.Buffer.SessionID,
		"segment", req.Buffer.Segment,
		"provider", result.Provider,
		"attempts", attempts,
		"latency", latency)
	return outcome
}

// retryAfterSeconds converts a provider retry hint to whole seconds,
// rounding up so a sub-second hint still yields a wait.
func retryAfterSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
