package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/metrics"
	"github.com/sengokudaikon/echoes/internal/record"
	"github.com/sengokudaikon/echoes/internal/stt"
)

type fakeProvider struct {
	mu         sync.Mutex
	calls      int
	transcribe func(ctx context.Context, call int) (stt.Result, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Transcribe(ctx context.Context, buf record.FinalizedBuffer, language string) (stt.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.transcribe(ctx, call)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testDispatcher(p stt.Provider) (*Dispatcher, *metrics.Metrics) {
	cfg := config.DispatchConfig{
		TimeoutMS:      2000,
		Workers:        2,
		MaxRetries:     3,
		RetryBackoffMS: 1,
	}
	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(p, cfg, logger, m), m
}

func testRequest() Request {
	return Request{
		Buffer: record.FinalizedBuffer{
			SessionID: "s1",
			Segment:   0,
			Samples:   make([]int16, 16000),
			Duration:  time.Second,
		},
		Language: "en",
	}
}

func TestDispatchSuccess(t *testing.T) {
	p := &fakeProvider{transcribe: func(ctx context.Context, call int) (stt.Result, error) {
		return stt.Result{Text: "hello", Provider: "fake"}, nil
	}}
	d, m := testDispatcher(p)

	outcome := <-d.Submit(context.Background(), testRequest()).Done()
	require.NoError(t, outcome.Err)
	assert.Equal(t, "hello", outcome.Result.Text)
	assert.Equal(t, 1, outcome.Attempts)
	assert.False(t, outcome.Discarded)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchResults.WithLabelValues("ok")))
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	// Two network failures followed by success must yield the same text a
	// clean run would, with three attempts recorded.
	p := &fakeProvider{transcribe: func(ctx context.Context, call int) (stt.Result, error) {
		if call <= 2 {
			return stt.Result{}, &stt.Error{Kind: stt.KindNetwork, Provider: "fake", Err: errors.New("connection reset")}
		}
		return stt.Result{Text: "eventually", Provider: "fake"}, nil
	}}
	d, m := testDispatcher(p)

	outcome := <-d.Submit(context.Background(), testRequest()).Done()
	require.NoError(t, outcome.Err)
	assert.Equal(t, "eventually", outcome.Result.Text)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DispatchRetries))
}

func TestDispatchFatalErrorNotRetried(t *testing.T) {
	p := &fakeProvider{transcribe: func(ctx context.Context, call int) (stt.Result, error) {
		return stt.Result{}, &stt.Error{Kind: stt.KindAuth, Provider: "fake", Err: errors.New("bad key")}
	}}
	d, m := testDispatcher(p)

	outcome := <-d.Submit(context.Background(), testRequest()).Done()
	require.Error(t, outcome.Err)
	assert.Equal(t, 1, outcome.Attempts)
	var perr *stt.Error
	require.ErrorAs(t, outcome.Err, &perr)
	assert.Equal(t, stt.KindAuth, perr.Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchResults.WithLabelValues("failed")))
}

func TestDispatchExhaustsRetries(t *testing.T) {
	p := &fakeProvider{transcribe: func(ctx context.Context, call int) (stt.Result, error) {
		return stt.Result{}, &stt.Error{Kind: stt.KindNetwork, Provider: "fake", Err: errors.New("down")}
	}}
	d, _ := testDispatcher(p)

	outcome := <-d.Submit(context.Background(), testRequest()).Done()
	require.Error(t, outcome.Err)
	assert.Equal(t, 4, outcome.Attempts) // 1 initial + 3 retries
}

func TestDispatchCancelDiscardsResult(t *testing.T) {
	// The provider ignores cancellation and returns text anyway; the
	// dispatcher must mark the outcome discarded, never usable.
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{transcribe: func(_ context.Context, call int) (stt.Result, error) {
		cancel()
		return stt.Result{Text: "too late", Provider: "fake"}, nil
	}}
	d, m := testDispatcher(p)

	outcome := <-d.Submit(ctx, testRequest()).Done()
	assert.True(t, outcome.Discarded)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchResults.WithLabelValues("discarded")))
}

func TestDispatchCancelBeforeWorkerSlot(t *testing.T) {
	block := make(chan struct{})
	var started atomic.Int32
	p := &fakeProvider{transcribe: func(ctx context.Context, call int) (stt.Result, error) {
		started.Add(1)
		<-block
		return stt.Result{Text: "slow"}, nil
	}}
	d, _ := testDispatcher(p)

	// Fill both worker slots.
	bg := context.Background()
	first := d.Submit(bg, testRequest())
	second := d.Submit(bg, testRequest())
	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(bg)
	queued := d.Submit(ctx, testRequest())
	cancel()

	outcome := <-queued.Done()
	assert.True(t, outcome.Discarded)
	assert.ErrorIs(t, outcome.Err, context.Canceled)
	assert.Equal(t, int32(2), started.Load())

	close(block)
	<-first.Done()
	<-second.Done()
	d.Wait()
}

func TestDispatchBoundedConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	release := make(chan struct{})
	p := &fakeProvider{transcribe: func(ctx context.Context, call int) (stt.Result, error) {
		cur := inflight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		<-release
		inflight.Add(-1)
		return stt.Result{Text: "ok"}, nil
	}}
	d, _ := testDispatcher(p)

	pendings := make([]*Pending, 0, 6)
	for i := 0; i < 6; i++ {
		pendings = append(pendings, d.Submit(context.Background(), testRequest()))
	}
	require.Eventually(t, func() bool { return inflight.Load() == 2 }, time.Second, time.Millisecond)
	close(release)
	for _, pending := range pendings {
		outcome := <-pending.Done()
		require.NoError(t, outcome.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	d.Wait()
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	// A sub-second server hint must still produce a wait, never zero.
	assert.Equal(t, 1, retryAfterSeconds(500*time.Millisecond))
	assert.Equal(t, 1, retryAfterSeconds(time.Second))
	assert.Equal(t, 2, retryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 30, retryAfterSeconds(30*time.Second))
	assert.Equal(t, 0, retryAfterSeconds(0))
}

func TestDispatchDeadlinePerAttempt(t *testing.T) {
	p := &fakeProvider{transcribe: func(ctx context.Context, call int) (stt.Result, error) {
		<-ctx.Done()
		return stt.Result{}, &stt.Error{Kind: stt.KindTimeout, Provider: "fake", Err: ctx.Err()}
	}}
	cfg := config.DispatchConfig{TimeoutMS: 20, Workers: 1, MaxRetries: 0, RetryBackoffMS: 1}
	d := New(p, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New())

	outcome := <-d.Submit(context.Background(), testRequest()).Done()
	require.Error(t, outcome.Err)
	var perr *stt.Error
	require.ErrorAs(t, outcome.Err, &perr)
	assert.Equal(t, stt.KindTimeout, perr.Kind)
	assert.Equal(t, 1, p.callCount())
}
