package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sengokudaikon/echoes/internal/audio"
	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/metrics"
	"github.com/sengokudaikon/echoes/internal/record"
	"github.com/sengokudaikon/echoes/internal/ring"
)

type fakeCapture struct {
	bytes   int64
	stopped atomic.Bool
}

func (f *fakeCapture) Stop() error {
	f.stopped.Store(true)
	return nil
}

func (f *fakeCapture) BytesCaptured() int64 {
	return f.bytes
}

func newTestEngine(t *testing.T, mutate func(*config.Config)) (*Engine, *fakeCapture) {
	t.Helper()

	cfg := config.Default()
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 1
	// Large enough that tests never hit the overflow path.
	cfg.Audio.RingBufferMS = 10000
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(cfg, logger, metrics.New())

	capture := &fakeCapture{}
	engine.selectDevice = func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{Device: audio.Device{ID: "fake-mic", Description: "Fake Mic"}}, nil
	}
	engine.startCapture = func(_ context.Context, _ audio.Device, _, _ int, _ *ring.Buffer, _ *metrics.Metrics) (captureSource, error) {
		return capture, nil
	}
	return engine, capture
}

// pushAudio fills the engine ring with 20ms mono 16 kHz frames.
func pushAudio(t *testing.T, e *Engine, seqStart uint64, ms int, amplitude int16) uint64 {
	t.Helper()

	frames := ms / 20
	seq := seqStart
	for i := 0; i < frames; i++ {
		samples := make([]int16, 320)
		for j := range samples {
			if amplitude != 0 {
				if j%2 == 0 {
					samples[j] = amplitude
				} else {
					samples[j] = -amplitude
				}
			}
		}
		e.buf.Push(ring.Frame{Seq: seq, SampleRate: 16000, Channels: 1, Samples: samples})
		seq++
	}
	return seq
}

func TestEngineRecordStopProducesBuffer(t *testing.T) {
	engine, capture := newTestEngine(t, nil)

	sessionID, err := engine.Start(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	seq := pushAudio(t, engine, 0, 1000, 3000)
	pushAudio(t, engine, seq, 600, 0)

	buffers, err := engine.StopAndFinalize(context.Background())
	require.NoError(t, err)
	require.Len(t, buffers, 1)
	assert.True(t, capture.stopped.Load())

	buf := buffers[0]
	assert.Equal(t, sessionID, buf.SessionID)
	assert.Equal(t, 0, buf.Segment)
	assert.InDelta(t, time.Second, buf.Duration, float64(100*time.Millisecond))
	assert.Equal(t, "idle", engine.State())
}

func TestEngineEmptyRecording(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	_, err := engine.Start(context.Background())
	require.NoError(t, err)

	pushAudio(t, engine, 0, 400, 0)

	_, err = engine.StopAndFinalize(context.Background())
	require.ErrorIs(t, err, record.ErrEmptyRecording)
	assert.Equal(t, "idle", engine.State())
}

func TestEngineCancelDiscards(t *testing.T) {
	engine, capture := newTestEngine(t, nil)

	_, err := engine.Start(context.Background())
	require.NoError(t, err)
	pushAudio(t, engine, 0, 1000, 3000)

	require.NoError(t, engine.Cancel(context.Background()))
	assert.True(t, capture.stopped.Load())
	assert.Equal(t, "idle", engine.State())

	// A fresh session starts cleanly after cancel.
	_, err = engine.Start(context.Background())
	require.NoError(t, err)
	_, err = engine.StopAndFinalize(context.Background())
	require.ErrorIs(t, err, record.ErrEmptyRecording)
}

func TestEngineStartWhileStartedRefused(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	_, err := engine.Start(context.Background())
	require.NoError(t, err)

	_, err = engine.Start(context.Background())
	require.Error(t, err)

	require.NoError(t, engine.Cancel(context.Background()))
}

func TestEngineStopWithoutStart(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	_, err := engine.StopAndFinalize(context.Background())
	require.ErrorIs(t, err, record.ErrNoActiveSession)

	require.ErrorIs(t, engine.Cancel(context.Background()), record.ErrNoActiveSession)
}

func TestEngineForcedSplitStreamsEagerly(t *testing.T) {
	engine, _ := newTestEngine(t, func(cfg *config.Config) {
		cfg.Session.MaxDurationSec = 1
	})

	sessionID, err := engine.Start(context.Background())
	require.NoError(t, err)

	// 2.5s of continuous speech with a 1s cap forces at least two splits
	// while the recording is still live.
	seq := pushAudio(t, engine, 0, 2500, 3000)
	pushAudio(t, engine, seq, 600, 0)

	var eager []record.FinalizedBuffer
	deadline := time.After(5 * time.Second)
	for len(eager) < 2 {
		select {
		case buf := <-engine.Segments():
			eager = append(eager, buf)
		case <-deadline:
			t.Fatal("forced splits never streamed while recording")
		}
	}

	buffers, err := engine.StopAndFinalize(context.Background())
	require.NoError(t, err)

	for i, buf := range eager {
		assert.Equal(t, sessionID, buf.SessionID)
		assert.Equal(t, i, buf.Segment)
		assert.InDelta(t, time.Second, buf.Duration, float64(200*time.Millisecond))
	}
	// Whatever the consumer did not take arrives with stop, in order.
	require.NotEmpty(t, buffers)
	assert.Equal(t, len(eager), buffers[0].Segment)
	for i := 1; i < len(buffers); i++ {
		assert.Equal(t, buffers[i-1].Segment+1, buffers[i].Segment)
	}
}

func TestEngineStopReturnsSplitsBeyondQueueCapacity(t *testing.T) {
	engine, _ := newTestEngine(t, func(cfg *config.Config) {
		cfg.Session.MaxDurationSec = 1
		cfg.Audio.RingBufferMS = 20000
	})

	sessionID, err := engine.Start(context.Background())
	require.NoError(t, err)

	// 12.5s of speech forces more splits than the eager queue holds.
	// With no consumer running, every one must still come back at stop.
	seq := pushAudio(t, engine, 0, 12500, 3000)
	pushAudio(t, engine, seq, 600, 0)

	buffers, err := engine.StopAndFinalize(context.Background())
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(buffers), 10)
	for i, buf := range buffers {
		assert.Equal(t, sessionID, buf.SessionID)
		assert.Equal(t, i, buf.Segment)
	}

	select {
	case buf := <-engine.Segments():
		t.Fatalf("segment %d left on the eager queue after stop", buf.Segment)
	default:
	}
}

func TestEngineCancelDiscardsQueuedSplits(t *testing.T) {
	engine, _ := newTestEngine(t, func(cfg *config.Config) {
		cfg.Session.MaxDurationSec = 1
	})

	_, err := engine.Start(context.Background())
	require.NoError(t, err)

	pushAudio(t, engine, 0, 2500, 3000)
	require.Eventually(t, func() bool {
		return len(engine.eager) > 0
	}, 5*time.Second, 10*time.Millisecond, "forced split never queued")

	require.NoError(t, engine.Cancel(context.Background()))

	// Nothing from the cancelled session survives into the next one.
	select {
	case buf := <-engine.Segments():
		t.Fatalf("segment %d from cancelled session still queued", buf.Segment)
	default:
	}

	sessionID, err := engine.Start(context.Background())
	require.NoError(t, err)

	seq := pushAudio(t, engine, 0, 1000, 3000)
	pushAudio(t, engine, seq, 600, 0)

	buffers, err := engine.StopAndFinalize(context.Background())
	require.NoError(t, err)
	require.Len(t, buffers, 1)
	assert.Equal(t, sessionID, buffers[0].SessionID)
}

func TestEngineSelectDeviceFailure(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	engine.selectDevice = func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{}, assert.AnError
	}

	_, err := engine.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, "idle", engine.State())
}

func TestEngineDeviceDescription(t *testing.T) {
	assert.Equal(t, "Fake Mic (fake-mic)", describeDevice(audio.Device{ID: "fake-mic", Description: "Fake Mic"}))
	assert.Equal(t, "fake-mic", describeDevice(audio.Device{ID: "fake-mic"}))
	assert.Equal(t, "Fake Mic", describeDevice(audio.Device{Description: "Fake Mic"}))
}
