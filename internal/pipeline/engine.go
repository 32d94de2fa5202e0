// Package pipeline owns the capture -> resample -> segment -> record flow
// for one daemon instance.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sengokudaikon/echoes/internal/audio"
	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/metrics"
	"github.com/sengokudaikon/echoes/internal/record"
	"github.com/sengokudaikon/echoes/internal/resample"
	"github.com/sengokudaikon/echoes/internal/ring"
	"github.com/sengokudaikon/echoes/internal/vad"
	"github.com/sengokudaikon/echoes/internal/wav"
)

// drainInterval paces the processing loop. Frames cover 20ms each, so a
// 10ms tick keeps ring occupancy low without spinning.
const drainInterval = 10 * time.Millisecond

// captureSource abstracts the live Pulse stream so the engine can be
// driven by a fake in tests.
type captureSource interface {
	Stop() error
	BytesCaptured() int64
}

type startCaptureFunc func(ctx context.Context, selected audio.Device, sampleRate, channels int, buf *ring.Buffer, m *metrics.Metrics) (captureSource, error)

type selectDeviceFunc func(ctx context.Context, input, fallback string) (audio.Selection, error)

// Engine owns one end-to-end capture pipeline instance. Start begins a
// recording; forced-split buffers stream out on Segments while the
// recording is still live, and StopAndFinalize returns the rest.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	m      *metrics.Metrics

	startCapture startCaptureFunc
	selectDevice selectDeviceFunc

	mu        sync.Mutex
	started   bool
	sessionID string
	capture   captureSource
	selection audio.Selection

	buf       *ring.Buffer
	resampler *resample.Resampler
	segmenter *vad.Segmenter
	manager   *record.Manager

	eager    chan record.FinalizedBuffer
	deferred []record.FinalizedBuffer
	stopCh   chan struct{}
	doneCh   chan struct{}
	frames   []ring.Frame
}

// NewEngine constructs a pipeline engine from runtime config.
func NewEngine(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	detector := vad.NewDetector(cfg.VAD.Threshold)
	segCfg := vad.SegmenterConfig{
		Hangover:   time.Duration(cfg.VAD.HangoverMS) * time.Millisecond,
		MinSpeech:  time.Duration(cfg.VAD.MinSpeechMS) * time.Millisecond,
		MaxSegment: time.Duration(cfg.Session.MaxDurationSec) * time.Second,
	}

	ringFrames := cfg.Audio.RingBufferMS / 20
	if ringFrames < 4 {
		ringFrames = 4
	}

	return &Engine{
		cfg:    cfg,
		logger: logger,
		m:      m,
		startCapture: func(ctx context.Context, selected audio.Device, sampleRate, channels int, buf *ring.Buffer, m *metrics.Metrics) (captureSource, error) {
			return audio.StartCapture(ctx, selected, sampleRate, channels, buf, m)
		},
		selectDevice: audio.SelectDevice,
		buf:          ring.New(ringFrames),
		resampler:    resample.New(),
		segmenter:    vad.NewSegmenter(detector, segCfg),
		manager:      record.NewManager(logger),
		eager:        make(chan record.FinalizedBuffer, 8),
	}
}

// State reports the session state for status queries.
func (e *Engine) State() string {
	return string(e.manager.State())
}

// Segments streams forced-split buffers finalized while recording is
// still in progress.
func (e *Engine) Segments() <-chan record.FinalizedBuffer {
	return e.eager
}

// Start resolves the input device, opens capture, and begins processing.
func (e *Engine) Start(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return "", fmt.Errorf("pipeline already started")
	}

	sessionID, err := e.manager.Start()
	if err != nil {
		return "", err
	}

	selection, err := e.selectDevice(ctx, e.cfg.Audio.Input, e.cfg.Audio.Fallback)
	if err != nil {
		e.manager.Fail(err)
		return "", err
	}
	e.selection = selection
	if selection.Warning != "" {
		e.logger.Warn(selection.Warning)
	}

	capture, err := e.startCapture(ctx, selection.Device, e.cfg.Audio.SampleRate, e.cfg.Audio.Channels, e.buf, e.m)
	if err != nil {
		e.manager.Fail(err)
		return "", err
	}

	e.capture = capture
	e.sessionID = sessionID
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.started = true
	go e.loop(e.stopCh, e.doneCh)

	e.logger.Info("recording started",
		"session_id", sessionID,
		"device", describeDevice(selection.Device),
		"sample_rate", e.cfg.Audio.SampleRate,
		"channels", e.cfg.Audio.Channels)
	return sessionID, nil
}

// StopAndFinalize halts capture, processes everything still buffered, and
// returns the remaining finalized buffers in order.
func (e *Engine) StopAndFinalize(_ context.Context) ([]record.FinalizedBuffer, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, record.ErrNoActiveSession
	}
	capture := e.capture
	stopCh := e.stopCh
	doneCh := e.doneCh
	e.mu.Unlock()

	_ = capture.Stop()
	close(stopCh)
	<-doneCh

	e.mu.Lock()
	defer e.mu.Unlock()

	// Everything Pulse delivered before Stop is still in the ring.
	e.drainOnce()
	for _, chunk := range e.resampler.Flush() {
		e.handleChunk(chunk)
	}
	if seg, ok := e.segmenter.Finish(); ok {
		e.emitSegment(seg)
	}

	sessionID := e.sessionID
	buffers, err := e.manager.Stop()
	if err != nil {
		e.resetLocked()
		return nil, err
	}

	// Forced splits the consumer never took come back with the tail
	// buffers instead of leaking into the next session.
	if pending := e.collectEagerLocked(); len(pending) > 0 {
		buffers = append(pending, buffers...)
	}
	e.resetLocked()

	e.logger.Info("recording stopped",
		"session_id", sessionID,
		"segments", len(buffers),
		"bytes_captured", capture.BytesCaptured())
	for _, buf := range buffers {
		e.dumpAudio(buf)
	}
	return buffers, nil
}

// Cancel discards the active recording without producing buffers.
func (e *Engine) Cancel(_ context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return record.ErrNoActiveSession
	}
	capture := e.capture
	stopCh := e.stopCh
	doneCh := e.doneCh
	e.mu.Unlock()

	_ = capture.Stop()
	close(stopCh)
	<-doneCh

	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.manager.Cancel()
	e.resetLocked()
	return err
}

// loop drains the ring on a fixed tick until stopped.
func (e *Engine) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			e.drainOnce()
			e.mu.Unlock()
		}
	}
}

// drainOnce consumes every buffered frame; the caller holds the lock.
func (e *Engine) drainOnce() {
	e.frames = e.buf.Drain(e.frames[:0])
	for _, frame := range e.frames {
		chunks, err := e.resampler.Process(frame)
		if err != nil {
			e.logger.Warn("dropping malformed frame", "seq", frame.Seq, "error", err)
			continue
		}
		for _, chunk := range chunks {
			e.handleChunk(chunk)
		}
	}
}

func (e *Engine) handleChunk(chunk resample.Chunk) {
	e.m.ChunksProduced.Inc()
	segments := e.segmenter.Push(chunk)
	if e.segmenter.Speaking() {
		e.m.SpeechChunks.Inc()
	}
	for _, seg := range segments {
		e.emitSegment(seg)
	}
}

// emitSegment records the segment and publishes it immediately when the
// session manager finalized it eagerly (forced splits).
func (e *Engine) emitSegment(seg vad.Segment) {
	e.m.SegmentsEmitted.Inc()
	e.m.SegmentDuration.Observe(seg.Duration().Seconds())

	buf, eager, err := e.manager.Append(seg)
	if err != nil {
		e.logger.Error("append segment failed", "segment", seg.Index, "error", err)
		return
	}
	if !eager {
		return
	}

	e.dumpAudio(buf)
	select {
	case e.eager <- buf:
	default:
		// Consumer is behind; hold the buffer and hand it over at stop.
		e.deferred = append(e.deferred, buf)
		e.logger.Warn("eager segment queue full; deferring to stop",
			"session_id", buf.SessionID, "segment", buf.Segment)
	}
}

// collectEagerLocked takes back every forced-split buffer still queued or
// deferred; the caller holds the lock.
func (e *Engine) collectEagerLocked() []record.FinalizedBuffer {
	var out []record.FinalizedBuffer
	for {
		select {
		case buf := <-e.eager:
			out = append(out, buf)
		default:
			out = append(out, e.deferred...)
			e.deferred = nil
			return out
		}
	}
}

// resetLocked prepares the pipeline for the next session.
func (e *Engine) resetLocked() {
	e.started = false
	e.capture = nil
	e.sessionID = ""
	e.resampler = resample.New()
	e.segmenter.Reset()
	e.buf.Drain(nil)
	e.deferred = nil
	for {
		select {
		case <-e.eager:
		default:
			return
		}
	}
}

// dumpAudio writes a finalized buffer as WAV when debug.audio_dump is on.
func (e *Engine) dumpAudio(buf record.FinalizedBuffer) {
	if !e.cfg.Debug.AudioDump {
		return
	}

	payload, err := wav.Encode(buf)
	if err != nil {
		e.logger.Warn("unable to encode debug audio dump", "error", err)
		return
	}

	dir, err := debugDumpDir()
	if err != nil {
		e.logger.Warn("unable to resolve debug dump dir", "error", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%03d.wav", buf.SessionID, buf.Segment))
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		e.logger.Warn("unable to write debug audio dump", "path", path, "error", err)
	}
}

// debugDumpDir creates and returns state/echoes/debug.
func debugDumpDir() (string, error) {
	stateDir := strings.TrimSpace(os.Getenv("XDG_STATE_HOME"))
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory for state: %w", err)
		}
		stateDir = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(stateDir, "echoes", "debug")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}
	return dir, nil
}

// describeDevice formats device metadata for logs and status output.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}
