// Package session coordinates the dictation lifecycle: trigger edges in,
// recording and dispatch in the middle, committed transcript out.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/dispatch"
	"github.com/sengokudaikon/echoes/internal/ipc"
	"github.com/sengokudaikon/echoes/internal/metrics"
	"github.com/sengokudaikon/echoes/internal/notify"
	"github.com/sengokudaikon/echoes/internal/record"
	"github.com/sengokudaikon/echoes/internal/transcript"
	"github.com/sengokudaikon/echoes/internal/trigger"
)

// Engine abstracts the capture pipeline for the controller.
type Engine interface {
	Start(context.Context) (string, error)
	StopAndFinalize(context.Context) ([]record.FinalizedBuffer, error)
	Cancel(context.Context) error
	Segments() <-chan record.FinalizedBuffer
	State() string
}

// Dispatcher abstracts transcription submission.
type Dispatcher interface {
	Submit(context.Context, dispatch.Request) *dispatch.Pending
}

// Committer persists a transcript when a session completes.
type Committer interface {
	Commit(context.Context, string) error
}

// activeSession tracks one recording from start through commit.
type activeSession struct {
	id        string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	stopEager chan struct{}
	eagerDone chan struct{}
	stopOnce  sync.Once

	mu       sync.Mutex
	pendings []*dispatch.Pending
}

// haltEager stops the eager consumer without cancelling in-flight work.
func (s *activeSession) haltEager() {
	s.stopOnce.Do(func() { close(s.stopEager) })
}

func (s *activeSession) addPending(p *dispatch.Pending) {
	s.mu.Lock()
	s.pendings = append(s.pendings, p)
	s.mu.Unlock()
}

func (s *activeSession) takePendings() []*dispatch.Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendings
	s.pendings = nil
	return out
}

// Controller orchestrates session state and side effects. It is the IPC
// handler for the daemon control socket.
type Controller struct {
	cfg        config.Config
	logger     *slog.Logger
	engine     Engine
	dispatcher Dispatcher
	committer  Committer
	notifier   notify.Notifier
	trig       *trigger.Machine
	m          *metrics.Metrics

	mu         sync.Mutex
	recording  *activeSession
	finalizing *activeSession
	wg         sync.WaitGroup
}

// NewController wires the session orchestration.
func NewController(
	cfg config.Config,
	logger *slog.Logger,
	engine Engine,
	dispatcher Dispatcher,
	committer Committer,
	notifier notify.Notifier,
	m *metrics.Metrics,
) *Controller {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Controller{
		cfg:        cfg,
		logger:     logger,
		engine:     engine,
		dispatcher: dispatcher,
		committer:  committer,
		notifier:   notifier,
		trig: trigger.New(
			cfg.Session.TriggerMode,
			time.Duration(cfg.Session.TriggerDebounceMS)*time.Millisecond,
		),
		m: m,
	}
}

// Handle serves one control-socket command.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{OK: true, State: c.engine.State(), SessionID: c.sessionID(), Message: "status"}
	case ipc.CommandPress:
		return c.apply(ctx, c.trig.Press())
	case ipc.CommandRelease:
		return c.apply(ctx, c.trig.Release())
	case ipc.CommandCancel:
		return c.apply(ctx, c.trig.Cancel())
	default:
		return ipc.Response{OK: false, State: c.engine.State(), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// sessionID reports the session currently recording or finalizing.
func (c *Controller) sessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording != nil {
		return c.recording.id
	}
	if c.finalizing != nil {
		return c.finalizing.id
	}
	return ""
}

// Wait blocks until all in-flight finalizations complete. Used at daemon
// shutdown so a committed transcript is never lost to process exit.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) apply(ctx context.Context, action trigger.Action) ipc.Response {
	switch action {
	case trigger.ActionStart:
		return c.startRecording(ctx)
	case trigger.ActionStop:
		return c.stopRecording()
	case trigger.ActionCancel:
		return c.cancelRecording()
	default:
		return ipc.Response{OK: true, State: c.engine.State(), Message: "ignored"}
	}
}

func (c *Controller) startRecording(ctx context.Context) ipc.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording != nil {
		c.trig.NotifyStopped()
		return ipc.Response{OK: false, State: c.engine.State(), Error: "a recording session is already active"}
	}

	sessionID, err := c.engine.Start(ctx)
	if err != nil {
		c.trig.NotifyStopped()
		c.notifier.Error(ctx, "unable to start recording")
		return ipc.Response{OK: false, State: c.engine.State(), Error: err.Error()}
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &activeSession{
		id:        sessionID,
		startedAt: time.Now(),
		ctx:       sessCtx,
		cancel:    cancel,
		stopEager: make(chan struct{}),
		eagerDone: make(chan struct{}),
	}
	c.recording = sess

	// Forced splits dispatch while the key is still held.
	c.wg.Add(1)
	go c.consumeEager(sess)

	c.notifier.Recording(ctx)
	return ipc.Response{OK: true, State: c.engine.State(), SessionID: sessionID, Message: "recording started"}
}

func (c *Controller) stopRecording() ipc.Response {
	c.mu.Lock()
	sess := c.recording
	c.recording = nil
	if sess != nil {
		c.finalizing = sess
	}
	c.mu.Unlock()

	if sess == nil {
		return ipc.Response{OK: false, State: c.engine.State(), Error: "no active recording session"}
	}

	c.wg.Add(1)
	go c.finalize(sess)
	return ipc.Response{OK: true, State: c.engine.State(), SessionID: sess.id, Message: "stop requested"}
}

func (c *Controller) cancelRecording() ipc.Response {
	c.mu.Lock()
	sess := c.recording
	c.recording = nil
	if sess == nil {
		// A cancel that lands after release still kills the in-flight
		// transcription; its result must never be committed.
		sess = c.finalizing
		c.finalizing = nil
		c.mu.Unlock()

		if sess == nil {
			return ipc.Response{OK: false, State: c.engine.State(), Error: "no active recording session"}
		}
		sess.cancel()
		c.notifier.Cancelled(context.Background())
		return ipc.Response{OK: true, State: c.engine.State(), SessionID: sess.id, Message: "transcription cancelled"}
	}
	c.mu.Unlock()

	sess.cancel()
	if err := c.engine.Cancel(context.Background()); err != nil && !errors.Is(err, record.ErrNoActiveSession) {
		c.logger.Error("cancel recording failed", "session_id", sess.id, "error", err)
	}
	c.notifier.Cancelled(context.Background())
	c.m.RecordSessionFinished("cancelled", time.Since(sess.startedAt))
	c.logger.Info("recording cancelled", "session_id", sess.id)
	return ipc.Response{OK: true, State: c.engine.State(), SessionID: sess.id, Message: "recording cancelled"}
}

// consumeEager submits forced-split buffers as they finalize.
func (c *Controller) consumeEager(sess *activeSession) {
	defer c.wg.Done()
	defer close(sess.eagerDone)
	for {
		select {
		case <-sess.stopEager:
			return
		case <-sess.ctx.Done():
			return
		case buf := <-c.engine.Segments():
			c.submit(sess, buf)
		}
	}
}

func (c *Controller) submit(sess *activeSession, buf record.FinalizedBuffer) {
	pending := c.dispatcher.Submit(sess.ctx, dispatch.Request{
		Buffer:   buf,
		Language: c.cfg.STT.Language,
	})
	sess.addPending(pending)
}

// finalize drains the pipeline, waits for every transcription, and
// commits the assembled transcript.
func (c *Controller) finalize(sess *activeSession) {
	defer c.wg.Done()
	// Released only once every pending outcome has been collected; an
	// earlier cancel (from the cancel command) discards them instead.
	defer sess.cancel()
	defer func() {
		c.mu.Lock()
		if c.finalizing == sess {
			c.finalizing = nil
		}
		c.mu.Unlock()
	}()

	ctx := context.Background()
	c.notifier.Transcribing(ctx)

	buffers, err := c.engine.StopAndFinalize(ctx)
	if err != nil {
		if errors.Is(err, record.ErrEmptyRecording) {
			c.notifier.Error(ctx, "no speech detected")
			c.m.RecordSessionFinished("empty", time.Since(sess.startedAt))
			c.logger.Info("recording stopped with no speech", "session_id", sess.id)
			return
		}
		c.notifier.Error(ctx, "recording failed")
		c.m.RecordSessionFinished("error", time.Since(sess.startedAt))
		c.logger.Error("finalize failed", "session_id", sess.id, "error", err)
		return
	}

	// Hand the channel over from the eager consumer before draining, so
	// no buffer is stranded between the two and no pending is missed.
	sess.haltEager()
	<-sess.eagerDone
	for {
		select {
		case buf := <-c.engine.Segments():
			c.submit(sess, buf)
			continue
		default:
		}
		break
	}
	for _, buf := range buffers {
		c.submit(sess, buf)
	}

	outcomes := make([]dispatch.Outcome, 0, len(buffers))
	for _, pending := range sess.takePendings() {
		outcomes = append(outcomes, <-pending.Done())
	}

	texts := make([]string, 0, len(outcomes))
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].Buffer.Segment < outcomes[j].Buffer.Segment
	})
	for _, outcome := range outcomes {
		if outcome.Discarded {
			c.m.RecordSessionFinished("cancelled", time.Since(sess.startedAt))
			c.logger.Info("session discarded after cancel", "session_id", sess.id)
			return
		}
		if outcome.Err != nil {
			c.notifier.Error(ctx, "transcription failed")
			c.m.RecordSessionFinished("error", time.Since(sess.startedAt))
			c.logger.Error("session failed",
				"session_id", sess.id,
				"segment", outcome.Buffer.Segment,
				"error", outcome.Err)
			return
		}
		texts = append(texts, outcome.Result.Text)
	}

	assembled := transcript.Assemble(texts, transcript.Options{
		TrailingSpace:       c.cfg.Output.TrailingSpace,
		CapitalizeSentences: true,
	})
	if assembled == "" {
		c.notifier.Error(ctx, "no speech detected")
		c.m.RecordSessionFinished("empty", time.Since(sess.startedAt))
		return
	}

	if err := c.committer.Commit(ctx, assembled); err != nil {
		c.notifier.Error(ctx, "output dispatch failed")
		c.m.RecordSessionFinished("error", time.Since(sess.startedAt))
		c.logger.Error("commit failed", "session_id", sess.id, "error", err)
		return
	}

	c.notifier.Done(ctx, assembled)
	c.m.RecordSessionFinished("dispatched", time.Since(sess.startedAt))
	c.logger.Info("session committed",
		"session_id", sess.id,
		"segments", len(outcomes),
		"chars", len(assembled),
		"duration", time.Since(sess.startedAt))
}
