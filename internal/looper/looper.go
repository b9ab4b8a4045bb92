package looper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petems/jammin/internal/metrics"
	"github.com/petems/jammin/internal/playback"
	"github.com/petems/jammin/internal/queue"
	"github.com/rs/zerolog"
)

const (
	DefaultCaptureDuration  = 60 * time.Second
	DefaultSnapshotDuration = 30 * time.Second
)

type Config struct {
	SampleRate       int
	CaptureDuration  time.Duration
	SnapshotDuration time.Duration
	Output           playback.Output
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
	// Now defaults to time.Now. It anchors chunk timecodes and toggle times.
	Now func() time.Time
}

// Looper is one recording session. Device chunks go in through Deliver; the
// UI drives it with ToggleRecording and Oneshot. A Looper is safe for
// concurrent use.
type Looper struct {
	id         string
	log        zerolog.Logger
	metrics    *metrics.Metrics
	sampleRate int
	started    time.Time

	factoryMu sync.Mutex
	factory   *PayloadFactory

	payloads *queue.Unbounded[Payload]
	toggles  chan ToggleRecording
	states   chan StateMessage
	inflight chan struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
	closeOnce sync.Once

	mu       sync.Mutex
	state    RecorderState
	snapshot Loop
	playing  playback.Handle
	output   playback.Output
}

// New starts a session and its recorder task.
func New(cfg Config) (*Looper, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Output == nil {
		return nil, errors.New("output is required")
	}
	if cfg.CaptureDuration <= 0 {
		cfg.CaptureDuration = DefaultCaptureDuration
	}
	if cfg.SnapshotDuration < 0 {
		cfg.SnapshotDuration = 0
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	id := uuid.NewString()
	log := cfg.Logger.With().Str("session", id).Logger()

	l := &Looper{
		id:         id,
		log:        log,
		metrics:    cfg.Metrics,
		sampleRate: cfg.SampleRate,
		// The device does not report when it started, so the session start
		// is taken when the looper is created.
		started:  now(),
		factory:  NewPayloadFactory(log),
		payloads: queue.NewUnbounded[Payload](),
		toggles:  make(chan ToggleRecording, 1),
		states:   make(chan StateMessage, 1),
		inflight: make(chan struct{}, 1),
		done:     make(chan struct{}),
		state:    Inactive,
		snapshot: NewSilentLoop(cfg.SampleRate, cfg.SnapshotDuration),
		output:   cfg.Output,
	}

	recorder := NewLoopRecorder(RecorderConfig{
		SampleRate:      cfg.SampleRate,
		CaptureDuration: cfg.CaptureDuration,
		Payloads:        l.payloads.Out(),
		Toggles:         l.toggles,
		States:          l.states,
		Logger:          log,
		Metrics:         cfg.Metrics,
		Now:             now,
	})

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go func() {
		l.runErr = recorder.Run(ctx)
		if ctx.Err() != nil {
			l.log.Debug().Err(l.runErr).Msg("Recorder stopped")
		} else {
			l.log.Error().Err(l.runErr).Msg("Recorder stopped")
		}
		close(l.done)
	}()

	l.log.Info().
		Int("sample_rate", cfg.SampleRate).
		Dur("capture", cfg.CaptureDuration).
		Msg("Looper started")

	return l, nil
}

// ID identifies the session in logs.
func (l *Looper) ID() string { return l.id }

// SessionStart is the anchor for chunk timecodes.
func (l *Looper) SessionStart() time.Time { return l.started }

func (l *Looper) SampleRate() int { return l.sampleRate }

// Deliver decodes a device chunk and queues it for the recorder. It never
// blocks on the recorder. Chunks that fail to decode are logged and dropped.
func (l *Looper) Deliver(chunk EncodedChunk) {
	l.log.Trace().Int("len", len(chunk.Data)).Msg("Received buffer")
	l.metrics.ChunkReceived()

	l.factoryMu.Lock()
	payload, err := l.factory.Load(l.sampleRate, l.started, chunk)
	l.factoryMu.Unlock()
	if err != nil {
		l.log.Error().Err(err).Msg("Failed creating payload")
		l.metrics.DecodeError(decodeErrorKind(err))
		return
	}

	if !l.payloads.Push(payload) {
		l.log.Error().Msg("Error sending recorder data through channel: queue closed")
	}
}

func decodeErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNoHeader):
		return "no_header"
	case errors.Is(err, ErrTimeOverflow):
		return "time_overflow"
	default:
		return "malformed"
	}
}

// ToggleRecording starts or stops recording and waits for the recorder to
// acknowledge. Stopping waits until the loop is complete and stores it as
// the current snapshot. Only one toggle is in flight per session.
//
// If ctx ends after the toggle was sent, the acknowledgement is still
// consumed in the background so a later toggle never sees a stale one.
func (l *Looper) ToggleRecording(ctx context.Context) error {
	l.log.Debug().Msg("Toggled recording")

	select {
	case l.inflight <- struct{}{}:
	case <-l.done:
		return l.disconnected()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case l.toggles <- ToggleRecording{}:
	case <-l.done:
		<-l.inflight
		return l.disconnected()
	case <-ctx.Done():
		<-l.inflight
		return ctx.Err()
	}

	l.mu.Lock()
	if l.state == Recording {
		l.state = MarkedInactive
	}
	l.mu.Unlock()

	select {
	case msg := <-l.states:
		l.accept(msg)
		<-l.inflight
		return nil
	case <-l.done:
		err := l.drainAfterStop()
		<-l.inflight
		return err
	case <-ctx.Done():
		go func() {
			select {
			case msg := <-l.states:
				l.accept(msg)
			case <-l.done:
				_ = l.drainAfterStop()
			}
			<-l.inflight
		}()
		return ctx.Err()
	}
}

// drainAfterStop picks up a notification the recorder sent right before
// stopping.
func (l *Looper) drainAfterStop() error {
	select {
	case msg := <-l.states:
		l.accept(msg)
		return nil
	default:
		return l.disconnected()
	}
}

func (l *Looper) accept(msg StateMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = msg.State
	if msg.State != Inactive {
		return
	}
	l.log.Debug().
		Float32("peak", msg.Loop.Peak()).
		Dur("duration", msg.Loop.Duration()).
		Msg("Received buffer")
	l.snapshot = msg.Loop
}

// Oneshot plays the current snapshot once, stopping any previous one-shot.
// A silent snapshot is not played.
func (l *Looper) Oneshot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return l.disconnected()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.playing != nil {
		l.log.Debug().Msg("Stopping previous oneshot")
		l.playing.Stop()
		l.playing = nil
	}

	snapshot := l.snapshot
	peak := snapshot.Peak()
	l.log.Debug().
		Float32("peak", peak).
		Dur("duration", snapshot.Duration()).
		Msg("Oneshot")

	if snapshot.Len() == 0 || peak == 0 {
		return nil
	}

	handle, err := l.output.Play(snapshot.Samples, snapshot.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to start oneshot: %w", err)
	}
	l.playing = handle
	l.metrics.OneshotStarted()
	return nil
}

// Snapshot returns the most recent loop.
func (l *Looper) Snapshot() Loop {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot
}

// State returns the recorder state as last observed by the session.
func (l *Looper) State() RecorderState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed once the recorder task has stopped.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}

// Close stops the recorder task and any playback. Every later operation
// fails with ErrDisconnected.
func (l *Looper) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		l.payloads.Discard()
		<-l.done

		l.mu.Lock()
		if l.playing != nil {
			l.playing.Stop()
			l.playing = nil
		}
		l.mu.Unlock()

		l.log.Info().Msg("Looper closed")
	})
	return nil
}

func (l *Looper) disconnected() error {
	if l.runErr != nil && errors.Is(l.runErr, ErrDisconnected) {
		return l.runErr
	}
	return ErrDisconnected
}
