package looper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/petems/jammin/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrDisconnected means the recorder task is gone. A session that returns it
// cannot recover and has to be recreated.
var ErrDisconnected = errors.New("recorder disconnected")

// ToggleRecording asks the recorder to start or stop capturing.
type ToggleRecording struct{}

// RecorderState is the recording state machine position.
type RecorderState int

const (
	Inactive RecorderState = iota
	Recording
	// MarkedInactive means a stop was requested but payloads up to the stop
	// time may still arrive.
	MarkedInactive
)

func (s RecorderState) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Recording:
		return "Recording"
	case MarkedInactive:
		return "MarkedInactive"
	default:
		return "Unknown"
	}
}

// StateMessage is sent by the recorder when it starts recording and when a
// loop is complete. Loop is only set for Inactive.
type StateMessage struct {
	State RecorderState
	Loop  Loop
}

// Loop is a captured mono buffer.
type Loop struct {
	Samples    []float32
	SampleRate int
}

// NewSilentLoop returns a zeroed loop of the given length.
func NewSilentLoop(sampleRate int, length time.Duration) Loop {
	n := int(math.Round(length.Seconds() * float64(sampleRate)))
	if n < 0 {
		n = 0
	}
	return Loop{Samples: make([]float32, n), SampleRate: sampleRate}
}

func (l Loop) Len() int { return len(l.Samples) }

func (l Loop) Duration() time.Duration {
	if l.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(l.Samples)) / float64(l.SampleRate) * float64(time.Second))
}

// Peak returns the sample with the largest magnitude, keeping its sign.
func (l Loop) Peak() float32 {
	var peak float32
	for _, s := range l.Samples {
		if abs32(s) > abs32(peak) {
			peak = s
		}
	}
	return peak
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// RecorderConfig holds the inputs and limits of a LoopRecorder.
type RecorderConfig struct {
	SampleRate int
	// Capacity of the capture buffer.
	CaptureDuration time.Duration

	Payloads <-chan Payload
	Toggles  <-chan ToggleRecording
	States   chan<- StateMessage

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// LoopRecorder owns the capture buffer and runs the recording state machine.
// All of its state is confined to the goroutine calling Run.
type LoopRecorder struct {
	payloads <-chan Payload
	toggles  <-chan ToggleRecording
	states   chan<- StateMessage

	sampleRate int
	buffer     []float32
	position   int
	state      RecorderState
	started    time.Time
	stopped    time.Time

	now     func() time.Time
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewLoopRecorder(cfg RecorderConfig) *LoopRecorder {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	capacity := int(math.Round(cfg.CaptureDuration.Seconds() * float64(cfg.SampleRate)))
	if capacity < 0 {
		capacity = 0
	}
	t := now()
	return &LoopRecorder{
		payloads:   cfg.Payloads,
		toggles:    cfg.Toggles,
		states:     cfg.States,
		sampleRate: cfg.SampleRate,
		buffer:     make([]float32, capacity),
		state:      Inactive,
		started:    t,
		stopped:    t,
		now:        now,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Run services toggles and payloads until an input channel is closed or ctx
// is cancelled. It always returns an error wrapping ErrDisconnected.
func (r *LoopRecorder) Run(ctx context.Context) error {
	for {
		select {
		case _, ok := <-r.toggles:
			if !ok {
				r.log.Error().Msg("Toggle receiver disconnected")
				return fmt.Errorf("toggle channel closed: %w", ErrDisconnected)
			}
			r.log.Info().Msg("Toggle received")
			if err := r.toggle(ctx); err != nil {
				return err
			}
		case payload, ok := <-r.payloads:
			if !ok {
				r.log.Error().Msg("Recorder receiver disconnected")
				return fmt.Errorf("payload channel closed: %w", ErrDisconnected)
			}
			if err := r.handlePayload(ctx, payload); err != nil {
				return err
			}
		case <-ctx.Done():
			r.log.Debug().Err(ctx.Err()).Msg("Recorder cancelled")
			return fmt.Errorf("%v: %w", ctx.Err(), ErrDisconnected)
		}
	}
}

func (r *LoopRecorder) toggle(ctx context.Context) error {
	switch r.state {
	case Inactive:
		r.log.Debug().Msg("Toggling from inactive to recording")
		r.started = r.now()
		r.setState(Recording)
		if err := r.notify(ctx, StateMessage{State: Recording}); err != nil {
			r.log.Error().Msg("Failed sending recording state")
			return err
		}
	case Recording:
		r.log.Debug().Msg("Toggling from recording to marked inactive")
		r.stopped = r.now()
		r.setState(MarkedInactive)
	case MarkedInactive:
	}
	return nil
}

func (r *LoopRecorder) handlePayload(ctx context.Context, payload Payload) error {
	switch r.state {
	case Recording:
		r.log.Trace().Int("frames", payload.Frames()).Msg("Recording payload")
		if payload.Stop.Before(r.started) {
			r.log.Warn().
				Time("payload_stop", payload.Stop).
				Time("started", r.started).
				Msg("Payload not in recording range")
			r.metrics.PayloadDiscarded()
			return nil
		}
		_, after := r.splitBuffer(payload, r.started)
		r.copyToBuffer(after)
		r.metrics.PayloadRecorded(r.position)

	case MarkedInactive:
		r.log.Trace().Int("frames", payload.Frames()).Msg("Recording payload while marked inactive")
		if payload.Start.After(r.stopped) {
			samples := r.position
			loop := r.flush()
			r.log.Debug().
				Int("samples", samples).
				Float32("peak", loop.Peak()).
				Msg("Flushing loop and switching state to inactive")
			r.setState(Inactive)
			r.metrics.LoopCompleted(loop.Duration())
			if err := r.notify(ctx, StateMessage{State: Inactive, Loop: loop}); err != nil {
				r.log.Error().Msg("State receiver disconnected")
				return err
			}
			return nil
		}
		before, _ := r.splitBuffer(payload, r.stopped)
		r.copyToBuffer(before)
		r.metrics.PayloadRecorded(r.position)

	case Inactive:
	}
	return nil
}

func (r *LoopRecorder) notify(ctx context.Context, msg StateMessage) error {
	select {
	case r.states <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("state notification dropped: %w", ErrDisconnected)
	}
}

func (r *LoopRecorder) setState(s RecorderState) {
	r.state = s
	r.metrics.StateChanged(int(s))
}

// splitBuffer splits channel 0 of the payload at cut. The index is clamped
// to [0, frames-1].
func (r *LoopRecorder) splitBuffer(payload Payload, cut time.Time) ([]float32, []float32) {
	if len(payload.Channels) == 0 {
		return nil, nil
	}
	samples := payload.Channels[0]
	index := splitIndex(r.sampleRate, payload.Start, cut, len(samples))
	r.log.Trace().Int("index", index).Msg("Splitting buffer")
	return samples[:index], samples[index:]
}

func splitIndex(sampleRate int, start, cut time.Time, length int) int {
	if length == 0 {
		return 0
	}
	elapsed := cut.Sub(start).Nanoseconds()
	index := float64(sampleRate) * float64(elapsed) / 1e9
	switch {
	case index <= 0:
		return 0
	case index >= float64(length-1):
		return length - 1
	default:
		return int(index)
	}
}

// copyToBuffer appends samples at the write cursor. When they do not fit,
// the oldest samples are shifted out so the buffer always ends with the most
// recent writes and the cursor stays at capacity.
func (r *LoopRecorder) copyToBuffer(samples []float32) {
	capacity := len(r.buffer)
	end := r.position + len(samples)
	if end <= capacity {
		r.log.Trace().Int("from", r.position).Int("to", end).Msg("Copying to buffer")
		copy(r.buffer[r.position:], samples)
		r.position = end
		return
	}

	overflow := end - capacity
	r.log.Trace().Int("len", len(samples)).Int("overflow", overflow).Msg("Copying to buffer with overflow")
	if len(samples) >= capacity {
		copy(r.buffer, samples[len(samples)-capacity:])
	} else {
		kept := copy(r.buffer, r.buffer[overflow:r.position])
		copy(r.buffer[kept:], samples)
	}
	r.position = capacity
}

// flush returns the captured samples and clears the buffer.
func (r *LoopRecorder) flush() Loop {
	loop := Loop{
		Samples:    make([]float32, r.position),
		SampleRate: r.sampleRate,
	}
	copy(loop.Samples, r.buffer[:r.position])
	clear(r.buffer)
	r.position = 0
	return loop
}
