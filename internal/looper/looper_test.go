package looper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petems/jammin/internal/metrics"
	"github.com/petems/jammin/internal/playback"
	"github.com/petems/jammin/internal/wavchunk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHandle struct {
	once sync.Once
	done chan struct{}
}

func (h *mockHandle) Stop() { h.once.Do(func() { close(h.done) }) }

func (h *mockHandle) Done() <-chan struct{} { return h.done }

func (h *mockHandle) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

type mockOutput struct {
	mu      sync.Mutex
	plays   [][]float32
	handles []*mockHandle
	err     error
}

func (m *mockOutput) Play(samples []float32, sampleRate int) (playback.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	h := &mockHandle{done: make(chan struct{})}
	m.plays = append(m.plays, samples)
	m.handles = append(m.handles, h)
	return h, nil
}

func (m *mockOutput) SetVolume(float64) {}

func (m *mockOutput) Close() error { return nil }

func (m *mockOutput) playCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.plays)
}

type testSession struct {
	looper  *Looper
	output  *mockOutput
	clock   *fakeClock
	metrics *metrics.Metrics
	encoder *wavchunk.Encoder
	start   time.Time
}

func newTestSession(t *testing.T) *testSession {
	t.Helper()

	start := time.Unix(1_700_000_000, 0)
	clock := newFakeClock(start)
	out := &mockOutput{}
	m := metrics.New(prometheus.NewRegistry())

	l, err := New(Config{
		SampleRate:       1000,
		CaptureDuration:  10 * time.Second,
		SnapshotDuration: time.Second,
		Output:           out,
		Logger:           zerolog.Nop(),
		Metrics:          m,
		Now:              clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	enc, err := wavchunk.NewEncoder(wavchunk.Config{SampleRate: 1000, Channels: 1})
	require.NoError(t, err)

	return &testSession{looper: l, output: out, clock: clock, metrics: m, encoder: enc, start: start}
}

// deliver encodes frames of value at the given session offset.
func (s *testSession) deliver(offset time.Duration, frames int, value float32) {
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = value
	}
	chunk := s.encoder.Encode(samples)
	s.looper.Deliver(EncodedChunk{Data: chunk.Data, Timecode: offset.Seconds()})
}

func (s *testSession) waitRecorded(t *testing.T, n float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metrics.PayloadsRecorded) == n
	}, 2*time.Second, 5*time.Millisecond)
}

// waitStopReceived waits until a stop toggle was sent and the recorder
// took it off the channel.
func (s *testSession) waitStopReceived(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.looper.State() == MarkedInactive && len(s.looper.toggles) == 0
	}, 2*time.Second, time.Millisecond)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{SampleRate: 0, Output: &mockOutput{}, Logger: zerolog.Nop()})
	assert.Error(t, err)

	_, err = New(Config{SampleRate: 48000, Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestInitialSnapshotIsSilent(t *testing.T) {
	s := newTestSession(t)

	snap := s.looper.Snapshot()
	assert.Equal(t, 1000, snap.Len())
	assert.Equal(t, float32(0), snap.Peak())
	assert.Equal(t, Inactive, s.looper.State())

	require.NoError(t, s.looper.Oneshot(context.Background()))
	assert.Equal(t, 0, s.output.playCount())
}

func TestRecordLoopAndPlayIt(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	require.NoError(t, s.looper.ToggleRecording(ctx))
	assert.Equal(t, Recording, s.looper.State())

	s.deliver(0, 1000, 0.5)
	s.waitRecorded(t, 1)

	s.clock.Set(s.start.Add(time.Second))
	done := make(chan error, 1)
	go func() { done <- s.looper.ToggleRecording(ctx) }()
	s.waitStopReceived(t)

	select {
	case err := <-done:
		t.Fatalf("stop returned before the loop was complete: %v", err)
	default:
	}

	s.deliver(1100*time.Millisecond, 10, 0.9)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not complete")
	}

	assert.Equal(t, Inactive, s.looper.State())
	snap := s.looper.Snapshot()
	require.Equal(t, 1000, snap.Len())
	assert.InDelta(t, 0.5, snap.Peak(), 1e-4)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.LoopsCompleted))

	require.NoError(t, s.looper.Oneshot(ctx))
	require.Equal(t, 1, s.output.playCount())
	assert.Len(t, s.output.plays[0], 1000)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Oneshots))
}

func TestOneshotStopsPreviousPlayback(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	s.looper.mu.Lock()
	s.looper.snapshot = Loop{Samples: []float32{0.1, 0.2}, SampleRate: 1000}
	s.looper.mu.Unlock()

	require.NoError(t, s.looper.Oneshot(ctx))
	require.NoError(t, s.looper.Oneshot(ctx))

	require.Equal(t, 2, s.output.playCount())
	assert.True(t, s.output.handles[0].stopped())
	assert.False(t, s.output.handles[1].stopped())

	require.NoError(t, s.looper.Close())
	assert.True(t, s.output.handles[1].stopped())
}

func TestOneshotOutputError(t *testing.T) {
	s := newTestSession(t)
	s.output.err = errors.New("device busy")

	s.looper.mu.Lock()
	s.looper.snapshot = Loop{Samples: []float32{1}, SampleRate: 1000}
	s.looper.mu.Unlock()

	err := s.looper.Oneshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
}

func TestToggleRecordingCancelledWhileStopping(t *testing.T) {
	s := newTestSession(t)
	s.deliver(0, 1, 0)

	require.NoError(t, s.looper.ToggleRecording(context.Background()))

	s.clock.Set(s.start.Add(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.looper.ToggleRecording(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	s.waitStopReceived(t)

	// The loop still completes and is picked up in the background.
	s.deliver(5*time.Second, 1, 0)
	require.Eventually(t, func() bool {
		return s.looper.State() == Inactive && s.looper.Snapshot().Len() == 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.looper.ToggleRecording(context.Background()))
	assert.Equal(t, Recording, s.looper.State())
}

func TestClosedLooperIsDisconnected(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	require.NoError(t, s.looper.Close())
	require.NoError(t, s.looper.Close())

	select {
	case <-s.looper.Done():
	default:
		t.Fatal("Done not closed after Close")
	}

	assert.ErrorIs(t, s.looper.ToggleRecording(ctx), ErrDisconnected)
	assert.ErrorIs(t, s.looper.Oneshot(ctx), ErrDisconnected)

	// Delivery after close is dropped without blocking.
	s.deliver(0, 10, 0.5)
}

func TestDeliverCountsDecodeErrors(t *testing.T) {
	s := newTestSession(t)

	s.looper.Deliver(EncodedChunk{Data: []byte{1, 2, 3, 4}})
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.DecodeErrors.WithLabelValues("no_header")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ChunksReceived))

	s.deliver(0, 4, 0.1)
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.ChunksReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.DecodeErrors.WithLabelValues("no_header")))
}
