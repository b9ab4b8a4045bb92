package playback

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Null discards audio but keeps playback timing, for headless runs and tests.
type Null struct {
	log zerolog.Logger

	mu     sync.Mutex
	volume float64
	plays  int
}

func NewNull(log zerolog.Logger) *Null {
	return &Null{log: log, volume: 1}
}

func (n *Null) Play(samples []float32, sampleRate int) (Handle, error) {
	n.mu.Lock()
	n.plays++
	n.mu.Unlock()

	h := &nullHandle{done: make(chan struct{})}
	var length time.Duration
	if sampleRate > 0 {
		length = time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	}
	h.arm(length)
	n.log.Debug().Dur("duration", length).Msg("Discarding playback")
	return h, nil
}

func (n *Null) SetVolume(volume float64) {
	n.mu.Lock()
	n.volume = clampVolume(volume)
	n.mu.Unlock()
}

func (n *Null) Volume() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.volume
}

// Plays counts calls to Play.
func (n *Null) Plays() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.plays
}

func (n *Null) Close() error { return nil }

type nullHandle struct {
	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
	once  sync.Once
}

// arm schedules Stop after length. Stop waits on mu, so a timer that fires
// before the assignment still sees it.
func (h *nullHandle) arm(length time.Duration) {
	h.mu.Lock()
	h.timer = time.AfterFunc(length, h.Stop)
	h.mu.Unlock()
}

func (h *nullHandle) Stop() {
	h.once.Do(func() {
		h.mu.Lock()
		if h.timer != nil {
			h.timer.Stop()
		}
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *nullHandle) Done() <-chan struct{} { return h.done }
