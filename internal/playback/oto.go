package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

// Oto plays through the system output with a single oto context. oto allows
// one context per process, so the sample rate is fixed when it is created.
type Oto struct {
	otoCtx     *oto.Context
	sampleRate int
	log        zerolog.Logger

	mu     sync.Mutex
	volume float64
	closed bool
}

func NewOto(sampleRate int, log zerolog.Logger) (*Oto, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	log.Info().Int("sample_rate", sampleRate).Msg("Audio output initialized")

	return &Oto{
		otoCtx:     ctx,
		sampleRate: sampleRate,
		log:        log,
		volume:     1,
	}, nil
}

func (o *Oto) Play(samples []float32, sampleRate int) (Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, errors.New("output closed")
	}
	if sampleRate != o.sampleRate {
		return nil, fmt.Errorf("sample rate %d does not match output rate %d", sampleRate, o.sampleRate)
	}

	player := o.otoCtx.NewPlayer(bytes.NewReader(encodeInt16(samples, o.volume)))
	player.Play()

	h := &otoHandle{
		player: player,
		done:   make(chan struct{}),
		log:    o.log,
	}
	length := time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	h.mu.Lock()
	h.timer = time.AfterFunc(length, h.Stop)
	h.mu.Unlock()

	o.log.Debug().Dur("duration", length).Msg("Playback started")
	return h, nil
}

func (o *Oto) SetVolume(volume float64) {
	o.mu.Lock()
	o.volume = clampVolume(volume)
	o.mu.Unlock()
	o.log.Debug().Float64("volume", volume).Msg("Volume set")
}

func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.otoCtx.Suspend()
}

type otoHandle struct {
	player *oto.Player

	// mu guards timer, which may fire before Play stores it.
	mu    sync.Mutex
	timer *time.Timer

	done chan struct{}
	once sync.Once
	log  zerolog.Logger
}

func (h *otoHandle) Stop() {
	h.once.Do(func() {
		h.mu.Lock()
		if h.timer != nil {
			h.timer.Stop()
		}
		h.mu.Unlock()
		h.player.Pause()
		if err := h.player.Close(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to close player")
		}
		close(h.done)
	})
}

func (h *otoHandle) Done() <-chan struct{} {
	return h.done
}

// encodeInt16 applies volume and converts to signed 16-bit little endian.
func encodeInt16(samples []float32, volume float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * volume
		v = math.Max(-1, math.Min(1, v))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return out
}
