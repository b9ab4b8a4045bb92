package playback

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImplementsOutput(t *testing.T) {
	var _ Output = (*Oto)(nil)
	var _ Output = (*Null)(nil)
}

func TestNullStopsAfterDuration(t *testing.T) {
	n := NewNull(zerolog.Nop())
	h, err := n.Play(make([]float32, 480), 48000)
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not stop on its own")
	}
	assert.Equal(t, 1, n.Plays())
}

func TestNullStopIsIdempotent(t *testing.T) {
	n := NewNull(zerolog.Nop())
	h, err := n.Play(make([]float32, 48000*10), 48000)
	require.NoError(t, err)

	h.Stop()
	h.Stop()

	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestNullZeroLengthPlayback(t *testing.T) {
	n := NewNull(zerolog.Nop())

	for i := 0; i < 2000; i++ {
		samples := make([]float32, i%2)
		h, err := n.Play(samples, 48000)
		require.NoError(t, err)

		select {
		case <-h.Done():
		case <-time.After(time.Second):
			t.Fatalf("play %d: zero or one sample playback never finished", i)
		}
		h.Stop()
	}
	assert.Equal(t, 2000, n.Plays())
}

func TestSetVolumeClamps(t *testing.T) {
	n := NewNull(zerolog.Nop())
	n.SetVolume(1.5)
	assert.Equal(t, 1.0, n.Volume())
	n.SetVolume(-1)
	assert.Equal(t, 0.0, n.Volume())
	n.SetVolume(0.25)
	assert.Equal(t, 0.25, n.Volume())
}

func TestEncodeInt16(t *testing.T) {
	out := encodeInt16([]float32{0, 1, -1, 2, 0.5}, 1)
	require.Len(t, out, 10)

	sample := func(i int) int16 { return int16(binary.LittleEndian.Uint16(out[i*2:])) }
	assert.Equal(t, int16(0), sample(0))
	assert.Equal(t, int16(32767), sample(1))
	assert.Equal(t, int16(-32767), sample(2))
	assert.Equal(t, int16(32767), sample(3), "clipped")
	assert.Equal(t, int16(16384), sample(4))
}

func TestEncodeInt16AppliesVolume(t *testing.T) {
	out := encodeInt16([]float32{1}, 0.5)
	assert.Equal(t, int16(16384), int16(binary.LittleEndian.Uint16(out)))
}
