package looper

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/petems/jammin/internal/wavchunk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWAV encodes interleaved samples with go-audio and returns the file.
func writeWAV(t *testing.T, sampleRate, bitDepth, channels int, data []int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	return out
}

func int16Bytes(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestLoadSelfDescribingChunk(t *testing.T) {
	session := time.Unix(1000, 0)
	f := NewPayloadFactory(zerolog.Nop())

	chunk := EncodedChunk{
		Data:     writeWAV(t, 8000, 16, 1, []int{0, 16384, -16384, 32767}),
		Timecode: 0.5,
	}
	p, err := f.Load(8000, session, chunk)
	require.NoError(t, err)
	require.NotNil(t, f.header)

	require.Len(t, p.Channels, 1)
	assert.InDeltaSlice(t, []float32{0, 0.5, -0.5, 0.99997}, p.Channels[0], 1e-4)
	assert.Equal(t, session.Add(500*time.Millisecond), p.Start)
	assert.Equal(t, p.Start.Add(500*time.Microsecond), p.Stop)
}

func TestLoadHeaderlessUsesCachedHeader(t *testing.T) {
	session := time.Unix(0, 0)
	f := NewPayloadFactory(zerolog.Nop())

	_, err := f.Load(8000, session, EncodedChunk{Data: writeWAV(t, 8000, 16, 1, []int{1, 2})})
	require.NoError(t, err)

	p, err := f.Load(8000, session, EncodedChunk{Data: int16Bytes(-32768, 16384), Timecode: 2.0 / 8000})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{-1, 0.5}, p.Channels[0], 1e-6)
	assert.Equal(t, session.Add(250*time.Microsecond), p.Start)
}

func TestLoadWithoutHeader(t *testing.T) {
	f := NewPayloadFactory(zerolog.Nop())

	_, err := f.Load(48000, time.Now(), EncodedChunk{Data: int16Bytes(1, 2, 3)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoHeader))
	assert.False(t, errors.Is(err, ErrMalformed))
	assert.Nil(t, f.header)
}

func TestLoadMalformed(t *testing.T) {
	valid := writeWAV(t, 8000, 16, 1, []int{1, 2})

	noFmt := append([]byte("RIFF\x00\x00\x00\x00WAVE"), []byte("data\x04\x00\x00\x00\x01\x00\x02\x00")...)

	badDepth := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(badDepth[34:36], 12)

	badAlign := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(badAlign[32:34], 3)

	tests := []struct {
		name       string
		sampleRate int
		data       []byte
	}{
		{"data before fmt", 8000, noFmt},
		{"unsupported bit depth", 8000, badDepth},
		{"inconsistent block align", 8000, badAlign},
		{"truncated header", 8000, valid[:20]},
		{"zero sample rate", 0, valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewPayloadFactory(zerolog.Nop())
			_, err := f.Load(tt.sampleRate, time.Now(), EncodedChunk{Data: tt.data})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr))
			assert.Equal(t, ErrMalformed, decErr.Kind)
		})
	}
}

func TestLoadTimeOverflow(t *testing.T) {
	data := writeWAV(t, 8000, 16, 1, []int{1, 2})

	for _, timecode := range []float64{math.Inf(1), math.NaN(), 1e300, -1e300} {
		f := NewPayloadFactory(zerolog.Nop())
		_, err := f.Load(8000, time.Now(), EncodedChunk{Data: data, Timecode: timecode})
		require.Error(t, err, "timecode %v", timecode)
		assert.True(t, errors.Is(err, ErrTimeOverflow), "timecode %v: %v", timecode, err)
	}
}

func TestLoadIsDeterministic(t *testing.T) {
	session := time.Unix(42, 0)
	chunk := EncodedChunk{Data: writeWAV(t, 44100, 16, 2, []int{100, -100, 2000, -2000, 32000, -32000}), Timecode: 1}

	a, err := NewPayloadFactory(zerolog.Nop()).Load(44100, session, chunk)
	require.NoError(t, err)
	b, err := NewPayloadFactory(zerolog.Nop()).Load(44100, session, chunk)
	require.NoError(t, err)

	require.Len(t, a.Channels, 2)
	for c := range a.Channels {
		assert.InDeltaSlice(t, a.Channels[c], b.Channels[c], 1e-9)
	}
	assert.Equal(t, a.Start, b.Start)
	assert.Equal(t, a.Stop, b.Stop)
}

func TestLoadDeinterleavesStereo(t *testing.T) {
	f := NewPayloadFactory(zerolog.Nop())
	p, err := f.Load(8000, time.Now(), EncodedChunk{Data: writeWAV(t, 8000, 16, 2, []int{16384, -16384, 8192, -8192})})
	require.NoError(t, err)

	require.Len(t, p.Channels, 2)
	assert.InDeltaSlice(t, []float32{0.5, 0.25}, p.Channels[0], 1e-6)
	assert.InDeltaSlice(t, []float32{-0.5, -0.25}, p.Channels[1], 1e-6)
	assert.Equal(t, 2, p.Frames())
}

func TestLoadCarriesPartialFrames(t *testing.T) {
	session := time.Unix(0, 0)
	f := NewPayloadFactory(zerolog.Nop())

	_, err := f.Load(8000, session, EncodedChunk{Data: writeWAV(t, 8000, 16, 2, []int{0, 0})})
	require.NoError(t, err)

	// One and a half stereo frames.
	raw := int16Bytes(16384, -16384, 8192, -8192)
	p, err := f.Load(8000, session, EncodedChunk{Data: raw[:6]})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Frames())

	p, err = f.Load(8000, session, EncodedChunk{Data: raw[6:]})
	require.NoError(t, err)
	require.Equal(t, 1, p.Frames())
	assert.InDelta(t, 0.25, p.Channels[0][0], 1e-6)
	assert.InDelta(t, -0.25, p.Channels[1][0], 1e-6)
}

func TestLoadShortChunkGivesEmptyPayload(t *testing.T) {
	session := time.Unix(0, 0)
	f := NewPayloadFactory(zerolog.Nop())
	_, err := f.Load(8000, session, EncodedChunk{Data: writeWAV(t, 8000, 16, 1, []int{0})})
	require.NoError(t, err)

	p, err := f.Load(8000, session, EncodedChunk{Data: []byte{1}, Timecode: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Frames())
	assert.Equal(t, p.Start, p.Stop)
}

func TestLoadNewHeaderReplacesCache(t *testing.T) {
	session := time.Unix(0, 0)
	f := NewPayloadFactory(zerolog.Nop())

	_, err := f.Load(8000, session, EncodedChunk{Data: writeWAV(t, 8000, 16, 1, []int{0})})
	require.NoError(t, err)
	_, err = f.Load(8000, session, EncodedChunk{Data: writeWAV(t, 8000, 16, 2, []int{0, 0})})
	require.NoError(t, err)

	p, err := f.Load(8000, session, EncodedChunk{Data: int16Bytes(16384, -16384)})
	require.NoError(t, err)
	assert.Len(t, p.Channels, 2)
	assert.Equal(t, 1, p.Frames())
}

func TestLoadFloatChunks(t *testing.T) {
	enc, err := wavchunk.NewEncoder(wavchunk.Config{SampleRate: 16000, Channels: 1, BitDepth: 32})
	require.NoError(t, err)

	f := NewPayloadFactory(zerolog.Nop())
	session := time.Unix(0, 0)

	first := enc.Encode([]float32{0.25, -0.75})
	second := enc.Encode([]float32{0.125})

	p, err := f.Load(16000, session, EncodedChunk{Data: first.Data, Timecode: first.Timecode})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.75}, p.Channels[0])

	p, err = f.Load(16000, session, EncodedChunk{Data: second.Data, Timecode: second.Timecode})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.125}, p.Channels[0])
	assert.Equal(t, session.Add(125*time.Microsecond), p.Start)
}

func TestLoadEightBit(t *testing.T) {
	header := wavchunk.NewHeader(8000, 1, 8, 3).Bytes()
	data := append(header, 128, 192, 0)

	p, err := NewPayloadFactory(zerolog.Nop()).Load(8000, time.Unix(0, 0), EncodedChunk{Data: data})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 0.5, -1}, p.Channels[0], 1e-6)
}

func TestClassifyChunk(t *testing.T) {
	assert.Equal(t, selfDescribing, classifyChunk([]byte("RIFF\x00\x00\x00\x00WAVEfmt ")))
	assert.Equal(t, headerless, classifyChunk([]byte("RIFF")))
	assert.Equal(t, headerless, classifyChunk([]byte("RIFX\x00\x00\x00\x00WAVE")))
	assert.Equal(t, headerless, classifyChunk(nil))
}
