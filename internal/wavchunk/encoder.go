package wavchunk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// HeaderSize is the size of a canonical RIFF/WAVE header.
	HeaderSize = 44

	formatPCM   = 1
	formatFloat = 3
)

// Header is the canonical 44-byte WAV header.
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16
	AudioFormat   uint16  // 1 PCM, 3 IEEE float
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// NewHeader builds a header describing dataSize bytes of interleaved samples.
// 32-bit depth is written as IEEE float, everything else as integer PCM.
func NewHeader(sampleRate, channels, bitDepth int, dataSize uint32) Header {
	format := uint16(formatPCM)
	if bitDepth == 32 {
		format = formatFloat
	}
	blockAlign := uint16(channels * bitDepth / 8)
	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   format,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: uint16(bitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// Bytes serializes the header little-endian.
func (h Header) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	// Writes into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// Chunk is one delivery unit: encoded bytes plus seconds since the stream
// started.
type Chunk struct {
	Data     []byte
	Timecode float64
}

type Config struct {
	SampleRate int
	Channels   int
	BitDepth   int // 16 or 32
}

// Encoder turns interleaved float32 frames into a stream of WAV chunks. The
// first chunk carries the header; later chunks are raw sample data.
type Encoder struct {
	cfg        Config
	blockAlign int
	frames     int64
	headerSent bool
}

func NewEncoder(cfg Config) (*Encoder, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", cfg.Channels)
	}
	if cfg.BitDepth == 0 {
		cfg.BitDepth = 16
	}
	if cfg.BitDepth != 16 && cfg.BitDepth != 32 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 32)", cfg.BitDepth)
	}
	return &Encoder{
		cfg:        cfg,
		blockAlign: cfg.Channels * cfg.BitDepth / 8,
	}, nil
}

// Encode converts whole frames of interleaved samples into a chunk. Trailing
// samples that do not fill a frame are dropped.
func (e *Encoder) Encode(samples []float32) Chunk {
	frames := len(samples) / e.cfg.Channels
	samples = samples[:frames*e.cfg.Channels]
	dataSize := frames * e.blockAlign

	var buf bytes.Buffer
	if !e.headerSent {
		buf.Grow(HeaderSize + dataSize)
		buf.Write(NewHeader(e.cfg.SampleRate, e.cfg.Channels, e.cfg.BitDepth, uint32(dataSize)).Bytes())
		e.headerSent = true
	} else {
		buf.Grow(dataSize)
	}

	var scratch [4]byte
	for _, s := range samples {
		if e.cfg.BitDepth == 32 {
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(s))
			buf.Write(scratch[:4])
			continue
		}
		binary.LittleEndian.PutUint16(scratch[:], uint16(floatToInt16(s)))
		buf.Write(scratch[:2])
	}

	chunk := Chunk{
		Data:     buf.Bytes(),
		Timecode: float64(e.frames) / float64(e.cfg.SampleRate),
	}
	e.frames += int64(frames)
	return chunk
}

// Restart begins a new stream whose first chunk is self-describing and
// stamped at offset from the session start.
func (e *Encoder) Restart(offset time.Duration) {
	e.frames = 0
	if offset > 0 {
		e.frames = int64(math.Round(offset.Seconds() * float64(e.cfg.SampleRate)))
	}
	e.headerSent = false
}

// Skip advances the timecode past frames the device never delivered.
func (e *Encoder) Skip(frames int) {
	if frames > 0 {
		e.frames += int64(frames)
	}
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(math.Round(float64(s) * math.MaxInt16))
}
