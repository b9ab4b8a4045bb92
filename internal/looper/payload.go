package looper

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
)

var (
	// ErrNoHeader means a headerless chunk arrived before any header.
	ErrNoHeader = errors.New("no header")
	// ErrMalformed means the chunk or its cached header could not be decoded.
	ErrMalformed = errors.New("malformed chunk")
	// ErrTimeOverflow means the chunk timecode is not a representable time.
	ErrTimeOverflow = errors.New("timestamp overflow")
)

// DecodeError reports why a single chunk was dropped. Kind is one of
// ErrNoHeader, ErrMalformed or ErrTimeOverflow.
type DecodeError struct {
	Kind error
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *DecodeError) Is(target error) bool { return target == e.Kind }

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodedChunk is one device callback worth of encoded audio.
type EncodedChunk struct {
	Data []byte
	// Timecode is seconds since the session started.
	Timecode float64
}

// Payload is decoded PCM with absolute start and stop timestamps.
type Payload struct {
	Channels [][]float32
	Start    time.Time
	Stop     time.Time
}

// Frames returns the number of sample frames in the payload.
func (p Payload) Frames() int {
	if len(p.Channels) == 0 {
		return 0
	}
	return len(p.Channels[0])
}

type chunkKind int

const (
	headerless chunkKind = iota
	selfDescribing
)

// classifyChunk tells a chunk opening a RIFF/WAVE container from raw sample data.
func classifyChunk(data []byte) chunkKind {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return selfDescribing
	}
	return headerless
}

type wavFormat struct {
	audioFormat int
	channels    int
	sampleRate  int
	blockAlign  int
	bitDepth    int
}

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// parseHeader walks the RIFF chunk list and returns the offset at which
// sample data starts together with the fmt chunk contents.
func parseHeader(data []byte) (int, wavFormat, error) {
	var format wavFormat
	haveFmt := false

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return 0, format, errors.New("truncated fmt chunk")
			}
			format = wavFormat{
				audioFormat: int(binary.LittleEndian.Uint16(data[body:])),
				channels:    int(binary.LittleEndian.Uint16(data[body+2:])),
				sampleRate:  int(binary.LittleEndian.Uint32(data[body+4:])),
				blockAlign:  int(binary.LittleEndian.Uint16(data[body+12:])),
				bitDepth:    int(binary.LittleEndian.Uint16(data[body+14:])),
			}
			if format.audioFormat == wavFormatExtensible && size >= 40 && body+26 <= len(data) {
				format.audioFormat = int(binary.LittleEndian.Uint16(data[body+24:]))
			}
			if err := format.validate(); err != nil {
				return 0, format, err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return 0, format, errors.New("data chunk before fmt chunk")
			}
			return body, format, nil
		}

		off = body + size + size&1
	}

	return 0, format, errors.New("no data chunk")
}

func (f wavFormat) validate() error {
	if f.channels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.channels)
	}
	switch f.bitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d", f.bitDepth)
	}
	if f.audioFormat != wavFormatPCM && f.audioFormat != wavFormatFloat {
		return fmt.Errorf("unsupported audio format: %d", f.audioFormat)
	}
	if f.audioFormat == wavFormatFloat && f.bitDepth != 32 {
		return fmt.Errorf("unsupported float bit depth: %d", f.bitDepth)
	}
	if f.blockAlign != f.channels*f.bitDepth/8 {
		return fmt.Errorf("block align %d does not match %d channels at %d bits", f.blockAlign, f.channels, f.bitDepth)
	}
	return nil
}

// PayloadFactory decodes device chunks into payloads. Only the first chunk
// of a stream has to be self-describing: its header is cached and placed in
// front of later headerless chunks. Bytes that do not complete a frame are
// carried over to the next headerless chunk.
//
// A PayloadFactory is not safe for concurrent use.
type PayloadFactory struct {
	header []byte
	format wavFormat
	carry  []byte
	log    zerolog.Logger
}

func NewPayloadFactory(log zerolog.Logger) *PayloadFactory {
	return &PayloadFactory{log: log}
}

// Load decodes one chunk. sessionStart anchors the chunk's relative timecode.
func (f *PayloadFactory) Load(sampleRate int, sessionStart time.Time, chunk EncodedChunk) (Payload, error) {
	if sampleRate <= 0 {
		return Payload{}, &DecodeError{Kind: ErrMalformed, Err: fmt.Errorf("invalid sample rate %d", sampleRate)}
	}

	var body []byte
	switch classifyChunk(chunk.Data) {
	case selfDescribing:
		headerLen, format, err := parseHeader(chunk.Data)
		if err != nil {
			return Payload{}, &DecodeError{Kind: ErrMalformed, Err: err}
		}
		f.header = append([]byte(nil), chunk.Data[:headerLen]...)
		f.format = format
		f.carry = nil
		body = chunk.Data[headerLen:]
	case headerless:
		if f.header == nil {
			return Payload{}, &DecodeError{Kind: ErrNoHeader}
		}
		body = chunk.Data
		if len(f.carry) > 0 {
			body = append(append(make([]byte, 0, len(f.carry)+len(chunk.Data)), f.carry...), chunk.Data...)
		}
	}

	whole := len(body) - len(body)%f.format.blockAlign
	f.carry = nil
	if whole < len(body) {
		f.carry = append([]byte(nil), body[whole:]...)
	}
	body = body[:whole]

	channels := make([][]float32, f.format.channels)
	if len(body) > 0 {
		decoded, err := decodePCM(f.header, f.format, body)
		if err != nil {
			return Payload{}, &DecodeError{Kind: ErrMalformed, Err: err}
		}
		channels = decoded
	} else {
		for i := range channels {
			channels[i] = []float32{}
		}
	}

	payload := Payload{Channels: channels}
	start, stop, err := payloadBounds(sessionStart, chunk.Timecode, payload.Frames(), sampleRate)
	if err != nil {
		return Payload{}, &DecodeError{Kind: ErrTimeOverflow, Err: err}
	}
	payload.Start = start
	payload.Stop = stop

	if f.format.sampleRate != sampleRate {
		f.log.Debug().
			Int("chunk_rate", f.format.sampleRate).
			Int("session_rate", sampleRate).
			Msg("Chunk sample rate differs from session")
	}

	f.log.Trace().
		Int("frames", payload.Frames()).
		Int("carry", len(f.carry)).
		Time("start", start).
		Time("stop", stop).
		Msg("Created payload")

	return payload, nil
}

// decodePCM reassembles a standalone WAV from the cached header and a frame
// aligned body, then de-interleaves it into normalized float channels.
func decodePCM(header []byte, format wavFormat, body []byte) ([][]float32, error) {
	assembled := make([]byte, len(header)+len(body))
	copy(assembled, header)
	copy(assembled[len(header):], body)
	binary.LittleEndian.PutUint32(assembled[4:8], uint32(len(assembled)-8))
	binary.LittleEndian.PutUint32(assembled[len(header)-4:len(header)], uint32(len(body)))

	dec := wav.NewDecoder(bytes.NewReader(assembled))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}

	numChans := int(dec.NumChans)
	if numChans != format.channels {
		return nil, fmt.Errorf("decoder reported %d channels, header has %d", numChans, format.channels)
	}

	convert, err := sampleConverter(format)
	if err != nil {
		return nil, err
	}

	frames := len(buf.Data) / numChans
	channels := make([][]float32, numChans)
	for c := range channels {
		channels[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < numChans; c++ {
			channels[c][i] = convert(buf.Data[i*numChans+c])
		}
	}
	return channels, nil
}

func sampleConverter(format wavFormat) (func(int) float32, error) {
	if format.audioFormat == wavFormatFloat {
		return func(v int) float32 {
			return math.Float32frombits(uint32(int32(v)))
		}, nil
	}
	switch format.bitDepth {
	case 8:
		return func(v int) float32 { return float32(v-128) / 128.0 }, nil
	case 16:
		return func(v int) float32 { return float32(v) / 32768.0 }, nil
	case 24:
		return func(v int) float32 { return float32(v) / 8388608.0 }, nil
	case 32:
		return func(v int) float32 { return float32(float64(v) / 2147483648.0) }, nil
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", format.bitDepth)
	}
}

// payloadBounds computes start = sessionStart + timecode and
// stop = start + frames/sampleRate, both rounded to the nanosecond.
func payloadBounds(sessionStart time.Time, timecode float64, frames, sampleRate int) (time.Time, time.Time, error) {
	offset, err := secondsToNanos(timecode)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed getting start of payload: %w", err)
	}
	start, ok := addNanos(sessionStart, offset)
	if !ok {
		return time.Time{}, time.Time{}, errors.New("failed getting start of payload")
	}

	length, err := secondsToNanos(float64(frames) / float64(sampleRate))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed getting stop of payload: %w", err)
	}
	stop, ok := addNanos(start, length)
	if !ok {
		return time.Time{}, time.Time{}, errors.New("failed getting stop of payload")
	}
	return start, stop, nil
}

func secondsToNanos(seconds float64) (int64, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("non-finite value %v", seconds)
	}
	ns := math.Round(seconds * 1e9)
	if ns >= math.MaxInt64 || ns < math.MinInt64 {
		return 0, fmt.Errorf("%v s does not fit in nanoseconds", seconds)
	}
	return int64(ns), nil
}

func addNanos(t time.Time, ns int64) (time.Time, bool) {
	r := t.Add(time.Duration(ns))
	if (ns > 0 && !r.After(t)) || (ns < 0 && !r.Before(t)) {
		return r, false
	}
	return r, true
}
