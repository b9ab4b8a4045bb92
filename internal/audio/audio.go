package audio

import "context"

// Buffer is one block of mono samples from the device.
type Buffer struct {
	Samples []float32
	// Skipped counts frames dropped since the previous delivered buffer.
	Skipped int
}

// Capture defines the interface for microphone capture. Captured buffers are
// downmixed to mono before they are sent on out.
type Capture interface {
	Start(ctx context.Context, deviceID string, sampleRate, channels int, out chan<- Buffer) error
	Stop() error
	ListDevices() ([]AudioDevice, error)
	Close() error
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID       string
	Name     string
	Channels int
	Default  bool
}

// FramesPerChunk converts a chunk length in milliseconds into frames.
func FramesPerChunk(sampleRate, chunkMS int) int {
	frames := sampleRate * chunkMS / 1000
	if frames <= 0 {
		return 1
	}
	return frames
}

// downmixInterleaved averages interleaved frames into a new mono slice.
func downmixInterleaved(input []float32, channels, frames int) []float32 {
	out := make([]float32, frames)
	if channels <= 1 {
		copy(out, input)
		return out
	}
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += input[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
