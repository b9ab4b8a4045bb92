package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/jammin/internal/config"
	"github.com/rs/zerolog"
)

type portAudioCapture struct {
	framesPerBuffer int
	log             zerolog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
}

// New creates a new PortAudio-based audio capture
func New(cfg config.AudioConfig, log zerolog.Logger) (Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioCapture{
		framesPerBuffer: FramesPerChunk(cfg.SampleRate, cfg.ChunkMS),
		log:             log,
	}, nil
}

func (p *portAudioCapture) Start(ctx context.Context, deviceID string, sampleRate, channels int, out chan<- Buffer) error {
	device, err := findInputDevice(deviceID)
	if err != nil {
		return err
	}

	if channels <= 0 {
		channels = 1
	}
	if channels > device.MaxInputChannels {
		channels = device.MaxInputChannels
	}

	buffer := make([]float32, p.framesPerBuffer*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: p.framesPerBuffer,
	}, buffer)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()

	p.log.Info().
		Str("device", device.Name).
		Int("channels", channels).
		Int("sample_rate", sampleRate).
		Int("frames_per_buffer", p.framesPerBuffer).
		Msg("Capture started")

	// Read loop
	go func() {
		defer stream.Close()
		dropped, skipped := 0, 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := stream.Read(); err != nil {
				p.log.Error().Err(err).Msg("Capture read failed")
				return
			}
			samples := downmixInterleaved(buffer, channels, p.framesPerBuffer)

			select {
			case out <- Buffer{Samples: samples, Skipped: skipped}:
				skipped = 0
			case <-ctx.Done():
				return
			default:
				// The device callback must never wait on the session.
				dropped++
				skipped += p.framesPerBuffer
				if dropped%100 == 1 {
					p.log.Warn().Int("dropped", dropped).Msg("Capture buffer dropped")
				}
			}
		}
	}()

	return nil
}

func findInputDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", deviceID)
}

func (p *portAudioCapture) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return p.stream.Stop()
	}
	return nil
}

func (p *portAudioCapture) ListDevices() ([]AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:       d.Name,
				Name:     d.Name,
				Channels: d.MaxInputChannels,
				Default:  d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioCapture) Close() error {
	p.mu.Lock()
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
	p.mu.Unlock()
	return portaudio.Terminate()
}
