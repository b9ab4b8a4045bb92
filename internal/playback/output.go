package playback

// Output plays mono float buffers once.
type Output interface {
	// Play starts playing samples immediately. Playback stops on its own
	// once every sample has been played.
	Play(samples []float32, sampleRate int) (Handle, error)

	// SetVolume sets the gain applied to future plays, 0.0 to 1.0.
	SetVolume(volume float64)

	Close() error
}

// Handle controls a single playback.
type Handle interface {
	// Stop ends playback early. It is safe to call more than once.
	Stop()

	// Done is closed when playback has finished or was stopped.
	Done() <-chan struct{}
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
