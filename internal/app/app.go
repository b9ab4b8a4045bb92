package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petems/jammin/internal/audio"
	"github.com/petems/jammin/internal/config"
	"github.com/petems/jammin/internal/graph"
	"github.com/petems/jammin/internal/hotkey"
	"github.com/petems/jammin/internal/looper"
	"github.com/petems/jammin/internal/playback"
	"github.com/petems/jammin/internal/wavchunk"
	"github.com/rs/zerolog"
)

const (
	StatusRecordingToggled = "Recording toggled"
	StatusPlayingToggled   = "Playing toggled"
)

// captureChannels is what the panner receives: the microphone is downmixed
// to mono before panning.
const captureChannels = 1

// Session is the part of a looper session the app drives.
type Session interface {
	Deliver(chunk looper.EncodedChunk)
	ToggleRecording(ctx context.Context) error
	Oneshot(ctx context.Context) error
	State() looper.RecorderState
	// SessionStart anchors the timecodes of delivered chunks.
	SessionStart() time.Time
	Close() error
}

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetError()
	SetStatus(text string)
}

type Config struct {
	Audio   audio.Capture
	Session Session
	Output  playback.Output
	Config  *config.Config
	// ConfigPath is where mixer and device changes are saved. Empty uses the
	// default location.
	ConfigPath    string
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
	// Now defaults to time.Now.
	Now func() time.Time
}

type App struct {
	audio   audio.Capture
	session Session
	output  playback.Output
	cfg     *config.Config
	cfgPath string
	log     zerolog.Logger
	status  StatusUpdater
	now     func() time.Time

	panner    *graph.Panner
	inputGain *graph.Gain
	encoder   *wavchunk.Encoder
	hotkeys   *hotkey.EdgeFilter

	mu          sync.Mutex
	baseCtx     context.Context
	capturing   bool
	captureStop context.CancelFunc
	pumpDone    chan struct{}
	statusText  string
	closed      bool
	ops         sync.WaitGroup
}

func New(cfg Config) (*App, error) {
	enc, err := wavchunk.NewEncoder(wavchunk.Config{
		SampleRate: cfg.Config.Audio.SampleRate,
		Channels:   2,
		BitDepth:   cfg.Config.Audio.BitDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	a := &App{
		audio:     cfg.Audio,
		session:   cfg.Session,
		output:    cfg.Output,
		cfg:       cfg.Config,
		cfgPath:   cfg.ConfigPath,
		log:       cfg.Logger,
		status:    cfg.StatusUpdater,
		now:       now,
		panner:    graph.NewPanner(graph.ControlToPan(cfg.Config.Mixer.Pan)),
		inputGain: graph.NewGain(graph.ControlToGain(cfg.Config.Mixer.InputGain)),
		encoder:   enc,
	}
	a.hotkeys = hotkey.NewEdgeFilter(a.onHotkeyEdge)
	if a.output != nil {
		a.output.SetVolume(graph.ControlToGain(cfg.Config.Mixer.OutputGain))
	}
	return a, nil
}

// SetStatusUpdater attaches the UI after construction.
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// Start opens the microphone and begins feeding the session.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseCtx = ctx
	return a.startCaptureLocked(ctx)
}

func (a *App) startCaptureLocked(ctx context.Context) error {
	if a.closed {
		return errors.New("app is shut down")
	}
	if a.capturing {
		return nil
	}

	// Chunk timecodes are relative to the session start, which keeps running
	// while capture is stopped.
	offset := a.now().Sub(a.session.SessionStart())
	a.encoder.Restart(offset)

	captureCtx, stop := context.WithCancel(ctx)
	// Bounded audio buffer
	audioChan := make(chan audio.Buffer, 8)

	if err := a.audio.Start(captureCtx, a.cfg.Audio.DeviceID, a.cfg.Audio.SampleRate, 2, audioChan); err != nil {
		stop()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	a.capturing = true
	a.captureStop = stop
	a.pumpDone = make(chan struct{})
	go a.pump(captureCtx, audioChan, a.pumpDone)

	a.log.Info().
		Str("device", a.cfg.Audio.DeviceID).
		Dur("offset", offset).
		Msg("Capture running")
	return nil
}

// pump runs microphone buffers through the panner and input gain, encodes
// them and hands the chunks to the session.
func (a *App) pump(ctx context.Context, in <-chan audio.Buffer, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case buf, ok := <-in:
			if !ok {
				return
			}
			a.encoder.Skip(buf.Skipped)
			stereo := a.panner.Process(buf.Samples, captureChannels)
			a.inputGain.Apply(stereo)
			chunk := a.encoder.Encode(stereo)
			a.session.Deliver(looper.EncodedChunk{Data: chunk.Data, Timecode: chunk.Timecode})
		}
	}
}

func (a *App) stopCaptureLocked() {
	if !a.capturing {
		return
	}
	a.captureStop()
	if err := a.audio.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to stop capture")
	}
	<-a.pumpDone
	a.capturing = false
	a.captureStop = nil
}

func (a *App) IsCapturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capturing
}

// OnHotkey is the global hotkey callback. In Toggle mode a press toggles
// recording; in PushToTalk mode press starts and release stops.
func (a *App) OnHotkey(pressed bool) {
	a.hotkeys.Handle(pressed)
}

func (a *App) onHotkeyEdge(pressed bool) {
	a.mu.Lock()
	mode := a.cfg.Mode
	a.mu.Unlock()

	if mode != config.ModePushToTalk && !pressed {
		return
	}
	a.ToggleRecordingAsync()
}

// ToggleRecordingAsync runs ToggleRecording without blocking the caller.
// Stopping only completes once audio past the stop time has arrived.
func (a *App) ToggleRecordingAsync() {
	a.goOp(func() { _ = a.ToggleRecording(context.Background()) })
}

func (a *App) OneshotAsync() {
	a.goOp(func() { _ = a.Oneshot(context.Background()) })
}

func (a *App) goOp(fn func()) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.ops.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.ops.Done()
		fn()
	}()
}

func (a *App) ToggleRecording(ctx context.Context) error {
	err := a.session.ToggleRecording(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("Toggle recording failed")
		a.reportError(err)
		return err
	}

	state := a.session.State()
	a.log.Info().Str("state", state.String()).Msg("Recording toggled")
	a.report(StatusRecordingToggled, state)
	return nil
}

func (a *App) Oneshot(ctx context.Context) error {
	if err := a.session.Oneshot(ctx); err != nil {
		a.log.Error().Err(err).Msg("Oneshot failed")
		a.reportError(err)
		return err
	}
	a.report(StatusPlayingToggled, a.session.State())
	return nil
}

func (a *App) report(text string, state looper.RecorderState) {
	a.mu.Lock()
	a.statusText = text
	status := a.status
	a.mu.Unlock()

	if status == nil {
		return
	}
	status.SetStatus(text)
	if state == looper.Inactive {
		status.SetIdle()
	} else {
		status.SetRecording()
	}
}

func (a *App) reportError(err error) {
	a.mu.Lock()
	a.statusText = err.Error()
	status := a.status
	a.mu.Unlock()

	if status == nil {
		return
	}
	status.SetStatus(err.Error())
	status.SetError()
}

// Status is the text of the last operation outcome.
func (a *App) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusText
}

func (a *App) RecorderState() looper.RecorderState {
	return a.session.State()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.stopCaptureLocked()
	a.mu.Unlock()

	// Closing the session releases any toggle still waiting on it.
	err := a.session.Close()

	done := make(chan struct{})
	go func() {
		a.ops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Tray actions

func (a *App) SetMode(mode string) error {
	if mode != config.ModeToggle && mode != config.ModePushToTalk {
		return fmt.Errorf("unknown mode %q", mode)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Mode = mode
	return a.saveLocked()
}

func (a *App) Mode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Mode
}

// SetDevice switches the microphone, restarting capture if it is running.
func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	wasCapturing := a.capturing
	a.stopCaptureLocked()

	a.cfg.Audio.DeviceID = id
	if err := a.saveLocked(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to save config")
	}

	if wasCapturing {
		return a.startCaptureLocked(a.baseCtx)
	}
	return nil
}

func (a *App) DeviceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Audio.DeviceID
}

// SetPan takes a 0..100 control value.
func (a *App) SetPan(v int) error {
	a.panner.SetPan(graph.ControlToPan(v))
	return a.setMixer(func(m *config.MixerConfig) { m.Pan = v })
}

func (a *App) SetInputGain(v int) error {
	a.inputGain.Set(graph.ControlToGain(v))
	return a.setMixer(func(m *config.MixerConfig) { m.InputGain = v })
}

func (a *App) SetOutputGain(v int) error {
	if a.output != nil {
		a.output.SetVolume(graph.ControlToGain(v))
	}
	return a.setMixer(func(m *config.MixerConfig) { m.OutputGain = v })
}

func (a *App) setMixer(update func(*config.MixerConfig)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	update(&a.cfg.Mixer)
	a.cfg.Validate()
	return a.saveLocked()
}

// Mixer returns the current control values.
func (a *App) Mixer() config.MixerConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Mixer
}

func (a *App) saveLocked() error {
	if a.cfgPath == "" {
		return a.cfg.Save()
	}
	return a.cfg.SaveTo(a.cfgPath)
}

func (a *App) ListDevices() ([]audio.AudioDevice, error) {
	return a.audio.ListDevices()
}
