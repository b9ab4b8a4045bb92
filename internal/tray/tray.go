package tray

import (
	"context"
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/jammin/internal/app"
	"github.com/petems/jammin/internal/config"
	"github.com/petems/jammin/internal/logging"
	"github.com/rs/zerolog"
)

// Control presets offered in the pan and gain submenus.
var (
	panPresets = []preset{
		{"Left", 0}, {"Left 50%", 25}, {"Center", 50}, {"Right 50%", 75}, {"Right", 100},
	}
	gainPresets = []preset{
		{"Mute", 0}, {"25%", 25}, {"50%", 50}, {"75%", 75}, {"100%", 100},
	}
)

type preset struct {
	label string
	value int
}

type UI struct {
	app     *app.App
	version string
	commit  string
	log     zerolog.Logger
	onQuit  func()

	mu     sync.Mutex
	ready  bool
	icon   string
	status string

	// Menu items
	mStatus  *systray.MenuItem
	mRecord  *systray.MenuItem
	mOneshot *systray.MenuItem
	mMode    *systray.MenuItem
	mPan     *systray.MenuItem
	mInput   *systray.MenuItem
	mOutput  *systray.MenuItem
	mDevices *systray.MenuItem
	mCopy    *systray.MenuItem
}

// New builds the tray for application. onQuit runs when the tray exits.
func New(application *app.App, log zerolog.Logger, version, commit string, onQuit func()) *UI {
	return &UI{
		app:     application,
		version: version,
		commit:  commit,
		log:     log,
		onQuit:  onQuit,
		icon:    "idle",
	}
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateIcon("idle")
}

func (u *UI) SetRecording() {
	u.updateIcon("recording")
}

func (u *UI) SetError() {
	u.updateIcon("error")
}

func (u *UI) SetStatus(text string) {
	u.mu.Lock()
	u.status = text
	ready := u.ready
	u.mu.Unlock()

	if ready {
		u.mStatus.SetTitle(statusLine(text))
	}
}

// Run blocks on the systray event loop. It must be called from the main
// goroutine.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	systray.SetTooltip("Live loop recorder")

	// Build menu
	u.mStatus = systray.AddMenuItem(statusLine(""), "Last action")
	u.mStatus.Disable()
	systray.AddSeparator()

	u.mRecord = systray.AddMenuItem("Record", "Start or stop recording a loop")
	u.mOneshot = systray.AddMenuItem("Oneshot", "Play the last loop once")
	systray.AddSeparator()

	mixer := u.app.Mixer()
	u.mPan = systray.AddMenuItem("Pan", "Input pan")
	u.buildPresetMenu(u.mPan, panPresets, mixer.Pan, u.app.SetPan, "pan")
	u.mInput = systray.AddMenuItem("Input Gain", "Microphone gain")
	u.buildPresetMenu(u.mInput, gainPresets, mixer.InputGain, u.app.SetInputGain, "input_gain")
	u.mOutput = systray.AddMenuItem("Output Gain", "Playback volume")
	u.buildPresetMenu(u.mOutput, gainPresets, mixer.OutputGain, u.app.SetOutputGain, "output_gain")
	systray.AddSeparator()

	u.mMode = systray.AddMenuItem(modeTitle(u.app.Mode()), "Toggle between hotkey modes")
	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	systray.AddSeparator()
	u.mCopy = systray.AddMenuItem("Copy Status", "Copy the last status to the clipboard")
	mLogs := systray.AddMenuItem("Show Log Path", "Log the location of the log file")
	mAbout := systray.AddMenuItem("About", "About Jammin")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.mu.Lock()
	u.ready = true
	icon, status := u.icon, u.status
	u.mu.Unlock()
	u.setTitle(icon)
	u.mStatus.SetTitle(statusLine(status))

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mRecord.ClickedCh:
			u.app.ToggleRecordingAsync()
		case <-u.mOneshot.ClickedCh:
			u.app.OneshotAsync()
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-u.mCopy.ClickedCh:
			u.copyStatus()
		case <-mLogs.ClickedCh:
			u.log.Info().Str("path", logging.LogPath()).Msg("Log file")
		case <-mAbout.ClickedCh:
			u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("Jammin live loop recorder")
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildPresetMenu(parent *systray.MenuItem, presets []preset, current int, set func(int) error, name string) {
	items := make([]*systray.MenuItem, len(presets))
	checked := nearestPreset(presets, current)

	for i, p := range presets {
		items[i] = parent.AddSubMenuItemCheckbox(p.label, "", i == checked)

		go func(idx int, p preset) {
			for range items[idx].ClickedCh {
				for j, itm := range items {
					if j != idx {
						itm.Uncheck()
					}
				}
				items[idx].Check()
				if err := set(p.value); err != nil {
					u.log.Warn().Err(err).Msg("Failed to save config")
				}
				u.log.Info().Str("control", name).Int("value", p.value).Msg("Changed mixer control")
			}
		}(i, p)
	}
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)
	selected := u.app.DeviceID()

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItemCheckbox(dev.Name, "", dev.ID == selected || (selected == "" && dev.Default))
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Error().Err(err).Str("device", deviceName).Msg("Failed to switch audio device")
					u.SetStatus(err.Error())
					continue
				}
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) toggleMode() {
	oldMode := u.app.Mode()
	newMode := config.ModePushToTalk
	if oldMode == config.ModePushToTalk {
		newMode = config.ModeToggle
	}
	if err := u.app.SetMode(newMode); err != nil {
		u.log.Warn().Err(err).Msg("Failed to save config")
	}
	u.mMode.SetTitle(modeTitle(newMode))
	u.log.Info().Str("from", oldMode).Str("to", newMode).Msg("Changed mode")
}

func (u *UI) copyStatus() {
	text := u.app.Status()
	if err := clipboard.WriteAll(text); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy status")
		return
	}
	u.log.Debug().Str("status", text).Msg("Copied status")
}

func (u *UI) onExit() {
	if u.onQuit != nil {
		u.onQuit()
	}
}

func (u *UI) updateIcon(icon string) {
	u.mu.Lock()
	u.icon = icon
	ready := u.ready
	u.mu.Unlock()

	if ready {
		u.setTitle(icon)
	}
}

// setTitle sets the tray title with the loop emoji and status indicator
func (u *UI) setTitle(icon string) {
	systray.SetTitle(fmt.Sprintf("🔁 %s", emojiForStatus(icon)))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

func statusLine(text string) string {
	if text == "" {
		return "Ready"
	}
	return text
}

func modeTitle(mode string) string {
	if mode == config.ModePushToTalk {
		return "Mode: Push-to-Talk"
	}
	return "Mode: Toggle"
}

// nearestPreset returns the index of the preset closest to value.
func nearestPreset(presets []preset, value int) int {
	best := 0
	for i, p := range presets {
		if abs(p.value-value) < abs(presets[best].value-value) {
			best = i
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
