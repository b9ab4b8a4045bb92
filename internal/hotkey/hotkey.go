package hotkey

import (
	"fmt"
	"strings"
	"sync"
)

// Manager defines the interface for global hotkey management
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}

// Accelerator is a parsed shortcut such as "Ctrl+Shift+R".
type Accelerator struct {
	Key   string // lower case: "space", "r", "f5"
	Ctrl  bool
	Alt   bool
	Shift bool
	Super bool // Cmd on macOS
}

// ParseAccelerator parses "+"-separated modifiers followed by one key.
func ParseAccelerator(accel string) (Accelerator, error) {
	var a Accelerator
	parts := strings.Split(accel, "+")
	for i, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			return a, fmt.Errorf("invalid accelerator %q", accel)
		}
		if i == len(parts)-1 {
			a.Key = part
			break
		}
		switch part {
		case "ctrl", "control":
			a.Ctrl = true
		case "alt", "option", "opt":
			a.Alt = true
		case "shift":
			a.Shift = true
		case "super", "cmd", "command", "meta", "win":
			a.Super = true
		default:
			return a, fmt.Errorf("unknown modifier %q in %q", part, accel)
		}
	}
	return a, nil
}

// EdgeFilter drops repeated press or release events, such as X11 key
// autorepeat, so a callback only sees state changes.
type EdgeFilter struct {
	mu      sync.Mutex
	pressed bool
	next    func(pressed bool)
}

func NewEdgeFilter(next func(pressed bool)) *EdgeFilter {
	return &EdgeFilter{next: next}
}

func (f *EdgeFilter) Handle(pressed bool) {
	f.mu.Lock()
	if pressed == f.pressed {
		f.mu.Unlock()
		return
	}
	f.pressed = pressed
	f.mu.Unlock()
	f.next(pressed)
}
