//go:build !linux && !darwin

package hotkey

import "errors"

type unsupportedManager struct{}

// New returns a manager whose Register always fails; the tray still works.
func New() (Manager, error) {
	return unsupportedManager{}, nil
}

func (unsupportedManager) Register(accel string, callback func(pressed bool)) error {
	return errors.New("global hotkeys are not supported on this platform")
}

func (unsupportedManager) Unregister(accel string) error { return nil }

func (unsupportedManager) Close() error { return nil }
