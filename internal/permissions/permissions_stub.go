//go:build !darwin

package permissions

import "github.com/rs/zerolog"

// EnsurePermissions is a no-op on non-macOS platforms.
func EnsurePermissions(log zerolog.Logger) error {
	log.Debug().Msg("No permission checks on this platform")
	return nil
}
