//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa
#import <AVFoundation/AVFoundation.h>
#import <Cocoa/Cocoa.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}

int checkAccessibilityPermission() {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import (
	"errors"

	"github.com/rs/zerolog"
)

const (
	PermissionNotDetermined = 0
	PermissionRestricted    = 1
	PermissionDenied        = 2
	PermissionAuthorized    = 3
)

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() int {
	return int(C.checkMicrophonePermission())
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() {
	C.requestMicrophonePermission()
}

// CheckAccessibility reports whether the app is trusted for accessibility.
// The check also shows the system prompt when it is not.
func CheckAccessibility() bool {
	return int(C.checkAccessibilityPermission()) == 1
}

// EnsurePermissions checks and requests what capture needs. Microphone
// access is required; accessibility only affects the global hotkey, so a
// missing grant is logged and tolerated.
func EnsurePermissions(log zerolog.Logger) error {
	switch CheckMicrophone() {
	case PermissionAuthorized:
	case PermissionNotDetermined:
		log.Warn().Msg("Microphone permission required")
		RequestMicrophone()
		return errors.New("microphone permission not granted yet, restart after allowing access")
	default:
		log.Warn().Msg("Microphone access denied: System Settings → Privacy & Security → Microphone")
		return errors.New("microphone permission denied")
	}

	if !CheckAccessibility() {
		log.Warn().Msg("Accessibility permission missing, the global hotkey may not work")
		log.Warn().Msg("Go to: System Settings → Privacy & Security → Accessibility")
	}

	return nil
}
