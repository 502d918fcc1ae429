// Package notify delivers desktop notifications and clipboard writes.
// Both are best-effort: callers log failures and carry on.
package notify

import (
	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"
)

const appName = "Otis Dictation"

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(title, body string) error
}

// Clipboard places text on the system clipboard.
type Clipboard interface {
	Copy(text string) error
}

// Desktop uses the platform notification service via beeep.
type Desktop struct {
	icon string
}

// NewDesktop creates a notifier. icon may be empty.
func NewDesktop(icon string) *Desktop {
	return &Desktop{icon: icon}
}

func (d *Desktop) Notify(title, body string) error {
	return beeep.Notify(appName+": "+title, body, d.icon)
}

// SystemClipboard writes through atotto/clipboard (pbcopy, xclip/xsel,
// wl-copy or the Windows API).
type SystemClipboard struct{}

func (SystemClipboard) Copy(text string) error {
	return clipboard.WriteAll(text)
}

// Available reports whether a clipboard utility was found.
func (SystemClipboard) Available() bool {
	return !clipboard.Unsupported
}

// Nop discards notifications and clipboard writes. Used when the feature is
// disabled in configuration.
type Nop struct{}

func (Nop) Notify(title, body string) error { return nil }
func (Nop) Copy(text string) error          { return nil }

// Preview truncates s to n runes, adding an ellipsis when cut.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
