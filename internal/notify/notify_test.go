package notify

import (
	"strings"
	"testing"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "hello", 100, "hello"},
		{"exact", strings.Repeat("a", 100), 100, strings.Repeat("a", 100)},
		{"long", strings.Repeat("a", 101), 100, strings.Repeat("a", 100) + "..."},
		{"multibyte", "héllo wörld", 5, "héllo..."},
		{"empty", "", 100, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.in, tt.n); got != tt.want {
				t.Errorf("Preview(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestNop(t *testing.T) {
	var n Nop
	if err := n.Notify("t", "b"); err != nil {
		t.Errorf("Notify() = %v", err)
	}
	if err := n.Copy("x"); err != nil {
		t.Errorf("Copy() = %v", err)
	}
}

var (
	_ Notifier  = (*Desktop)(nil)
	_ Notifier  = Nop{}
	_ Clipboard = SystemClipboard{}
	_ Clipboard = Nop{}
)
