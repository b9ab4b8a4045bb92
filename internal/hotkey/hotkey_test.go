package hotkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccelerator(t *testing.T) {
	tests := []struct {
		in   string
		want Accelerator
	}{
		{"Alt+Space", Accelerator{Key: "space", Alt: true}},
		{"Ctrl+Shift+R", Accelerator{Key: "r", Ctrl: true, Shift: true}},
		{"Cmd + Option + L", Accelerator{Key: "l", Super: true, Alt: true}},
		{"F5", Accelerator{Key: "f5"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAccelerator(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAcceleratorErrors(t *testing.T) {
	for _, in := range []string{"", "Alt+", "Hyper+Space", "Ctrl++R"} {
		_, err := ParseAccelerator(in)
		assert.Error(t, err, in)
	}
}

func TestEdgeFilter(t *testing.T) {
	var events []bool
	f := NewEdgeFilter(func(pressed bool) { events = append(events, pressed) })

	for _, e := range []bool{false, true, true, true, false, false, true, false} {
		f.Handle(e)
	}
	assert.Equal(t, []bool{true, false, true, false}, events)
}
