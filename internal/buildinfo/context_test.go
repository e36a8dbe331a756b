package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Values(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
	}{
		{"nil context", nil, UnknownValue, UnknownValue},
		{"empty context", &Context{}, UnknownValue, UnknownValue},
		{"populated", &Context{Version: "v1.2.0", BuildDate: "2024-03-20"}, "v1.2.0", "2024-03-20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.buildDate, tt.ctx.GetBuildDate())
		})
	}
}

func TestContext_String(t *testing.T) {
	t.Parallel()

	s := (&Context{Version: "v1.2.0"}).String()
	assert.Contains(t, s, "coughdetect v1.2.0")
	assert.Contains(t, s, "built unknown")
}
