package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextVersion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{name: "nil context", ctx: nil, want: UnknownValue},
		{name: "empty version", ctx: NewContext("", "2026-01-01"), want: UnknownValue},
		{name: "valid version", ctx: NewContext("v1.0.0", "2026-01-01"), want: "v1.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.GetVersion())
		})
	}
}

func TestContextBuildDate(t *testing.T) {
	t.Parallel()
	var nilCtx *Context
	assert.Equal(t, UnknownValue, nilCtx.GetBuildDate())
	assert.Equal(t, UnknownValue, NewContext("v1", "").GetBuildDate())
	assert.Equal(t, "2026-01-01", NewContext("v1", "2026-01-01").GetBuildDate())
}

func TestCurrentSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var bi BuildInfo = Current()
	assert.NotEmpty(t, bi.GetVersion())
}
