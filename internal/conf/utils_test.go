package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetentionPeriod(t *testing.T) {
	t.Parallel()
	day := 24 * time.Hour
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"36", 36 * time.Hour},
		{"48h", 48 * time.Hour},
		{"30d", 30 * day},
		{"2w", 14 * day},
		{"6m", 180 * day},
		{"1y", 365 * day},
	}
	for _, tt := range tests {
		got, err := ParseRetentionPeriod(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "d", "3x", "-2d", "1.5d"} {
		_, err := ParseRetentionPeriod(bad)
		assert.Error(t, err, bad)
	}
}
