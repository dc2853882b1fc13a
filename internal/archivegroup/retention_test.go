package archivegroup_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vogler75/monstermq/internal/archivegroup"
)

func TestParseRetentionUnits(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"3M", 90 * 24 * time.Hour},
		{"1y", 365 * 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := archivegroup.ParseRetention(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseRetentionDistinguishesMinutesFromMonths(t *testing.T) {
	minutes, err := archivegroup.ParseRetention("10m")
	require.NoError(t, err)
	months, err := archivegroup.ParseRetention("10M")
	require.NoError(t, err)
	require.NotEqual(t, minutes, months, "lowercase m (minutes) and uppercase M (months) must parse to different durations")
}

func TestParseRetentionRejectsUnknownUnit(t *testing.T) {
	_, err := archivegroup.ParseRetention("10x")
	require.Error(t, err)
}

func TestParseRetentionRejectsTooShort(t *testing.T) {
	_, err := archivegroup.ParseRetention("m")
	require.Error(t, err)
}
