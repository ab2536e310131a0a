package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseChannelID(t *testing.T) {
	valid := []string{"@mychannel", "@news_feed", "@abcd", "-1001234567890", "12345", " @padded "}
	for _, in := range valid {
		got, err := parseChannelID(in)
		require.NoError(t, err, "input %q", in)
		require.NotEmpty(t, got)
	}

	invalid := []string{"", "mychannel", "@ab", "@has space", "@bad-dash", "https://t.me/x", "12a"}
	for _, in := range invalid {
		_, err := parseChannelID(in)
		require.Error(t, err, "input %q", in)
	}
}

func TestParseScheduleInput(t *testing.T) {
	cases := []struct {
		in               string
		interval, jitter float64
		wantErr          bool
	}{
		{in: "24", interval: 24},
		{in: "24 2", interval: 24, jitter: 2},
		{in: "24 ±2", interval: 24, jitter: 2},
		{in: "0.5 0.1", interval: 0.5, jitter: 0.1},
		{in: "  12  ", interval: 12},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "24 -2", wantErr: true},
		{in: "24 2 5", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			interval, jitter, err := parseScheduleInput(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.interval, interval)
			require.Equal(t, tc.jitter, jitter)
		})
	}
}

func TestSetupSessionCompleteAndCadence(t *testing.T) {
	s := setupSession{}
	require.False(t, s.complete())

	s.ChannelID = "@news"
	s.Topic = "space"
	require.False(t, s.complete(), "cadence still missing")

	s.IntervalHours = 24
	s.JitterHours = 2
	require.True(t, s.complete())

	base, jitter := s.cadence()
	require.Equal(t, 24*time.Hour, base)
	require.Equal(t, 2*time.Hour, jitter)
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in, cmd, arg string
	}{
		{"/start", "/start", ""},
		{"/stop @news", "/stop", "@news"},
		{"/broadcast hello   world", "/broadcast", "hello   world"},
		{"/LIST", "/list", ""},
		{"/settopic@postbot space news", "/settopic", "space news"},
	}
	for _, tc := range cases {
		cmd, arg := splitCommand(tc.in)
		require.Equal(t, tc.cmd, cmd, "input %q", tc.in)
		require.Equal(t, tc.arg, arg, "input %q", tc.in)
	}
}

func TestFormatCadence(t *testing.T) {
	require.Equal(t, "every 24h0m0s", formatCadence(86400, 0))
	require.Equal(t, "every 6h0m0s ±30m0s", formatCadence(21600, 1800))
}
