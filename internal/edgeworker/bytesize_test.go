package edgeworker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"512":   512,
		"64k":   64 << 10,
		"64kb":  64 << 10,
		"1.5MB": 3 << 19,
		" 2g ":  2 << 30,
	}
	for in, want := range cases {
		got, err := parseBytes(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "b", "-1k", "tenmb"} {
		_, err := parseBytes(bad)
		require.Error(t, err, bad)
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	require.Equal(t, "900b", formatBytes(900))
	require.Equal(t, "1kb", formatBytes(1024))
	require.Equal(t, "1.5kb", formatBytes(1536))
	require.Equal(t, "3mb", formatBytes(3<<20))
	require.Equal(t, "1.2gb", formatBytes(1288490189))
}
