package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"1000000000n", 1.0},
		{"500000u", 0.5},
		{"250m", 0.25},
		{"2", 2.0},
	}
	for _, tc := range cases {
		got, err := parseCPU(tc.in)
		require.NoError(t, err)
		assert.InDelta(t, tc.want, got, 1e-9, "parseCPU(%q)", tc.in)
	}
}

func TestCPURoundTrip(t *testing.T) {
	for _, cores := range []float64{0, 0.001, 0.25, 1, 2.5, 16} {
		got, err := parseCPU(formatCPU(cores))
		require.NoError(t, err)
		assert.InDelta(t, cores, got, 0.001, "round trip for %v cores", cores)
	}
}

func TestParseMemorySuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1Ki", 1024},
		{"1Mi", 1024 * 1024},
		{"1Gi", 1024 * 1024 * 1024},
		{"512", 512},
	}
	for _, tc := range cases {
		got, err := parseMemory(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestParseMemoryMonotonic(t *testing.T) {
	a, err := parseMemory("1Ki")
	require.NoError(t, err)
	b, err := parseMemory("2Ki")
	require.NoError(t, err)
	c, err := parseMemory("1Mi")
	require.NoError(t, err)
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestFormatMemoryUnits(t *testing.T) {
	assert.Equal(t, "0 KB", formatMemory(512))
	assert.Equal(t, "1 KB", formatMemory(1024))
	assert.Equal(t, "1 MB", formatMemory(1024*1024))
	assert.Equal(t, "1.50 GB", formatMemory(int64(1.5*1024*1024*1024)))
}
