package data

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStandardize(t *testing.T) {
	fn := Standardize()
	s := Sample{Pixels: []float32{0, 0.5, 1}, Label: 3}

	out, err := fn(s)
	require.NoError(t, err)
	require.Equal(t, []float32{-1, 0, 1}, out.Pixels)
	require.Equal(t, 3, out.Label)
	// The input sample is left untouched.
	require.Equal(t, []float32{0, 0.5, 1}, s.Pixels)
}
