package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlendMode(t *testing.T) {
	tests := []struct {
		name string
		want BlendMode
	}{
		{"normal", BlendNormal},
		{"multiply", BlendMultiply},
		{"linear_dodge", BlendLinearDodge},
		{"screen", BlendScreen},
		{"unknown-mode", BlendNormal},
		{"", BlendNormal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseBlendMode(tt.name), tt.name)
	}
}

func TestBlendModeRoundTrip(t *testing.T) {
	for _, m := range []BlendMode{BlendNormal, BlendMultiply, BlendLinearDodge, BlendScreen} {
		assert.Equal(t, m, ParseBlendMode(m.String()))
	}
}

func TestOneHotRow(t *testing.T) {
	row := OneHotRow(BlendMultiply)
	require.Len(t, row, OneHotWidth)
	assert.Equal(t, []float32{0, 1, 0, 0, 0}, row)
}

func TestOneHotRowPaddingCollapsesToNormal(t *testing.T) {
	row := OneHotRow(BlendPadding)
	require.Len(t, row, OneHotWidth)
	// padding行同时置位normal列，合成时按normal参与加权
	assert.Equal(t, float32(1), row[int(BlendNormal)])
	assert.Equal(t, float32(1), row[int(BlendPadding)])
	assert.Equal(t, float32(0), row[int(BlendMultiply)])
}

func TestNormalizeRoundTrip(t *testing.T) {
	assert.InDelta(t, -1.0, float64(Normalize(0)), 1e-6)
	assert.InDelta(t, 1.0, float64(Normalize(1)), 1e-6)
	assert.InDelta(t, 127.5, float64(Denormalize(Normalize(0.5))), 1e-4)
}

func TestLayerTensorAccessors(t *testing.T) {
	lt := NewLayerTensor(3, 2)
	require.Len(t, lt.Data, 3*2*4)

	lt.Set(2, 1, 3, 0.5)
	assert.Equal(t, float32(0.5), lt.At(2, 1, 3))

	clone := lt.Clone()
	clone.Set(2, 1, 3, 0.25)
	assert.Equal(t, float32(0.5), lt.At(2, 1, 3))
}
