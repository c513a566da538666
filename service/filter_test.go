package service

import (
	"testing"

	"github.com/TIANLI0/LayerFlow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tensorWithAlpha(w, h int, alpha float32) model.LayerTensor {
	t := model.NewLayerTensor(w, h)
	for i := 3; i < len(t.Data); i += 4 {
		t.Data[i] = alpha
	}
	return t
}

func TestFilterByName(t *testing.T) {
	assert.Equal(t, "identity", FilterByName("identity").Name())
	assert.Equal(t, "drop_full", FilterByName("drop_full").Name())
	assert.Equal(t, "identity", FilterByName("bogus").Name())
}

func TestIdentityFilterKeepsAll(t *testing.T) {
	entries := []StackEntry{
		{Image: tensorWithAlpha(2, 2, 1)},
		{Image: tensorWithAlpha(2, 2, 0)},
	}
	got := IdentityFilter{}.Apply(entries, tensorWithAlpha(2, 2, 1))
	assert.Len(t, got, 2)
}

func TestDropFullFilter(t *testing.T) {
	preview := tensorWithAlpha(2, 2, 1)
	entries := []StackEntry{
		{Image: tensorWithAlpha(2, 2, 1), Mode: model.BlendNormal},    // 全覆盖但不在栈顶，保留
		{Image: tensorWithAlpha(2, 2, 0), Mode: model.BlendNormal},    // 近空，丢弃
		{Image: tensorWithAlpha(2, 2, 0.5), Mode: model.BlendScreen},  // 半覆盖，保留
		{Image: tensorWithAlpha(2, 2, 0.99), Mode: model.BlendNormal}, // 栈顶近全覆盖收底层，丢弃
	}

	got := DropFullFilter{}.Apply(entries, preview)
	require.Len(t, got, 2)
	assert.Equal(t, float32(1), got[0].Image.Data[3])
	assert.Equal(t, model.BlendScreen, got[1].Mode)
}

func TestDropFullFilterEmptyInput(t *testing.T) {
	got := DropFullFilter{}.Apply(nil, tensorWithAlpha(2, 2, 1))
	assert.Empty(t, got)
}

func TestMeanAlpha(t *testing.T) {
	tt := model.NewLayerTensor(2, 1)
	tt.Set(0, 0, 3, 1)
	assert.InDelta(t, 0.5, meanAlpha(tt), 1e-9)
}
