package service

import (
	"image/color"
	"math/rand"
	"testing"

	"github.com/TIANLI0/LayerFlow/config"
	"github.com/TIANLI0/LayerFlow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAssembler(maxLayers int) *Assembler {
	a := NewAssembler(&config.AssembleConfig{
		MaxLayers: maxLayers,
		Filter:    "identity",
	})
	a.SetRand(rand.New(rand.NewSource(42)))
	return a
}

// makeSample 构造n个红色通道取值唯一的图层，尺寸与finishing一致（走免warp路径）
func makeSample(n, w, h int) *model.Sample {
	s := &model.Sample{
		Preview:       fill(w, h, color.NRGBA{R: 128, G: 128, B: 128, A: 255}),
		Transform:     model.Identity(),
		FinishingSize: [2]int{w, h},
	}
	for i := 0; i < n; i++ {
		s.Layers = append(s.Layers, &model.LayerRecord{
			Name:      "layer",
			Image:     fill(w, h, color.NRGBA{R: uint8(i + 1), A: 255}),
			Opacity:   255,
			Visible:   true,
			BlendMode: model.BlendNormal,
		})
	}
	return s
}

func TestAssembleFixedSizeInvariant(t *testing.T) {
	const maxLayers = 4
	for _, n := range []int{0, 1, maxLayers, maxLayers + 3} {
		batch, err := testAssembler(maxLayers).Assemble(makeSample(n, 2, 2))
		require.NoError(t, err)
		assert.Len(t, batch.Layers, maxLayers, "n=%d", n)
		assert.Len(t, batch.OneHot, maxLayers, "n=%d", n)
	}
}

func TestAssembleEmptySampleYieldsAllPadding(t *testing.T) {
	batch, err := testAssembler(3).Assemble(makeSample(0, 2, 2))
	require.NoError(t, err)

	assert.Zero(t, batch.TrueCount)
	for i, row := range batch.OneHot {
		assert.Equal(t, float32(1), row[int(model.BlendPadding)], "slot %d", i)
		assert.Equal(t, float32(1), row[int(model.BlendNormal)], "slot %d", i)
		for _, v := range batch.Layers[i].Data {
			require.Zero(t, v)
		}
	}
}

func TestAssemblePadsInFront(t *testing.T) {
	batch, err := testAssembler(4).Assemble(makeSample(2, 2, 2))
	require.NoError(t, err)

	assert.Equal(t, 2, batch.TrueCount)
	// 前两个槽位为padding，真实图层保序在后
	assert.Equal(t, float32(1), batch.OneHot[0][int(model.BlendPadding)])
	assert.Equal(t, float32(1), batch.OneHot[1][int(model.BlendPadding)])
	assert.Zero(t, batch.OneHot[2][int(model.BlendPadding)])
	assert.Zero(t, batch.OneHot[3][int(model.BlendPadding)])

	assert.InDelta(t, 1.0/255, float64(batch.Layers[2].At(0, 0, 0)), 1e-6)
	assert.InDelta(t, 2.0/255, float64(batch.Layers[3].At(0, 0, 0)), 1e-6)
}

func TestAssembleRandomDropKeepsSubsetInOrder(t *testing.T) {
	const n, maxLayers = 7, 4
	batch, err := testAssembler(maxLayers).Assemble(makeSample(n, 2, 2))
	require.NoError(t, err)

	assert.Equal(t, n, batch.TrueCount)

	// 每个保留图层都来自原始集合，且相对顺序不变
	prev := 0.0
	for _, layer := range batch.Layers {
		r := float64(layer.At(0, 0, 0)) * 255
		idx := int(r + 0.5)
		assert.GreaterOrEqual(t, idx, 1)
		assert.LessOrEqual(t, idx, n)
		assert.Greater(t, float64(idx), prev, "random drop must preserve order")
		prev = float64(idx)
	}
}

func TestAssembleDiscardsInvisibleLayers(t *testing.T) {
	sample := makeSample(3, 2, 2)
	sample.Layers[0].Visible = false
	sample.Layers[1].Opacity = 0
	sample.Layers[2].Image = fill(2, 2, color.NRGBA{R: 50, A: 0}) // 全透明

	batch, err := testAssembler(2).Assemble(sample)
	require.NoError(t, err)

	assert.Zero(t, batch.TrueCount)
}

func TestAssembleOpacityPremultiply(t *testing.T) {
	sample := makeSample(1, 2, 2)
	sample.Layers[0].Opacity = 128

	batch, err := testAssembler(1).Assemble(sample)
	require.NoError(t, err)

	// alpha = 255/255 * 128/255，RGB不受不透明度影响
	assert.InDelta(t, 128.0/255, float64(batch.Layers[0].At(0, 0, 3)), 1e-6)
	assert.InDelta(t, 1.0/255, float64(batch.Layers[0].At(0, 0, 0)), 1e-6)
}

func TestAssembleClipZeroAlphaRule(t *testing.T) {
	parent := fill(2, 1, color.NRGBA{R: 255, A: 255})
	parent.SetNRGBA(1, 0, color.NRGBA{R: 255, A: 0}) // 右侧父alpha为0

	sample := &model.Sample{
		Preview:       fill(2, 1, color.NRGBA{A: 255}),
		Transform:     model.Identity(),
		FinishingSize: [2]int{2, 1},
		Layers: []*model.LayerRecord{
			{Name: "parent", Image: parent, Opacity: 255, Visible: true, BlendMode: model.BlendNormal},
			{Name: "clip", Image: fill(2, 1, color.NRGBA{G: 200, A: 255}), Opacity: 255, Visible: true, BlendMode: model.BlendMultiply, IsClip: true},
		},
	}

	batch, err := testAssembler(2).Assemble(sample)
	require.NoError(t, err)
	require.Equal(t, 2, batch.TrueCount)

	clip := batch.Layers[1]
	// 父alpha非零处裁剪层保留
	assert.InDelta(t, 200.0/255, float64(clip.At(0, 0, 1)), 1e-6)
	assert.InDelta(t, 1.0, float64(clip.At(0, 0, 3)), 1e-6)
	// 父alpha为零处RGB与alpha全部清零
	for c := 0; c < 4; c++ {
		assert.Zero(t, clip.At(1, 0, c), "channel %d", c)
	}
}

func TestAssembleOcclusionRemoval(t *testing.T) {
	a := NewAssembler(&config.AssembleConfig{
		MaxLayers:      2,
		RemoveOccluded: true,
		Filter:         "identity",
	})
	a.SetRand(rand.New(rand.NewSource(1)))

	batch, err := a.Assemble(makeSample(2, 2, 2))
	require.NoError(t, err)

	// 顶层完全不透明，底层全部像素被遮挡清零
	bottom := batch.Layers[0]
	for _, v := range bottom.Data {
		require.Zero(t, v)
	}
	top := batch.Layers[1]
	assert.InDelta(t, 2.0/255, float64(top.At(0, 0, 0)), 1e-6)
}

func TestAssembleOcclusionIgnoresNonNormal(t *testing.T) {
	a := NewAssembler(&config.AssembleConfig{
		MaxLayers:      2,
		RemoveOccluded: true,
		Filter:         "identity",
	})
	a.SetRand(rand.New(rand.NewSource(1)))

	sample := makeSample(2, 2, 2)
	sample.Layers[1].BlendMode = model.BlendMultiply

	batch, err := a.Assemble(sample)
	require.NoError(t, err)

	// 非normal顶层不遮挡，底层保持原样
	assert.InDelta(t, 1.0/255, float64(batch.Layers[0].At(0, 0, 0)), 1e-6)
	assert.InDelta(t, 1.0, float64(batch.Layers[0].At(0, 0, 3)), 1e-6)
}

func TestPreviewTensorValuesInRange(t *testing.T) {
	sample := makeSample(0, 3, 2)
	out, err := testAssembler(1).PreviewTensor(sample, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, out.W)
	assert.Equal(t, 2, out.H)
	assert.InDelta(t, 128.0/255, float64(out.At(0, 0, 0)), 1e-6)
}
