package service

import (
	"image"
	"image/color"
	"testing"

	"github.com/TIANLI0/LayerFlow/document"
	"github.com/TIANLI0/LayerFlow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fill 生成纯色NRGBA图像（service包测试共用）
func fill(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestExtractPadsToCanvas(t *testing.T) {
	doc := &document.Document{
		Width:  8,
		Height: 6,
		Layers: []*document.Layer{
			{
				Name:    "patch",
				BBox:    image.Rect(2, 1, 5, 4),
				Opacity: 255,
				Visible: true,
				Image:   fill(3, 3, color.NRGBA{R: 250, A: 255}),
			},
		},
	}

	records, preview := NewExtractor().Extract(doc)
	require.Len(t, records, 1)
	require.NotNil(t, preview)

	img := records[0].Image
	b := img.Bounds()
	assert.Equal(t, 8, b.Dx())
	assert.Equal(t, 6, b.Dy())

	// 包围盒内为内容，盒外全零
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			inside := x >= 2 && x < 5 && y >= 1 && y < 4
			px := img.NRGBAAt(x, y)
			if inside {
				assert.Equal(t, color.NRGBA{R: 250, A: 255}, px, "at (%d,%d)", x, y)
			} else {
				assert.Equal(t, color.NRGBA{}, px, "at (%d,%d)", x, y)
			}
		}
	}
}

func TestExtractSkipsZeroSizeLayer(t *testing.T) {
	doc := &document.Document{
		Width:  4,
		Height: 4,
		Layers: []*document.Layer{
			{Name: "empty", BBox: image.Rect(1, 1, 1, 3), Opacity: 255, Visible: true},
		},
	}

	records, _ := NewExtractor().Extract(doc)
	assert.Empty(t, records)
}

func TestExtractDropsTransparentAfterPadding(t *testing.T) {
	doc := &document.Document{
		Width:  4,
		Height: 4,
		Layers: []*document.Layer{
			{
				Name:    "invisible-ink",
				BBox:    image.Rect(0, 0, 2, 2),
				Opacity: 255,
				Visible: true,
				// 有颜色但alpha全零
				Image: fill(2, 2, color.NRGBA{R: 99, A: 0}),
			},
		},
	}

	records, _ := NewExtractor().Extract(doc)
	assert.Empty(t, records)
}

func TestExtractInlinesClipChildren(t *testing.T) {
	doc := &document.Document{
		Width:  4,
		Height: 4,
		Layers: []*document.Layer{
			{
				Name:      "paint",
				BBox:      image.Rect(0, 0, 4, 4),
				Opacity:   255,
				Visible:   true,
				BlendMode: model.BlendNormal,
				Image:     fill(4, 4, color.NRGBA{R: 10, A: 255}),
				Clips: []*document.Layer{
					{
						Name:      "shadow",
						BBox:      image.Rect(1, 1, 3, 3),
						Opacity:   255,
						Visible:   true,
						BlendMode: model.BlendMultiply,
						Image:     fill(2, 2, color.NRGBA{B: 30, A: 255}),
					},
					{
						Name:    "empty-clip",
						BBox:    image.Rect(0, 0, 2, 2),
						Opacity: 255,
						Visible: true,
						Image:   fill(2, 2, color.NRGBA{A: 0}),
					},
				},
			},
			{
				Name:    "top",
				BBox:    image.Rect(0, 0, 4, 4),
				Opacity: 255,
				Visible: true,
				Image:   fill(4, 4, color.NRGBA{G: 20, A: 128}),
			},
		},
	}

	records, _ := NewExtractor().Extract(doc)
	require.Len(t, records, 3)

	assert.Equal(t, "paint", records[0].Name)
	assert.False(t, records[0].IsClip)
	// 裁剪子图层紧随父图层；全透明的裁剪层被丢弃
	assert.Equal(t, "shadow", records[1].Name)
	assert.True(t, records[1].IsClip)
	assert.Equal(t, "top", records[2].Name)
	assert.False(t, records[2].IsClip)
}

func TestAlphaBBox(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 5))
	assert.True(t, alphaBBox(img).Empty())

	img.SetNRGBA(1, 2, color.NRGBA{A: 9})
	img.SetNRGBA(3, 4, color.NRGBA{A: 1})
	assert.Equal(t, image.Rect(1, 2, 4, 5), alphaBBox(img))
}
