package service

import (
	"image"
	"image/draw"

	"github.com/TIANLI0/LayerFlow/document"
	"github.com/TIANLI0/LayerFlow/model"
)

// Extractor 负责把分层文档展开为画布尺寸的图层记录序列
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract 提取文档的全部图层（含裁剪子图层）并返回拍平预览。
// 零尺寸图层与补齐后完全透明的图层被视为不存在。
func (e *Extractor) Extract(doc *document.Document) ([]*model.LayerRecord, *image.NRGBA) {
	var records []*model.LayerRecord

	for _, layer := range doc.Layers {
		record := e.extractOne(doc, layer, false)
		if record == nil {
			continue
		}
		records = append(records, record)
		// 裁剪子图层紧随父图层，保持渲染顺序约定
		for _, clip := range layer.Clips {
			if r := e.extractOne(doc, clip, true); r != nil {
				records = append(records, r)
			}
		}
	}

	return records, doc.Composite()
}

func (e *Extractor) extractOne(doc *document.Document, layer *document.Layer, isClip bool) *model.LayerRecord {
	w, h := layer.Size()
	if w == 0 || h == 0 {
		return nil
	}

	padded := padToCanvas(layer, doc.Width, doc.Height)
	if alphaBBox(padded).Empty() {
		// 补齐后完全透明，按不存在处理
		return nil
	}

	return &model.LayerRecord{
		Name:      layer.Name,
		Image:     padded,
		Opacity:   layer.Opacity,
		Visible:   layer.Visible,
		BlendMode: layer.BlendMode,
		IsClip:    isClip,
	}
}

// padToCanvas 按包围盒偏移将裁剪内容零填充到画布尺寸
func padToCanvas(layer *document.Layer, width, height int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	if layer.Image == nil {
		return out
	}
	draw.Draw(out, layer.BBox, layer.Image, layer.Image.Bounds().Min, draw.Src)
	return out
}

// alphaBBox 返回alpha通道非零像素的包围盒
func alphaBBox(img *image.NRGBA) image.Rectangle {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X, b.Min.Y
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride : (y-b.Min.Y)*img.Stride+(b.Max.X-b.Min.X)*4]
		for x := 0; x < b.Dx(); x++ {
			if row[x*4+3] == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x+1 > maxX {
				maxX = x + 1
			}
			if y < minY {
				minY = y
			}
			if y+1 > maxY {
				maxY = y + 1
			}
		}
	}
	if minX >= maxX || minY >= maxY {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX, maxY)
}
