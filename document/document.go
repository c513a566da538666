// Package document 定义分层文档数据源。
// 文档由外部导出器产出（例如PSD导出工具），本包只消费其图层结构。
package document

import (
	"image"
	"image/draw"

	"github.com/TIANLI0/LayerFlow/model"
)

// Layer 文档中的一个图层，像素缓冲为裁剪后的内容区域
type Layer struct {
	Name      string
	BBox      image.Rectangle // 在画布坐标系中的内容包围盒
	Opacity   uint8
	Visible   bool
	BlendMode model.BlendMode
	Image     *image.NRGBA // 尺寸等于BBox，可为空表示零尺寸图层
	// Clips 裁剪子图层，渲染时被限制在本图层的alpha范围内
	Clips []*Layer
}

// Size 图层内容尺寸 (width, height)
func (l *Layer) Size() (int, int) {
	return l.BBox.Dx(), l.BBox.Dy()
}

// Document 一份分层文档快照
type Document struct {
	Width  int
	Height int
	// Layers 自底向上的图层序列
	Layers []*Layer
	// Preview 导出器生成的拍平预览，为空时由Composite现场拍平
	Preview *image.NRGBA
}

// Opener 打开一个文档文件
type Opener func(path string) (*Document, error)

// Composite 返回文档的拍平渲染结果
func (d *Document) Composite() *image.NRGBA {
	if d.Preview != nil {
		return d.Preview
	}
	return d.flatten()
}

// flatten 简易normal合成，仅作为缺失预览时的回退
func (d *Document) flatten() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, d.Width, d.Height))
	for _, l := range d.Layers {
		d.drawLayer(out, l)
		for _, c := range l.Clips {
			d.drawLayer(out, c)
		}
	}
	return out
}

func (d *Document) drawLayer(dst *image.NRGBA, l *Layer) {
	if !l.Visible || l.Image == nil || l.BBox.Empty() {
		return
	}
	draw.Draw(dst, l.BBox, l.Image, l.Image.Bounds().Min, draw.Over)
}
