package service

import (
	"image"

	"github.com/TIANLI0/LayerFlow/model"
)

// Compositor 前向合成算子：把定长图层栈拍平为RGB图像。
// 纯函数式逐像素计算，无控制流分支依赖数据，可安全并行。
type Compositor struct{}

func NewCompositor() *Compositor {
	return &Compositor{}
}

// Composite 自底向上顺序alpha合成。
// background为背景亮度常量；padding槽位内容全零，对结果无影响。
func (c *Compositor) Composite(batch *model.TensorBatch, background float32) model.ImageTensor {
	if len(batch.Layers) == 0 {
		return model.NewImageTensor(0, 0, background)
	}

	w := batch.Layers[0].W
	h := batch.Layers[0].H
	ret := model.NewImageTensor(w, h, background)

	for i := range batch.Layers {
		layer := batch.Layers[i]
		oneHot := batch.OneHot[i]

		for p := 0; p < w*h; p++ {
			a := layer.Data[p*4+3]
			for ch := 0; ch < 3; ch++ {
				srcAlpha := layer.Data[p*4+ch] * a
				r := ret.Data[p*3+ch]
				shadedBase := (1 - a) * r

				normal := srcAlpha + shadedBase
				multiply := srcAlpha*r + shadedBase
				linearDodge := clamp01(srcAlpha + r)
				screen := 1 - (1-r)*(1-srcAlpha)

				ret.Data[p*3+ch] = oneHot[model.BlendNormal]*normal +
					oneHot[model.BlendMultiply]*multiply +
					oneHot[model.BlendLinearDodge]*linearDodge +
					oneHot[model.BlendScreen]*screen
			}
		}
	}
	return ret
}

// RenderNRGBA 合成并量化为8位RGB图像（alpha置为不透明）
func (c *Compositor) RenderNRGBA(batch *model.TensorBatch, background float32) *image.NRGBA {
	t := c.Composite(batch, background)
	out := image.NewNRGBA(image.Rect(0, 0, t.W, t.H))
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			off := y*out.Stride + x*4
			out.Pix[off] = quantize(t.At(x, y, 0))
			out.Pix[off+1] = quantize(t.At(x, y, 1))
			out.Pix[off+2] = quantize(t.At(x, y, 2))
			out.Pix[off+3] = 255
		}
	}
	return out
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func quantize(v float32) uint8 {
	v = clamp01(v) * 255
	return uint8(v + 0.5)
}
