package service

import (
	"image"
	"image/color"
	"math/rand"

	"github.com/TIANLI0/LayerFlow/config"
	"gocv.io/x/gocv"
)

// Augmentation 单次随机几何变换。
// 同一组参数必须应用到一个样本的预览与全部图层，否则图层间失配。
type Augmentation struct {
	TargetWidth  int
	TargetHeight int
	Angle        float64 // 旋转角度（度）
	Top          float64 // 归一化裁剪原点
	Left         float64
	HeightScale  float64
	WidthScale   float64
	HFlip        bool
	VFlip        bool
	Zoom         float64

	rng *rand.Rand
}

func NewAugmentation(cfg *config.AugmentConfig, rng *rand.Rand) *Augmentation {
	return &Augmentation{
		TargetWidth:  cfg.TargetWidth,
		TargetHeight: cfg.TargetHeight,
		HeightScale:  1.0,
		WidthScale:   1.0,
		rng:          rng,
	}
}

// Roll 重新采样全部变换参数
func (a *Augmentation) Roll() *Augmentation {
	a.Angle = float64(a.rng.Intn(181) - 90)
	a.Top = a.rng.Float64() * 0.05
	a.Left = a.rng.Float64() * 0.05
	a.HeightScale = clampFloat(1.0+a.rng.NormFloat64()/50, 0.5, 1.5)
	a.WidthScale = clampFloat(a.HeightScale+a.rng.NormFloat64()/50, 0.5, 1.5)
	a.HFlip = a.rng.Float64() < 0.5
	a.VFlip = a.rng.Float64() < 0.1
	a.Zoom = a.rng.Float64()
	return a
}

// Apply 按当前参数变换一张图像：缩放、旋转、裁剪到目标尺寸、翻转
func (a *Augmentation) Apply(img *image.NRGBA) (*image.NRGBA, error) {
	src, err := matFromNRGBA(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	w := src.Cols()
	h := src.Rows()

	// 基准缩放让短边落到目标尺寸附近
	scale := (a.Zoom/2 + 0.8) * float64(min(a.TargetWidth, a.TargetHeight)) / float64(min(w, h))
	newW := max(1, int(float64(w)*a.WidthScale*scale))
	newH := max(1, int(float64(h)*a.HeightScale*scale))

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Point{X: newW, Y: newH}, 0, 0, gocv.InterpolationArea)

	rotated := gocv.NewMat()
	defer rotated.Close()
	rot := gocv.GetRotationMatrix2D(image.Point{X: newW / 2, Y: newH / 2}, a.Angle, 1.0)
	defer rot.Close()
	gocv.WarpAffine(resized, &rotated, rot, image.Point{X: newW, Y: newH})

	cropped := a.crop(rotated)
	defer cropped.Close()

	flipped := cropped.Clone()
	defer flipped.Close()
	if a.HFlip {
		gocv.Flip(flipped, &flipped, 1)
	}
	if a.VFlip {
		gocv.Flip(flipped, &flipped, 0)
	}

	return nrgbaFromMat(flipped)
}

// crop 裁剪到精确目标尺寸，不足时先零填充
func (a *Augmentation) crop(m gocv.Mat) gocv.Mat {
	w := m.Cols()
	h := m.Rows()

	padded := m
	owned := false
	if w < a.TargetWidth || h < a.TargetHeight {
		padRight := max(0, a.TargetWidth-w)
		padBottom := max(0, a.TargetHeight-h)
		dst := gocv.NewMat()
		gocv.CopyMakeBorder(m, &dst, 0, padBottom, 0, padRight, gocv.BorderConstant, color.RGBA{})
		padded = dst
		owned = true
		w = padded.Cols()
		h = padded.Rows()
	}

	x0 := int(a.Left * float64(w-a.TargetWidth))
	y0 := int(a.Top * float64(h-a.TargetHeight))

	region := padded.Region(image.Rect(x0, y0, x0+a.TargetWidth, y0+a.TargetHeight))
	defer region.Close()
	out := region.Clone()

	if owned {
		padded.Close()
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
