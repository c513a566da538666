package service

import (
	"fmt"
	"image"
	"math/rand"
	"time"

	"github.com/TIANLI0/LayerFlow/config"
	"github.com/TIANLI0/LayerFlow/model"
	"gocv.io/x/gocv"
)

// identityTolerance 判定变换是否等同单位矩阵的Frobenius容差
const identityTolerance = 5e-3

// Assembler 负责把样本组装为定长张量批次
type Assembler struct {
	maxLayers      int
	warp           bool
	resizeToFinal  bool
	removeOccluded bool
	filter         LayerFilter
	augment        *Augmentation
	rng            *rand.Rand
}

func NewAssembler(cfg *config.AssembleConfig) *Assembler {
	return &Assembler{
		maxLayers:      cfg.MaxLayers,
		warp:           cfg.Warp,
		resizeToFinal:  cfg.ResizeToFinal,
		removeOccluded: cfg.RemoveOccluded,
		filter:         FilterByName(cfg.Filter),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetAugmentation 配置训练期增广；nil表示关闭
func (s *Assembler) SetAugmentation(a *Augmentation) {
	s.augment = a
}

// SetFilter 替换内容过滤策略
func (s *Assembler) SetFilter(f LayerFilter) {
	s.filter = f
}

// SetRand 注入随机源（容量裁剪的随机丢弃用）
func (s *Assembler) SetRand(rng *rand.Rand) {
	s.rng = rng
}

// Assemble 将样本转为定长张量批次。
// 真实图层数为零时输出全padding批次，不视为错误。
func (s *Assembler) Assemble(sample *model.Sample) (*model.TensorBatch, error) {
	if err := s.warpOrResize(sample); err != nil {
		return nil, err
	}

	if s.augment != nil {
		if err := s.applyAugmentation(sample); err != nil {
			return nil, err
		}
	}

	preview := tensorFromNRGBA(sample.Preview, 255)
	entries := s.normalize(sample)
	entries = s.filter.Apply(entries, preview)

	if s.removeOccluded {
		removeOccluded(entries)
	}

	return s.pack(entries, preview.W, preview.H), nil
}

// warpOrResize 应用存储的单应变换或尺寸对齐，两条路径互斥
func (s *Assembler) warpOrResize(sample *model.Sample) error {
	fw, fh := sample.FinishingSize[0], sample.FinishingSize[1]
	w, h := sample.CanvasSize()

	if s.warp && identityDeviation(sample.Transform) > identityTolerance {
		m := homographyToMat(sample.Transform)
		defer m.Close()

		warped, err := warpNRGBA(sample.Preview, m, fw, fh)
		if err != nil {
			return err
		}
		sample.Preview = warped

		for _, layer := range sample.Layers {
			if warped, err = warpNRGBA(layer.Image, m, fw, fh); err != nil {
				return err
			}
			layer.Image = warped
		}
		return nil
	}

	if s.resizeToFinal && (w != fw || h != fh) {
		resized, err := resizeNRGBA(sample.Preview, fw, fh)
		if err != nil {
			return err
		}
		sample.Preview = resized

		for _, layer := range sample.Layers {
			if resized, err = resizeNRGBA(layer.Image, fw, fh); err != nil {
				return err
			}
			layer.Image = resized
		}
	}
	return nil
}

func (s *Assembler) applyAugmentation(sample *model.Sample) error {
	// 一个样本只掷一次参数，保证图层间配准不被破坏
	s.augment.Roll()

	preview, err := s.augment.Apply(sample.Preview)
	if err != nil {
		return fmt.Errorf("failed to augment preview: %w", err)
	}
	sample.Preview = preview

	for _, layer := range sample.Layers {
		img, err := s.augment.Apply(layer.Image)
		if err != nil {
			return fmt.Errorf("failed to augment layer %q: %w", layer.Name, err)
		}
		layer.Image = img
	}
	return nil
}

// normalize 图层归一化、不透明度预乘与裁剪解析
func (s *Assembler) normalize(sample *model.Sample) []StackEntry {
	var entries []StackEntry
	var parent model.LayerTensor
	haveParent := false

	for _, layer := range sample.Layers {
		if !layer.Visible || layer.Opacity == 0 || alphaBBox(layer.Image).Empty() {
			// 不可见或全透明的图层按不存在处理
			continue
		}

		t := tensorFromNRGBA(layer.Image, layer.Opacity)

		if !haveParent || !layer.IsClip {
			parent = t
			haveParent = true
		}
		if layer.IsClip {
			resolveClip(t, parent)
		}

		entries = append(entries, StackEntry{Image: t, Mode: layer.BlendMode})
	}
	return entries
}

// resolveClip 将裁剪图层的alpha限制在父图层alpha内，
// 并把alpha归零处的RGB清零，防止透明区颜色渗入后续运算
func resolveClip(t, parent model.LayerTensor) {
	for i := 0; i+3 < len(t.Data); i += 4 {
		a := t.Data[i+3] * parent.Data[i+3]
		t.Data[i+3] = a
		if a == 0 {
			t.Data[i] = 0
			t.Data[i+1] = 0
			t.Data[i+2] = 0
		}
	}
}

// removeOccluded 自顶向下清除被完全不透明normal图层遮挡的像素
func removeOccluded(entries []StackEntry) {
	if len(entries) == 0 {
		return
	}
	w := entries[0].Image.W
	h := entries[0].Image.H
	covered := make([]bool, w*h)

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Mode != model.BlendNormal {
			// 非normal图层不遮挡，也不参与覆盖掩码
			continue
		}
		img := entries[i].Image
		for p := 0; p < w*h; p++ {
			if covered[p] {
				img.Data[p*4] = 0
				img.Data[p*4+1] = 0
				img.Data[p*4+2] = 0
				img.Data[p*4+3] = 0
			}
		}
		for p := 0; p < w*h; p++ {
			if img.Data[p*4+3] == 1 {
				covered[p] = true
			}
		}
	}
}

// pack 随机丢弃或前置padding补齐到定长批次
func (s *Assembler) pack(entries []StackEntry, w, h int) *model.TensorBatch {
	trueCount := len(entries)

	for len(entries) > s.maxLayers {
		idx := s.rng.Intn(len(entries))
		entries = append(entries[:idx], entries[idx+1:]...)
	}

	batch := &model.TensorBatch{
		Layers:    make([]model.LayerTensor, 0, s.maxLayers),
		OneHot:    make([][]float32, 0, s.maxLayers),
		TrueCount: trueCount,
	}

	for i := len(entries); i < s.maxLayers; i++ {
		batch.Layers = append(batch.Layers, model.NewLayerTensor(w, h))
		batch.OneHot = append(batch.OneHot, model.OneHotRow(model.BlendPadding))
	}
	for _, e := range entries {
		batch.Layers = append(batch.Layers, e.Image)
		batch.OneHot = append(batch.OneHot, model.OneHotRow(e.Mode))
	}
	return batch
}

// PreviewTensor 仅加载预览的RGB张量，经过同样的warp/resize策略。
// aug为nil时使用组装器自身的增广（若配置）并重掷参数。
func (s *Assembler) PreviewTensor(sample *model.Sample, aug *Augmentation) (model.ImageTensor, error) {
	if err := s.warpOrResize(sample); err != nil {
		return model.ImageTensor{}, err
	}

	preview := sample.Preview
	switch {
	case aug != nil:
		var err error
		if preview, err = aug.Apply(preview); err != nil {
			return model.ImageTensor{}, err
		}
	case s.augment != nil:
		var err error
		if preview, err = s.augment.Roll().Apply(preview); err != nil {
			return model.ImageTensor{}, err
		}
	}

	b := preview.Bounds()
	out := model.NewImageTensor(b.Dx(), b.Dy(), 0)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			off := y*preview.Stride + x*4
			out.Set(x, y, 0, float32(preview.Pix[off])/255)
			out.Set(x, y, 1, float32(preview.Pix[off+1])/255)
			out.Set(x, y, 2, float32(preview.Pix[off+2])/255)
		}
	}
	return out, nil
}

// tensorFromNRGBA 转为[0,1]float32张量并把不透明度预乘进alpha通道
func tensorFromNRGBA(img *image.NRGBA, opacity uint8) model.LayerTensor {
	b := img.Bounds()
	t := model.NewLayerTensor(b.Dx(), b.Dy())
	opacityScale := float32(opacity) / 255

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			off := y*img.Stride + x*4
			idx := (y*t.W + x) * 4
			t.Data[idx] = float32(img.Pix[off]) / 255
			t.Data[idx+1] = float32(img.Pix[off+1]) / 255
			t.Data[idx+2] = float32(img.Pix[off+2]) / 255
			t.Data[idx+3] = float32(img.Pix[off+3]) / 255 * opacityScale
		}
	}
	return t
}

// warpNRGBA 透视变换到finishing尺寸
func warpNRGBA(img *image.NRGBA, m gocv.Mat, w, h int) (*image.NRGBA, error) {
	src, err := matFromNRGBA(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpPerspective(src, &dst, m, image.Point{X: w, Y: h})

	return nrgbaFromMat(dst)
}

// resizeNRGBA 面积插值缩放（抗锯齿）
func resizeNRGBA(img *image.NRGBA, w, h int) (*image.NRGBA, error) {
	src, err := matFromNRGBA(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationArea)

	return nrgbaFromMat(dst)
}
