package service

import (
	"github.com/TIANLI0/LayerFlow/config"
	"github.com/TIANLI0/LayerFlow/model"
	"github.com/TIANLI0/LayerFlow/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Aligner 负责快照链的单应对齐。
// 对齐是尽力而为的：证据不足时退化为单位矩阵，永不报错。
type Aligner struct {
	minMatchCount  int
	ratioThreshold float64
	ransacReproj   float64
	identityTol    float64
	iouThreshold   float64
}

func NewAligner(cfg *config.AlignConfig) *Aligner {
	return &Aligner{
		minMatchCount:  cfg.MinMatchCount,
		ratioThreshold: cfg.RatioThreshold,
		ransacReproj:   cfg.RansacReproj,
		identityTol:    cfg.IdentityTol,
		iouThreshold:   cfg.IoUThreshold,
	}
}

// AlignChain 一条从最新快照开始的对齐链。
// 逐个送入更旧的快照，内部维护累计变换与运行参考图。
type AlignChain struct {
	aligner   *Aligner
	m         [9]float64
	reference gocv.Mat
}

// NewChain 以最终快照的灰度渲染为参考，开启一条对齐链
func (a *Aligner) NewChain(reference gocv.Mat) *AlignChain {
	return &AlignChain{
		aligner:   a,
		m:         model.Identity(),
		reference: reference.Clone(),
	}
}

// Close 释放链持有的参考图
func (c *AlignChain) Close() {
	c.reference.Close()
}

// Advance 送入下一个更旧快照的灰度渲染，返回其到最终快照的累计变换。
// width/height为该快照的画布尺寸，用于角点合理性检查。
func (c *AlignChain) Advance(current gocv.Mat, width, height int) [9]float64 {
	perspective := c.aligner.estimatePair(current, c.reference)

	c.m = c.aligner.reconcile(composeHomography(c.m, perspective), width, height)

	c.reference.Close()
	c.reference = current.Clone()

	return c.m
}

// reconcile 对累计变换做漂移钉扎与角点合理性检查
func (a *Aligner) reconcile(m [9]float64, width, height int) [9]float64 {
	if identityDeviation(m) < a.identityTol {
		// 漂移可忽略时钉回单位矩阵，避免浮点噪声累积
		return model.Identity()
	}

	src := rect{0, 0, float64(width - 1), float64(height - 1)}
	dst := projectedBounds(m, width, height)
	if iou := rectIoU(src, dst); iou < a.iouThreshold {
		utils.Logger.Warn("implausible homography, falling back to identity",
			zap.Float64("iou", iou),
			zap.Int("width", width),
			zap.Int("height", height))
		return model.Identity()
	}
	return m
}

// Resume 直接采用外部提供的累计变换（如缓存命中）并推进参考图
func (c *AlignChain) Resume(current gocv.Mat, m [9]float64) {
	c.m = m
	c.reference.Close()
	c.reference = current.Clone()
}

// estimatePair 估计current→reference的增量单应矩阵。
// 特征不足或拟合失败时返回单位矩阵。
func (a *Aligner) estimatePair(current, reference gocv.Mat) [9]float64 {
	sift := gocv.NewSIFT()
	defer sift.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kp1, des1 := sift.DetectAndCompute(current, mask)
	defer des1.Close()
	kp2, des2 := sift.DetectAndCompute(reference, mask)
	defer des2.Close()

	if des1.Empty() || des2.Empty() || len(kp1) < 2 || len(kp2) < 2 {
		return model.Identity()
	}

	flann := gocv.NewFlannBasedMatcher()
	defer flann.Close()

	matches := flann.KnnMatch(des1, des2, 2)

	// Lowe比率测试过滤匹配
	var good []gocv.DMatch
	for _, pair := range matches {
		if len(pair) < 2 {
			continue
		}
		if pair[0].Distance < a.ratioThreshold*pair[1].Distance {
			good = append(good, pair[0])
		}
	}

	if len(good) < a.minMatchCount {
		utils.Logger.Debug("insufficient feature matches, using identity",
			zap.Int("matches", len(good)),
			zap.Int("required", a.minMatchCount))
		return model.Identity()
	}

	srcPts := gocv.NewMatWithSize(len(good), 1, gocv.MatTypeCV64FC2)
	defer srcPts.Close()
	dstPts := gocv.NewMatWithSize(len(good), 1, gocv.MatTypeCV64FC2)
	defer dstPts.Close()

	for i, m := range good {
		p := kp1[m.QueryIdx]
		q := kp2[m.TrainIdx]
		srcPts.SetDoubleAt(i, 0, p.X)
		srcPts.SetDoubleAt(i, 1, p.Y)
		dstPts.SetDoubleAt(i, 0, q.X)
		dstPts.SetDoubleAt(i, 1, q.Y)
	}

	inliers := gocv.NewMat()
	defer inliers.Close()

	h := gocv.FindHomography(srcPts, &dstPts, gocv.HomographyMethodRANSAC, a.ransacReproj, &inliers, 2000, 0.995)
	defer h.Close()

	if h.Empty() {
		return model.Identity()
	}
	return homographyFromMat(h)
}
