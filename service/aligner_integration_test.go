package service

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocv.io/x/gocv"
)

// texturedMat 生成带随机斑点纹理的灰度图，保证SIFT有足够特征
func texturedMat(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(256, 256, gocv.MatTypeCV8UC1)

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 80; i++ {
		center := image.Point{X: rng.Intn(256), Y: rng.Intn(256)}
		radius := 3 + rng.Intn(12)
		shade := uint8(60 + rng.Intn(195))
		gocv.Circle(&m, center, radius, color.RGBA{R: shade, G: shade, B: shade}, -1)
	}
	return m
}

// rotateMat 绕图像中心旋转指定角度
func rotateMat(t *testing.T, src gocv.Mat, angle float64) gocv.Mat {
	t.Helper()
	rot := gocv.GetRotationMatrix2D(image.Point{X: src.Cols() / 2, Y: src.Rows() / 2}, angle, 1.0)
	defer rot.Close()

	dst := gocv.NewMat()
	gocv.WarpAffine(src, &dst, rot, image.Point{X: src.Cols(), Y: src.Rows()})
	return dst
}

func TestAdvanceRecoversRotation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping OpenCV alignment test in short mode")
	}

	reference := texturedMat(t)
	defer reference.Close()
	rotated := rotateMat(t, reference, 10)
	defer rotated.Close()

	chain := testAligner().NewChain(reference)
	defer chain.Close()

	m := chain.Advance(rotated, 256, 256)

	// 从单应矩阵的旋转分量恢复角度
	angle := math.Atan2(m[3], m[0]) * 180 / math.Pi
	assert.InDelta(t, 10, math.Abs(angle), 2)
	// 纯旋转不应有明显透视分量
	assert.InDelta(t, 0, m[6], 1e-3)
	assert.InDelta(t, 0, m[7], 1e-3)
}

func TestAdvanceIdenticalSnapshotsSnapToIdentity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping OpenCV alignment test in short mode")
	}

	reference := texturedMat(t)
	defer reference.Close()
	same := reference.Clone()
	defer same.Close()

	chain := testAligner().NewChain(reference)
	defer chain.Close()

	m := chain.Advance(same, 256, 256)
	assert.Equal(t, [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, m)
}

func TestAdvanceFeaturelessInputUsesIdentity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping OpenCV alignment test in short mode")
	}

	blank := gocv.NewMatWithSize(128, 128, gocv.MatTypeCV8UC1)
	defer blank.Close()

	reference := texturedMat(t)
	defer reference.Close()

	chain := testAligner().NewChain(reference)
	defer chain.Close()

	m := chain.Advance(blank, 128, 128)
	assert.Equal(t, [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, m)
}

func TestResumeOverridesChainState(t *testing.T) {
	reference := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC1)
	defer reference.Close()

	chain := testAligner().NewChain(reference)
	defer chain.Close()

	cached := [9]float64{1, 0, 5, 0, 1, -3, 0, 0, 1}
	next := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC1)
	defer next.Close()

	chain.Resume(next, cached)
	require.Equal(t, cached, chain.m)
}
