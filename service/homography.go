package service

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// composeHomography 计算 M·P，返回行主序结果
func composeHomography(m, p [9]float64) [9]float64 {
	a := mat.NewDense(3, 3, m[:])
	b := mat.NewDense(3, 3, p[:])
	var c mat.Dense
	c.Mul(a, b)

	var out [9]float64
	copy(out[:], c.RawMatrix().Data)
	return out
}

// identityDeviation 计算 ‖M−I‖ 的Frobenius范数
func identityDeviation(m [9]float64) float64 {
	d := mat.NewDense(3, 3, m[:])
	var diff mat.Dense
	diff.Sub(d, eye3())
	return mat.Norm(&diff, 2)
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// projectPoint 将像素坐标 (x,y) 经单应矩阵投影
func projectPoint(m [9]float64, x, y float64) (float64, float64) {
	w := m[6]*x + m[7]*y + m[8]
	if w == 0 {
		return 0, 0
	}
	return (m[0]*x + m[1]*y + m[2]) / w, (m[3]*x + m[4]*y + m[5]) / w
}

// rect 轴对齐矩形 (x1, y1, x2, y2)
type rect struct {
	x1, y1, x2, y2 float64
}

// projectedBounds 画布四角经M投影后的轴对齐包围矩形
func projectedBounds(m [9]float64, width, height int) rect {
	corners := [4][2]float64{
		{0, 0},
		{0, float64(height - 1)},
		{float64(width - 1), float64(height - 1)},
		{float64(width - 1), 0},
	}
	r := rect{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, c := range corners {
		x, y := projectPoint(m, c[0], c[1])
		r.x1 = math.Min(r.x1, x)
		r.y1 = math.Min(r.y1, y)
		r.x2 = math.Max(r.x2, x)
		r.y2 = math.Max(r.y2, y)
	}
	return r
}

// rectIoU 两个轴对齐矩形的交并比
func rectIoU(a, b rect) float64 {
	xA := math.Max(a.x1, b.x1)
	yA := math.Max(a.y1, b.y1)
	xB := math.Min(a.x2, b.x2)
	yB := math.Min(a.y2, b.y2)

	inter := math.Max(xB-xA, 0) * math.Max(yB-yA, 0)
	if inter == 0 {
		return 0
	}

	areaA := math.Abs((a.x2 - a.x1) * (a.y2 - a.y1))
	areaB := math.Abs((b.x2 - b.x1) * (b.y2 - b.y1))

	return inter / (areaA + areaB - inter)
}
