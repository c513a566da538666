package service

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// matFromNRGBA 将NRGBA图像转为8UC4 Mat（RGBA通道序原样保留）
func matFromNRGBA(img *image.NRGBA) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if img.Stride != w*4 {
		return gocv.Mat{}, fmt.Errorf("unexpected stride %d for width %d", img.Stride, w)
	}
	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, img.Pix)
}

// nrgbaFromMat 将8UC4 Mat转回NRGBA图像
func nrgbaFromMat(m gocv.Mat) (*image.NRGBA, error) {
	if m.Type() != gocv.MatTypeCV8UC4 {
		return nil, fmt.Errorf("unexpected mat type %v", m.Type())
	}
	data := m.ToBytes()
	img := image.NewNRGBA(image.Rect(0, 0, m.Cols(), m.Rows()))
	copy(img.Pix, data)
	return img, nil
}

// grayFromNRGBA 将NRGBA图像转为灰度Mat
func grayFromNRGBA(img *image.NRGBA) (gocv.Mat, error) {
	rgba, err := matFromNRGBA(img)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer rgba.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(rgba, &gray, gocv.ColorRGBAToGray)
	return gray, nil
}

// homographyToMat 行主序3×3矩阵转为64F Mat
func homographyToMat(m [9]float64) gocv.Mat {
	out := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.SetDoubleAt(i, j, m[i*3+j])
		}
	}
	return out
}

// homographyFromMat 64F 3×3 Mat转为行主序数组
func homographyFromMat(m gocv.Mat) [9]float64 {
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = m.GetDoubleAt(i, j)
		}
	}
	return out
}
