package model

import (
	"image"
)

// BlendMode 图层混合模式
type BlendMode uint8

const (
	BlendNormal BlendMode = iota
	BlendMultiply
	BlendLinearDodge
	BlendScreen
	// BlendPadding 仅用于批次填充槽位，不是真实混合模式
	BlendPadding
)

// NumBlendModes 真实混合模式数量（不含padding）
const NumBlendModes = 4

// OneHotWidth 混合模式one-hot编码宽度（含padding列）
const OneHotWidth = NumBlendModes + 1

func (m BlendMode) String() string {
	switch m {
	case BlendNormal:
		return "normal"
	case BlendMultiply:
		return "multiply"
	case BlendLinearDodge:
		return "linear_dodge"
	case BlendScreen:
		return "screen"
	case BlendPadding:
		return "padding"
	}
	return "unknown"
}

// ParseBlendMode 解析混合模式名称，未知模式按normal处理
func ParseBlendMode(s string) BlendMode {
	switch s {
	case "multiply":
		return BlendMultiply
	case "linear_dodge":
		return BlendLinearDodge
	case "screen":
		return BlendScreen
	}
	return BlendNormal
}

// LayerRecord 单个图层记录，像素已补齐到画布尺寸
type LayerRecord struct {
	Name      string
	Image     *image.NRGBA // 与画布同尺寸的RGBA缓冲
	Opacity   uint8
	Visible   bool
	BlendMode BlendMode
	IsClip    bool
}

// Sample 一个快照样本：预览图、图层序列（自底向上）与对齐变换
type Sample struct {
	Preview *image.NRGBA
	Layers  []*LayerRecord
	// Transform 行主序3×3单应矩阵，映射本快照像素到最终快照坐标系
	Transform [9]float64
	// FinishingSize 最终快照的画布尺寸 (width, height)
	FinishingSize [2]int
}

// Identity 单位单应矩阵
func Identity() [9]float64 {
	return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// CanvasSize 返回预览图尺寸 (width, height)
func (s *Sample) CanvasSize() (int, int) {
	if s.Preview == nil {
		return 0, 0
	}
	b := s.Preview.Bounds()
	return b.Dx(), b.Dy()
}

// RenderResponse 渲染接口响应
type RenderResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    *RenderData `json:"data,omitempty"`
}

// RenderData 渲染结果
type RenderData struct {
	MD5        string  `json:"md5"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Layers     int     `json:"layers"`
	Background float64 `json:"background"`
	Image      string  `json:"image"` // base64编码的PNG
	Timestamp  int64   `json:"timestamp"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
