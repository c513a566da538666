package model

// LayerTensor H×W×4的float32图层张量，HWC排布，取值[0,1]
type LayerTensor struct {
	W, H int
	Data []float32 // len == H*W*4
}

// NewLayerTensor 创建全零图层张量
func NewLayerTensor(w, h int) LayerTensor {
	return LayerTensor{W: w, H: h, Data: make([]float32, h*w*4)}
}

// At 读取 (x,y) 处通道c的值，c∈[0,4)
func (t LayerTensor) At(x, y, c int) float32 {
	return t.Data[(y*t.W+x)*4+c]
}

// Set 写入 (x,y) 处通道c的值
func (t LayerTensor) Set(x, y, c int, v float32) {
	t.Data[(y*t.W+x)*4+c] = v
}

// Clone 深拷贝
func (t LayerTensor) Clone() LayerTensor {
	d := make([]float32, len(t.Data))
	copy(d, t.Data)
	return LayerTensor{W: t.W, H: t.H, Data: d}
}

// ImageTensor H×W×3的float32 RGB张量，HWC排布
type ImageTensor struct {
	W, H int
	Data []float32 // len == H*W*3
}

// NewImageTensor 创建常量填充的RGB张量
func NewImageTensor(w, h int, fill float32) ImageTensor {
	t := ImageTensor{W: w, H: h, Data: make([]float32, h*w*3)}
	if fill != 0 {
		for i := range t.Data {
			t.Data[i] = fill
		}
	}
	return t
}

// At 读取 (x,y) 处通道c的值，c∈[0,3)
func (t ImageTensor) At(x, y, c int) float32 {
	return t.Data[(y*t.W+x)*3+c]
}

// Set 写入 (x,y) 处通道c的值
func (t ImageTensor) Set(x, y, c int, v float32) {
	t.Data[(y*t.W+x)*3+c] = v
}

// TensorBatch 定长图层张量批次
type TensorBatch struct {
	// Layers 长度恒为max_layers，前部为padding槽位（全零内容）
	Layers []LayerTensor
	// OneHot 每层的混合模式one-hot行，宽度OneHotWidth；
	// padding行同时置位normal列与padding列
	OneHot [][]float32
	// TrueCount 进入打包阶段的真实图层数（随机丢弃前）
	TrueCount int
}

// MaxLayers 批次容量
func (b *TensorBatch) MaxLayers() int {
	return len(b.Layers)
}

// OneHotRow 生成指定混合模式的one-hot行
func OneHotRow(m BlendMode) []float32 {
	row := make([]float32, OneHotWidth)
	row[int(m)] = 1
	if m == BlendPadding {
		// padding槽位折叠到normal，依赖其全零内容保证合成无效果
		row[int(BlendNormal)] = 1
	}
	return row
}

// Normalize 将[0,1]像素值映射到[-1,1]
func Normalize(v float32) float32 {
	return 2 * (v - 0.5)
}

// Denormalize 将[-1,1]像素值映射回[0,255]
func Denormalize(v float32) float32 {
	return (v + 1) / 2 * 255
}
