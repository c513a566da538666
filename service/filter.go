package service

import (
	"github.com/TIANLI0/LayerFlow/model"
)

// StackEntry 组装过程中的一个图层张量及其混合模式
type StackEntry struct {
	Image model.LayerTensor
	Mode  model.BlendMode
}

// LayerFilter 图层内容过滤策略
type LayerFilter interface {
	Name() string
	Apply(entries []StackEntry, preview model.LayerTensor) []StackEntry
}

// IdentityFilter 保留全部图层
type IdentityFilter struct{}

func (IdentityFilter) Name() string { return "identity" }

func (IdentityFilter) Apply(entries []StackEntry, preview model.LayerTensor) []StackEntry {
	return entries
}

// DropFullFilter 丢弃近全覆盖的收尾图层与近空图层。
// 覆盖率按图层alpha均值相对预览alpha均值的比值衡量。
type DropFullFilter struct{}

func (DropFullFilter) Name() string { return "drop_full" }

func (DropFullFilter) Apply(entries []StackEntry, preview model.LayerTensor) []StackEntry {
	if len(entries) == 0 {
		return entries
	}

	previewAlpha := meanAlpha(preview)
	if previewAlpha == 0 {
		return entries
	}

	ret := make([]StackEntry, 0, len(entries))
	for i, e := range entries {
		ratio := meanAlpha(e.Image) / previewAlpha
		if ratio > 0.95 && i > len(entries)-2 {
			// 栈顶附近复制预览内容的收底图层
			continue
		}
		if ratio < 1e-5 {
			continue
		}
		ret = append(ret, e)
	}
	return ret
}

// FilterByName 按配置名称选择过滤策略，未知名称回退为identity
func FilterByName(name string) LayerFilter {
	if name == "drop_full" {
		return DropFullFilter{}
	}
	return IdentityFilter{}
}

func meanAlpha(t model.LayerTensor) float64 {
	if t.W == 0 || t.H == 0 {
		return 0
	}
	var sum float64
	for i := 3; i < len(t.Data); i += 4 {
		sum += float64(t.Data[i])
	}
	return sum / float64(t.W*t.H)
}
