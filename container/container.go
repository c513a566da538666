// Package container 实现样本容器的磁盘封装。
// 一个容器保存一个快照的预览、图层栈与对齐变换，写一次读多次。
package container

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/TIANLI0/LayerFlow/model"
	"github.com/TIANLI0/LayerFlow/utils"
)

// Ext 样本容器文件扩展名
const Ext = ".lsc"

// 容器载荷，图像以PNG字节存储
type filePayload struct {
	Preview       []byte
	Layers        []layerPayload
	Transform     [9]float64
	FinishingSize [2]int
}

type layerPayload struct {
	Name      string
	PNG       []byte
	Opacity   uint8
	Visible   bool
	BlendMode string
	IsClip    bool
}

// Write 将样本序列化到path
func Write(path string, sample *model.Sample) error {
	payload := filePayload{
		Transform:     sample.Transform,
		FinishingSize: sample.FinishingSize,
	}

	if sample.Preview != nil {
		data, err := utils.EncodePNG(sample.Preview)
		if err != nil {
			return fmt.Errorf("failed to encode preview: %w", err)
		}
		payload.Preview = data
	}

	for _, layer := range sample.Layers {
		data, err := utils.EncodePNG(layer.Image)
		if err != nil {
			return fmt.Errorf("failed to encode layer %q: %w", layer.Name, err)
		}
		payload.Layers = append(payload.Layers, layerPayload{
			Name:      layer.Name,
			PNG:       data,
			Opacity:   layer.Opacity,
			Visible:   layer.Visible,
			BlendMode: layer.BlendMode.String(),
			IsClip:    layer.IsClip,
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return fmt.Errorf("failed to encode container: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Read 从path反序列化样本
func Read(path string) (*model.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode 从数据流反序列化样本
func Decode(r io.Reader) (*model.Sample, error) {
	var payload filePayload
	if err := gob.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("corrupt container: %w", err)
	}

	sample := &model.Sample{
		Transform:     payload.Transform,
		FinishingSize: payload.FinishingSize,
	}

	if len(payload.Preview) > 0 {
		preview, err := utils.DecodePNG(payload.Preview)
		if err != nil {
			return nil, fmt.Errorf("corrupt container preview: %w", err)
		}
		sample.Preview = preview
	}

	for i := range payload.Layers {
		lp := &payload.Layers[i]
		img, err := utils.DecodePNG(lp.PNG)
		if err != nil {
			return nil, fmt.Errorf("corrupt container layer %q: %w", lp.Name, err)
		}
		sample.Layers = append(sample.Layers, &model.LayerRecord{
			Name:      lp.Name,
			Image:     img,
			Opacity:   lp.Opacity,
			Visible:   lp.Visible,
			BlendMode: model.ParseBlendMode(lp.BlendMode),
			IsClip:    lp.IsClip,
		})
	}
	return sample, nil
}
