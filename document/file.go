package document

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"image"
	"os"

	"github.com/TIANLI0/LayerFlow/model"
	"github.com/TIANLI0/LayerFlow/utils"
)

// Ext 导出器文档文件扩展名
const Ext = ".lsd"

// 磁盘文档载荷，图像以PNG字节存储
type fileDocument struct {
	Width   int
	Height  int
	Preview []byte
	Layers  []fileLayer
}

type fileLayer struct {
	Name      string
	X1, Y1    int
	X2, Y2    int
	Opacity   uint8
	Visible   bool
	BlendMode string
	PNG       []byte
	Clips     []fileLayer
}

// Open 读取导出器产出的文档文件
func Open(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	var fd fileDocument
	if err := gob.NewDecoder(f).Decode(&fd); err != nil {
		return nil, fmt.Errorf("corrupt document %s: %w", path, err)
	}

	doc := &Document{Width: fd.Width, Height: fd.Height}
	if len(fd.Preview) > 0 {
		preview, err := utils.DecodePNG(fd.Preview)
		if err != nil {
			return nil, fmt.Errorf("corrupt document preview %s: %w", path, err)
		}
		doc.Preview = preview
	}

	for i := range fd.Layers {
		layer, err := fd.Layers[i].toLayer()
		if err != nil {
			return nil, fmt.Errorf("corrupt document layer %s: %w", path, err)
		}
		doc.Layers = append(doc.Layers, layer)
	}
	return doc, nil
}

// Save 写出文档文件，供测试与导出端使用
func Save(path string, doc *Document) error {
	fd := fileDocument{Width: doc.Width, Height: doc.Height}
	if doc.Preview != nil {
		data, err := utils.EncodePNG(doc.Preview)
		if err != nil {
			return err
		}
		fd.Preview = data
	}
	for _, l := range doc.Layers {
		fl, err := fromLayer(l)
		if err != nil {
			return err
		}
		fd.Layers = append(fd.Layers, fl)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&fd); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func (fl *fileLayer) toLayer() (*Layer, error) {
	layer := &Layer{
		Name:      fl.Name,
		BBox:      image.Rect(fl.X1, fl.Y1, fl.X2, fl.Y2),
		Opacity:   fl.Opacity,
		Visible:   fl.Visible,
		BlendMode: model.ParseBlendMode(fl.BlendMode),
	}
	if len(fl.PNG) > 0 {
		img, err := utils.DecodePNG(fl.PNG)
		if err != nil {
			return nil, err
		}
		layer.Image = img
	}
	for i := range fl.Clips {
		clip, err := fl.Clips[i].toLayer()
		if err != nil {
			return nil, err
		}
		layer.Clips = append(layer.Clips, clip)
	}
	return layer, nil
}

func fromLayer(l *Layer) (fileLayer, error) {
	fl := fileLayer{
		Name:      l.Name,
		X1:        l.BBox.Min.X,
		Y1:        l.BBox.Min.Y,
		X2:        l.BBox.Max.X,
		Y2:        l.BBox.Max.Y,
		Opacity:   l.Opacity,
		Visible:   l.Visible,
		BlendMode: l.BlendMode.String(),
	}
	if l.Image != nil {
		data, err := utils.EncodePNG(l.Image)
		if err != nil {
			return fl, err
		}
		fl.PNG = data
	}
	for _, c := range l.Clips {
		fc, err := fromLayer(c)
		if err != nil {
			return fl, err
		}
		fl.Clips = append(fl.Clips, fc)
	}
	return fl, nil
}
