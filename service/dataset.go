package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/TIANLI0/LayerFlow/config"
	"github.com/TIANLI0/LayerFlow/container"
	"github.com/TIANLI0/LayerFlow/document"
	"github.com/TIANLI0/LayerFlow/model"
	"github.com/TIANLI0/LayerFlow/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DatasetService 负责数据集目录的扫描、转换与批次加载。
// 目录约定：root/<group>/<index>.lsd，index单调递增，0为最早快照。
type DatasetService struct {
	alignCfg  config.AlignConfig
	aligner   *Aligner
	extractor *Extractor
	assembler *Assembler
	opener    document.Opener
	redis     *RedisService // 可为nil，关闭变换缓存
}

func NewDatasetService(cfg *config.Config, assembler *Assembler, redis *RedisService) *DatasetService {
	return &DatasetService{
		alignCfg:  cfg.Align,
		aligner:   NewAligner(&cfg.Align),
		extractor: NewExtractor(),
		assembler: assembler,
		opener:    document.Open,
		redis:     redis,
	}
}

// SetOpener 替换文档打开器（测试注入用）
func (s *DatasetService) SetOpener(opener document.Opener) {
	s.opener = opener
}

// Group 一个样本组：同一作品的快照文件，按index升序
type Group struct {
	Dir   string
	Files []string
}

// ScanGroups 扫描数据集根目录下的全部样本组
func ScanGroups(root, ext string) ([]Group, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset root: %w", err)
	}

	var groups []Group
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(root, d.Name())
		files, err := indexedFiles(dir, ext)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			continue
		}
		groups = append(groups, Group{Dir: dir, Files: files})
	}
	return groups, nil
}

// indexedFiles 列出目录下整数命名的指定扩展名文件，按index升序
func indexedFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read group dir %s: %w", dir, err)
	}

	var indices []int
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ext))
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	files := make([]string, 0, len(indices))
	for _, idx := range indices {
		files = append(files, filepath.Join(dir, strconv.Itoa(idx)+ext))
	}
	return files, nil
}

// ConvertAll 将数据集全部文档转换为样本容器。
// 样本组之间由固定大小的工作池并行处理；单组失败只记录并跳过。
func (s *DatasetService) ConvertAll(ctx context.Context, root string) error {
	groups, err := ScanGroups(root, document.Ext)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.alignCfg.Workers)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			if err := s.convertGroup(ctx, group); err != nil {
				// 单个样本组失败不拖垮整个任务
				utils.Logger.Error("failed to convert group, skipping",
					zap.String("dir", group.Dir),
					zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// convertGroup 处理一个样本组：最新快照为参考，逐个向旧对齐。
// 组内必须串行，每一步的参考图依赖上一步结果。
func (s *DatasetService) convertGroup(ctx context.Context, group Group) error {
	if len(group.Files) == 0 {
		return nil
	}

	// 从最新到最旧
	files := make([]string, len(group.Files))
	copy(files, group.Files)
	for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
		files[i], files[j] = files[j], files[i]
	}

	reference, err := s.opener(files[0])
	if err != nil {
		return fmt.Errorf("failed to open reference document: %w", err)
	}
	finishing := [2]int{reference.Width, reference.Height}

	if err := s.writeSample(files[0], reference, model.Identity(), finishing); err != nil {
		return err
	}
	if len(files) == 1 {
		return nil
	}

	refGray, err := grayFromNRGBA(reference.Composite())
	if err != nil {
		return err
	}
	chain := s.aligner.NewChain(refGray)
	refGray.Close()
	defer chain.Close()

	// 缓存作用域从参考快照的MD5起算，逐文件向旧滚动
	scope := ""
	if s.redis != nil {
		if md5, err := utils.FileMD5(files[0]); err == nil {
			scope = md5
		}
	}

	for _, path := range files[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}

		doc, err := s.opener(path)
		if err != nil {
			return fmt.Errorf("failed to open document %s: %w", path, err)
		}

		gray, err := grayFromNRGBA(doc.Composite())
		if err != nil {
			return err
		}

		key := ""
		if scope != "" {
			if md5, err := utils.FileMD5(path); err == nil {
				scope = transformCacheKey(scope, md5)
				key = scope
			} else {
				scope = ""
			}
		}

		m, cached := s.cachedTransform(ctx, key)
		if cached {
			chain.Resume(gray, m)
		} else {
			m = chain.Advance(gray, doc.Width, doc.Height)
			s.cacheTransform(ctx, key, m)
		}
		gray.Close()

		if err := s.writeSample(path, doc, m, finishing); err != nil {
			return err
		}
	}

	utils.Logger.Info("group converted",
		zap.String("dir", group.Dir),
		zap.Int("snapshots", len(files)))
	return nil
}

// writeSample 提取图层并写出样本容器，容器与文档同名仅换扩展名
func (s *DatasetService) writeSample(docPath string, doc *document.Document, m [9]float64, finishing [2]int) error {
	layers, preview := s.extractor.Extract(doc)
	sample := &model.Sample{
		Preview:       preview,
		Layers:        layers,
		Transform:     m,
		FinishingSize: finishing,
	}

	out := strings.TrimSuffix(docPath, document.Ext) + container.Ext
	if err := container.Write(out, sample); err != nil {
		return err
	}

	if s.alignCfg.DeleteSource {
		if err := os.Remove(docPath); err != nil {
			utils.Logger.Warn("failed to delete source document",
				zap.String("path", docPath), zap.Error(err))
		}
	}
	return nil
}

// transformCacheKey 对累计变换的缓存键做一步滚动哈希。
// 累计变换依赖参考快照与沿途每个更新的快照，键必须把这条链全部编入：
// 组里追加或替换任何更新的快照都会改变键，旧的缓存项随之失效。
func transformCacheKey(scope, docMD5 string) string {
	return utils.BytesMD5([]byte(scope + ":" + docMD5))
}

func (s *DatasetService) cachedTransform(ctx context.Context, key string) ([9]float64, bool) {
	if s.redis == nil || key == "" {
		return model.Identity(), false
	}
	m, err := s.redis.GetTransform(ctx, key)
	if err != nil {
		utils.Logger.Warn("failed to query transform cache", zap.Error(err))
		return model.Identity(), false
	}
	if m == nil {
		return model.Identity(), false
	}
	return *m, true
}

func (s *DatasetService) cacheTransform(ctx context.Context, key string, m [9]float64) {
	if s.redis == nil || key == "" {
		return
	}
	if err := s.redis.SetTransform(ctx, key, m); err != nil {
		utils.Logger.Warn("failed to cache transform", zap.Error(err))
	}
}

// Paths 列出数据集中全部样本容器路径
func (s *DatasetService) Paths(root string) ([]string, error) {
	groups, err := ScanGroups(root, container.Ext)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, g := range groups {
		paths = append(paths, g.Files...)
	}
	return paths, nil
}

// LoadTensor 加载一个样本容器并组装为训练批次
func (s *DatasetService) LoadTensor(path string) (*model.TensorBatch, error) {
	sample, err := container.Read(path)
	if err != nil {
		return nil, err
	}
	return s.assembler.Assemble(sample)
}

// LoadPreviewPair 加载 (当前快照, 最终快照) 的预览对，
// 共享同一组增广参数并归一化到[-1,1]
func (s *DatasetService) LoadPreviewPair(path string, aug *Augmentation) (model.ImageTensor, model.ImageTensor, error) {
	dir := filepath.Dir(path)
	files, err := indexedFiles(dir, container.Ext)
	if err != nil {
		return model.ImageTensor{}, model.ImageTensor{}, err
	}
	if len(files) == 0 {
		return model.ImageTensor{}, model.ImageTensor{}, fmt.Errorf("no containers in group %s", dir)
	}
	last := files[len(files)-1]

	if aug != nil {
		aug.Roll()
	}

	cur, err := s.loadPreview(path, aug)
	if err != nil {
		return model.ImageTensor{}, model.ImageTensor{}, err
	}
	final, err := s.loadPreview(last, aug)
	if err != nil {
		return model.ImageTensor{}, model.ImageTensor{}, err
	}
	return cur, final, nil
}

func (s *DatasetService) loadPreview(path string, aug *Augmentation) (model.ImageTensor, error) {
	sample, err := container.Read(path)
	if err != nil {
		return model.ImageTensor{}, err
	}
	t, err := s.assembler.PreviewTensor(sample, aug)
	if err != nil {
		return model.ImageTensor{}, err
	}
	for i := range t.Data {
		t.Data[i] = model.Normalize(t.Data[i])
	}
	return t, nil
}
