package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/TIANLI0/LayerFlow/config"
	"github.com/TIANLI0/LayerFlow/container"
	"github.com/TIANLI0/LayerFlow/model"
	"github.com/TIANLI0/LayerFlow/service"
	"github.com/TIANLI0/LayerFlow/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// renderCacheKey 渲染缓存键。上传与查询两条路径都经由这里，
// 保证等价的背景亮度写法（"1"与"1.0"）命中同一条缓存。
func renderCacheKey(md5 string, background float64) string {
	return fmt.Sprintf("%s:%g", md5, background)
}

// RenderHandler 样本容器的离线渲染接口
type RenderHandler struct {
	cfg          *config.Config
	redisService *service.RedisService
	assembler    *service.Assembler
	compositor   *service.Compositor
}

func NewRenderHandler(cfg *config.Config, redis *service.RedisService, assembler *service.Assembler, compositor *service.Compositor) *RenderHandler {
	return &RenderHandler{
		cfg:          cfg,
		redisService: redis,
		assembler:    assembler,
		compositor:   compositor,
	}
}

// Render 接收上传的样本容器，返回合成后的PNG预览
func (h *RenderHandler) Render(c *gin.Context) {
	file, err := c.FormFile("sample")
	if err != nil {
		utils.Logger.Error("failed to get uploaded sample", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传样本容器文件",
			Error:   err.Error(),
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	background := 1.0
	if v := c.DefaultPostForm("background", "1"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			background = parsed
		}
	}

	// 保存文件
	filename := fmt.Sprintf("%d%s", utils.GenerateID(), container.Ext)
	savePath := filepath.Join(h.cfg.Upload.UploadDir, filename)
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		utils.Logger.Error("failed to save file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "保存文件失败",
			Error:   err.Error(),
		})
		return
	}
	defer func() {
		if err := os.Remove(savePath); err != nil {
			utils.Logger.Warn("failed to delete temp file",
				zap.String("file", savePath),
				zap.Error(err))
		}
	}()

	// 计算MD5
	md5, err := utils.FileMD5(savePath)
	if err != nil {
		utils.Logger.Error("failed to calculate md5", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "计算文件哈希失败",
			Error:   err.Error(),
		})
		return
	}

	utils.Logger.Info("sample uploaded",
		zap.String("filename", filename),
		zap.String("md5", md5),
		zap.Int64("size", file.Size),
		zap.Float64("background", background))

	// 检查缓存（背景亮度参与键区分）
	ctx := context.Background()
	cacheKey := renderCacheKey(md5, background)

	if cached, err := h.redisService.GetRender(ctx, cacheKey); err != nil {
		utils.Logger.Warn("failed to get render cache", zap.Error(err))
	} else if cached != nil {
		utils.Logger.Info("render cache hit", zap.String("cache_key", cacheKey))
		c.JSON(http.StatusOK, model.RenderResponse{
			Success: true,
			Message: "渲染成功（来自缓存）",
			Data: &model.RenderData{
				MD5:        md5,
				Background: background,
				Image:      base64.StdEncoding.EncodeToString(cached),
				Timestamp:  time.Now().Unix(),
			},
		})
		return
	}

	sample, err := container.Read(savePath)
	if err != nil {
		utils.Logger.Error("failed to read container", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "样本容器损坏",
			Error:   err.Error(),
		})
		return
	}

	batch, err := h.assembler.Assemble(sample)
	if err != nil {
		utils.Logger.Error("failed to assemble sample", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "样本组装失败",
			Error:   err.Error(),
		})
		return
	}

	rendered := h.compositor.RenderNRGBA(batch, float32(background))
	data, err := utils.EncodePNG(rendered)
	if err != nil {
		utils.Logger.Error("failed to encode render", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "渲染编码失败",
			Error:   err.Error(),
		})
		return
	}

	// 保存到缓存
	if err := h.redisService.SetRender(ctx, cacheKey, data); err != nil {
		utils.Logger.Warn("failed to set render cache", zap.Error(err))
	}

	b := rendered.Bounds()
	c.JSON(http.StatusOK, model.RenderResponse{
		Success: true,
		Message: "渲染成功",
		Data: &model.RenderData{
			MD5:        md5,
			Width:      b.Dx(),
			Height:     b.Dy(),
			Layers:     batch.TrueCount,
			Background: background,
			Image:      base64.StdEncoding.EncodeToString(data),
			Timestamp:  time.Now().Unix(),
		},
	})
}

// GetByMD5 按MD5与背景亮度查询缓存的渲染结果
func (h *RenderHandler) GetByMD5(c *gin.Context) {
	md5 := c.Param("md5")
	if md5 == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "MD5参数缺失",
		})
		return
	}
	background := 1.0
	if v := c.DefaultQuery("background", "1"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			background = parsed
		}
	}

	ctx := context.Background()
	cacheKey := renderCacheKey(md5, background)
	data, err := h.redisService.GetRender(ctx, cacheKey)
	if err != nil {
		utils.Logger.Error("failed to get render result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "查询失败",
			Error:   err.Error(),
		})
		return
	}

	if data == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该样本的渲染结果",
		})
		return
	}

	c.JSON(http.StatusOK, model.RenderResponse{
		Success: true,
		Message: "查询成功",
		Data: &model.RenderData{
			MD5:        md5,
			Background: background,
			Image:      base64.StdEncoding.EncodeToString(data),
			Timestamp:  time.Now().Unix(),
		},
	})
}
