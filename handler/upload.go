package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mokecome/background-removal/config"
	"github.com/mokecome/background-removal/model"
	"github.com/mokecome/background-removal/service"
	"github.com/mokecome/background-removal/utils"
)

type UploadHandler struct {
	cfg          *config.Config
	redisService *service.RedisService
	pipeline     *service.TierPipeline
}

func NewUploadHandler(cfg *config.Config, redis *service.RedisService, pipeline *service.TierPipeline) *UploadHandler {
	return &UploadHandler{
		cfg:          cfg,
		redisService: redis,
		pipeline:     pipeline,
	}
}

// Cutout 处理单张图片抠图
func (h *UploadHandler) Cutout(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		utils.Logger.Error("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
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

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的文件类型，仅支持 JPEG/PNG",
		})
		return
	}

	data, err := readUpload(file)
	if err != nil {
		utils.Logger.Error("failed to read file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "读取文件失败",
			Error:   err.Error(),
		})
		return
	}

	tier := c.DefaultPostForm("tier", "")
	if tier != "" {
		if _, ok := service.ParseTier(tier); !ok {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Success: false,
				Message: "无效的档位参数，可选 fast/balanced/precise",
			})
			return
		}
	}

	md5 := utils.BytesMD5(data)
	cacheKey := md5 + ":auto"
	if tier != "" {
		cacheKey = md5 + ":" + tier
	}

	utils.Logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("md5", md5),
		zap.Int64("size", file.Size),
		zap.String("tier", tier))

	// 检查缓存（带档位区分）
	ctx := context.Background()
	cachedRecord, err := h.redisService.GetCutoutRecord(ctx, cacheKey)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
	}

	if cachedRecord != nil {
		utils.Logger.Info("cache hit", zap.String("cache_key", cacheKey))
		c.JSON(http.StatusOK, model.CutoutResponse{
			Success: true,
			Message: "处理成功（来自缓存）",
			Data:    cachedRecord,
		})
		return
	}

	record, procErr := h.processOne(ctx, data, contentType, tier, file.Filename, md5)
	if procErr != nil {
		utils.Logger.Error("failed to process image", zap.Error(procErr))
		status := http.StatusInternalServerError
		if service.IsDecodeError(procErr) {
			status = http.StatusBadRequest
		}
		c.JSON(status, model.ErrorResponse{
			Success: false,
			Message: "图片处理失败",
			Error:   procErr.Error(),
		})
		return
	}

	// 保存到缓存
	if err := h.redisService.SetCutoutRecord(ctx, cacheKey, record); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, model.CutoutResponse{
		Success: true,
		Message: "处理成功",
		Data:    record,
	})
}

// Analyze 分析图片并推荐档位
func (h *UploadHandler) Analyze(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return
	}

	contentType := file.Header.Get("Content-Type")
	if file.Size > h.cfg.Upload.MaxSize || !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "文件过大或类型不支持",
		})
		return
	}

	data, err := readUpload(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "读取文件失败",
			Error:   err.Error(),
		})
		return
	}

	img, err := service.DecodeImage(data, contentType, h.cfg.Upload.MaxSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "图片解码失败",
			Error:   err.Error(),
		})
		return
	}

	analyzer := h.pipeline.Analyzer()
	fv := analyzer.Analyze(img)
	tier, reason := analyzer.Recommend(fv)

	c.JSON(http.StatusOK, model.AnalyzeResponse{
		Success: true,
		Message: "分析成功",
		Data: &model.Recommendation{
			Features:      featuresToModel(fv),
			SuggestedTier: string(tier),
			Reason:        reason,
		},
	})
}

// Batch 批量抠图，单个文件失败不影响其它文件
func (h *UploadHandler) Batch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return
	}

	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "images 字段为空",
		})
		return
	}

	batchID := utils.GenerateID()
	tier := c.DefaultPostForm("tier", "")
	ctx := context.Background()
	items := make([]model.BatchItem, len(files))

	utils.Logger.Info("batch started",
		zap.String("batch_id", batchID),
		zap.Int("files", len(files)),
		zap.String("tier", tier))

	// 批内图片相互独立，可以并行处理；并发度由pipeline信号量约束
	var wg sync.WaitGroup
	for i, file := range files {
		wg.Add(1)
		go func(i int, file *multipart.FileHeader) {
			defer wg.Done()
			items[i] = h.processBatchItem(ctx, file, tier)
		}(i, file)
	}
	wg.Wait()

	succeeded := 0
	for _, item := range items {
		if item.Success {
			succeeded++
		}
	}

	utils.Logger.Info("batch finished",
		zap.String("batch_id", batchID),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(items)-succeeded))

	c.JSON(http.StatusOK, model.BatchResponse{
		Success: true,
		Message: fmt.Sprintf("处理完成：%d/%d 成功", succeeded, len(items)),
		Items:   items,
	})
}

// GetByMD5 根据MD5获取抠图结果
func (h *UploadHandler) GetByMD5(c *gin.Context) {
	md5 := c.Param("md5")
	if md5 == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "MD5参数缺失",
		})
		return
	}

	tier := c.DefaultQuery("tier", "auto")
	ctx := context.Background()
	record, err := h.redisService.GetCutoutRecord(ctx, md5+":"+tier)
	if err != nil {
		utils.Logger.Error("failed to get cutout record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "查询失败",
			Error:   err.Error(),
		})
		return
	}

	if record == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该图片的抠图结果",
		})
		return
	}

	c.JSON(http.StatusOK, model.CutoutResponse{
		Success: true,
		Message: "查询成功",
		Data:    record,
	})
}

func (h *UploadHandler) processBatchItem(ctx context.Context, file *multipart.FileHeader, tier string) model.BatchItem {
	item := model.BatchItem{FileName: file.Filename}

	contentType := file.Header.Get("Content-Type")
	if file.Size > h.cfg.Upload.MaxSize {
		item.Error = "文件大小超过限制"
		return item
	}
	if !h.isAllowedType(contentType) {
		item.Error = "不支持的文件类型"
		return item
	}

	data, err := readUpload(file)
	if err != nil {
		item.Error = err.Error()
		return item
	}

	record, err := h.processOne(ctx, data, contentType, tier, file.Filename, utils.BytesMD5(data))
	if err != nil {
		item.Error = err.Error()
		return item
	}

	item.Success = true
	item.Data = record
	return item
}

// processOne 解码并走完整条抠图流水线，返回可缓存的结果记录
func (h *UploadHandler) processOne(ctx context.Context, data []byte, contentType, tier, filename, md5 string) (*model.CutoutRecord, error) {
	img, err := service.DecodeImage(data, contentType, h.cfg.Upload.MaxSize)
	if err != nil {
		return nil, err
	}

	decision := h.pipeline.Decide(img, tier)
	result, err := h.pipeline.Process(ctx, img, decision, filename)
	if err != nil {
		return nil, err
	}

	pngData, err := result.Image.EncodePNG()
	if err != nil {
		return nil, err
	}

	tierRequested := "auto"
	if !decision.Auto {
		tierRequested = string(decision.Tier)
	}

	record := &model.CutoutRecord{
		MD5:           md5,
		Width:         result.Image.Width,
		Height:        result.Image.Height,
		TierRequested: tierRequested,
		TierUsed:      string(result.TierUsed),
		Degradations:  result.Degradations,
		FileName:      deriveFileName(h.cfg.Output.FilenamePrefix, filename),
		Image:         base64.StdEncoding.EncodeToString(pngData),
		Timestamp:     time.Now().Unix(),
	}
	if decision.Features != nil {
		fv := featuresToModel(*decision.Features)
		record.Features = &fv
	}
	return record, nil
}

func (h *UploadHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// deriveFileName 下载文件名 = 前缀 + 原始文件名（扩展名改为png）
func deriveFileName(prefix, original string) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	if base == "" || base == "." {
		base = "image"
	}
	return prefix + base + ".png"
}

func featuresToModel(fv service.FeatureVector) model.FeatureVector {
	return model.FeatureVector{
		SkinRatio:         fv.SkinRatio,
		ColorVariance:     fv.ColorVariance,
		EdgeDensity:       fv.EdgeDensity,
		TextureComplexity: fv.TextureComplexity,
		Complexity:        fv.Complexity,
		HasHuman:          fv.HasHuman,
	}
}
