package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mokecome/background-removal/config"
	"github.com/mokecome/background-removal/handler"
	"github.com/mokecome/background-removal/middleware"
	"github.com/mokecome/background-removal/service"
	"github.com/mokecome/background-removal/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting background-removal server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 初始化Redis
	redisService := service.NewRedisService(&cfg.Redis)
	ctx := context.Background()
	if err := redisService.Ping(ctx); err != nil {
		utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
	} else {
		utils.Logger.Info("redis connected successfully")
	}
	defer redisService.Close()

	// 注册外部分割provider，没有配置endpoint的档位直接走降级链
	providers := make(map[service.Tier]service.MaskProvider)
	if cfg.Providers.Balanced.Endpoint != "" {
		providers[service.TierBalanced] = service.NewHTTPMaskProvider("person-matting", cfg.Providers.Balanced)
		utils.Logger.Info("balanced provider registered", zap.String("endpoint", cfg.Providers.Balanced.Endpoint))
	}
	if cfg.Providers.Precise.Endpoint != "" {
		providers[service.TierPrecise] = service.NewHTTPMaskProvider("deep-segmentation", cfg.Providers.Precise)
		utils.Logger.Info("precise provider registered", zap.String("endpoint", cfg.Providers.Precise.Endpoint))
	}

	// 初始化流水线
	pipeline := service.NewTierPipeline(&cfg.Pipeline, providers)

	// 初始化Handler
	uploadHandler := handler.NewUploadHandler(cfg, redisService, pipeline)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/cutout", uploadHandler.Cutout)
		api.GET("/cutout/:md5", uploadHandler.GetByMD5)
		api.POST("/analyze", uploadHandler.Analyze)
		api.POST("/batch", uploadHandler.Batch)
	}

	// 启动服务器
	utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := r.Run(cfg.Server.Port); err != nil {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
}
