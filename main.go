package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/TIANLI0/LayerFlow/config"
	"github.com/TIANLI0/LayerFlow/container"
	"github.com/TIANLI0/LayerFlow/handler"
	"github.com/TIANLI0/LayerFlow/middleware"
	"github.com/TIANLI0/LayerFlow/service"
	"github.com/TIANLI0/LayerFlow/utils"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "layerflow",
		Short: "Layered-snapshot dataset pipeline: align, package, assemble, render",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")

	root.AddCommand(serveCmd(), convertCmd(), renderCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 加载配置并初始化日志
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.New()
	}

	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the preview render HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			defer utils.Sync()

			utils.Logger.Info("starting LayerFlow server",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
				zap.String("git_branch", GitBranch))

			// 确保上传目录存在
			if err := os.MkdirAll(cfg.Upload.UploadDir, 0755); err != nil {
				utils.Logger.Fatal("failed to create upload directory", zap.Error(err))
			}

			// 初始化Redis
			redisService := service.NewRedisService(&cfg.Redis)
			ctx := context.Background()
			if err := redisService.Ping(ctx); err != nil {
				utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			} else {
				utils.Logger.Info("redis connected successfully")
			}
			defer redisService.Close()

			// 渲染端不做增广
			assembler := service.NewAssembler(&cfg.Assemble)
			compositor := service.NewCompositor()
			renderHandler := handler.NewRenderHandler(cfg, redisService, assembler, compositor)

			gin.SetMode(cfg.Server.Mode)

			r := gin.New()
			r.Use(gin.Recovery())
			r.Use(middleware.Logger())
			r.Use(middleware.CORS())

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
					"git_commit": GitCommit,
					"git_branch": GitBranch,
				})
			})

			api := r.Group("/api/v1")
			{
				api.POST("/render", renderHandler.Render)
				api.GET("/render/:md5", renderHandler.GetByMD5)
			}

			utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
			if err := r.Run(cfg.Server.Port); err != nil {
				utils.Logger.Fatal("failed to start server", zap.Error(err))
			}
		},
	}
}

func convertCmd() *cobra.Command {
	var noCache bool
	cmd := &cobra.Command{
		Use:   "convert <dataset-root>",
		Short: "Align snapshot chains and package documents into sample containers",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			defer utils.Sync()

			var redisService *service.RedisService
			if !noCache {
				redisService = service.NewRedisService(&cfg.Redis)
				if err := redisService.Ping(context.Background()); err != nil {
					utils.Logger.Warn("redis connection failed, transform cache disabled", zap.Error(err))
					redisService = nil
				} else {
					defer redisService.Close()
				}
			}

			assembler := service.NewAssembler(&cfg.Assemble)
			dataset := service.NewDatasetService(cfg, assembler, redisService)

			start := time.Now()
			if err := dataset.ConvertAll(context.Background(), args[0]); err != nil {
				utils.Logger.Fatal("conversion failed", zap.Error(err))
			}
			utils.Logger.Info("dataset converted",
				zap.String("root", args[0]),
				zap.Duration("duration", time.Since(start)))
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the redis transform cache")
	return cmd
}

func renderCmd() *cobra.Command {
	var output string
	var background float64
	cmd := &cobra.Command{
		Use:   "render <container>",
		Short: "Composite a sample container into a flat PNG",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			defer utils.Sync()

			sample, err := container.Read(args[0])
			if err != nil {
				utils.Logger.Fatal("failed to read container", zap.Error(err))
			}

			assembler := service.NewAssembler(&cfg.Assemble)
			if cfg.Augment.Enabled {
				rng := rand.New(rand.NewSource(time.Now().UnixNano()))
				assembler.SetAugmentation(service.NewAugmentation(&cfg.Augment, rng))
			}

			batch, err := assembler.Assemble(sample)
			if err != nil {
				utils.Logger.Fatal("failed to assemble sample", zap.Error(err))
			}

			img := service.NewCompositor().RenderNRGBA(batch, float32(background))
			data, err := utils.EncodePNG(img)
			if err != nil {
				utils.Logger.Fatal("failed to encode png", zap.Error(err))
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				utils.Logger.Fatal("failed to write output", zap.Error(err))
			}

			utils.Logger.Info("sample rendered",
				zap.String("input", args[0]),
				zap.String("output", output),
				zap.Int("layers", batch.TrueCount),
				zap.Int("capacity", batch.MaxLayers()))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "composite.png", "output PNG path")
	cmd.Flags().Float64VarP(&background, "background", "b", 1.0, "background luminance in [0,1]")
	return cmd
}
