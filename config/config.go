package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Align    AlignConfig    `mapstructure:"align"`
	Assemble AssembleConfig `mapstructure:"assemble"`
	Augment  AugmentConfig  `mapstructure:"augment"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize   int64  `mapstructure:"max_size"`
	UploadDir string `mapstructure:"upload_dir"`
}

// AlignConfig 快照对齐参数
type AlignConfig struct {
	MinMatchCount  int     `mapstructure:"min_match_count"`
	RatioThreshold float64 `mapstructure:"ratio_threshold"`
	RansacReproj   float64 `mapstructure:"ransac_reproj"`
	IdentityTol    float64 `mapstructure:"identity_tol"`
	IoUThreshold   float64 `mapstructure:"iou_threshold"`
	Workers        int     `mapstructure:"workers"`
	DeleteSource   bool    `mapstructure:"delete_source"`
}

// AssembleConfig 张量组装参数
type AssembleConfig struct {
	MaxLayers      int    `mapstructure:"max_layers"`
	Warp           bool   `mapstructure:"warp"`
	ResizeToFinal  bool   `mapstructure:"resize_to_final"`
	RemoveOccluded bool   `mapstructure:"remove_occluded"`
	Filter         string `mapstructure:"filter"` // identity / drop_full
}

// AugmentConfig 数据增广参数
type AugmentConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	TargetWidth  int  `mapstructure:"target_width"`
	TargetHeight int  `mapstructure:"target_height"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return getDefaultConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 64*1024*1024)
	v.SetDefault("upload.upload_dir", "./uploads")

	v.SetDefault("align.min_match_count", 10)
	v.SetDefault("align.ratio_threshold", 0.7)
	v.SetDefault("align.ransac_reproj", 5.0)
	v.SetDefault("align.identity_tol", 5e-3)
	v.SetDefault("align.iou_threshold", 0.5)
	v.SetDefault("align.workers", 16)
	v.SetDefault("align.delete_source", false)

	v.SetDefault("assemble.max_layers", 64)
	v.SetDefault("assemble.warp", true)
	v.SetDefault("assemble.resize_to_final", true)
	v.SetDefault("assemble.remove_occluded", false)
	v.SetDefault("assemble.filter", "identity")

	v.SetDefault("augment.enabled", false)
	v.SetDefault("augment.target_width", 512)
	v.SetDefault("augment.target_height", 512)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:   64 * 1024 * 1024,
			UploadDir: "./uploads",
		},
		Align: AlignConfig{
			MinMatchCount:  10,
			RatioThreshold: 0.7,
			RansacReproj:   5.0,
			IdentityTol:    5e-3,
			IoUThreshold:   0.5,
			Workers:        16,
			DeleteSource:   false,
		},
		Assemble: AssembleConfig{
			MaxLayers:      64,
			Warp:           true,
			ResizeToFinal:  true,
			RemoveOccluded: false,
			Filter:         "identity",
		},
		Augment: AugmentConfig{
			Enabled:      false,
			TargetWidth:  512,
			TargetHeight: 512,
		},
	}
}
