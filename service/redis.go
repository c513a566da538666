package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TIANLI0/LayerFlow/config"
	"github.com/TIANLI0/LayerFlow/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetTransform 按文档MD5查询缓存的对齐变换
func (s *RedisService) GetTransform(ctx context.Context, md5 string) (*[9]float64, error) {
	key := "transform:" + md5
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var m [9]float64
	if err := json.Unmarshal(data, &m); err != nil {
		utils.Logger.Error("failed to unmarshal cached transform",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}

	return &m, nil
}

// SetTransform 缓存文档的对齐变换
func (s *RedisService) SetTransform(ctx context.Context, md5 string, m [9]float64) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, "transform:"+md5, data, s.ttl).Err()
}

// GetRender 按缓存键查询渲染结果（PNG字节）
func (s *RedisService) GetRender(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, "render:"+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// SetRender 缓存渲染结果
func (s *RedisService) SetRender(ctx context.Context, key string, png []byte) error {
	return s.client.Set(ctx, "render:"+key, png, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
