package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mokecome/background-removal/config"
	"github.com/mokecome/background-removal/model"
	"github.com/mokecome/background-removal/utils"
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

// GetCutoutRecord 从缓存获取抠图结果
func (s *RedisService) GetCutoutRecord(ctx context.Context, key string) (*model.CutoutRecord, error) {
	data, err := s.client.Get(ctx, "cutout:"+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var record model.CutoutRecord
	if err := json.Unmarshal(data, &record); err != nil {
		utils.Logger.Error("failed to unmarshal cutout record",
			zap.String("key", key), zap.Error(err))
		return nil, err
	}

	return &record, nil
}

// SetCutoutRecord 写入抠图结果缓存
func (s *RedisService) SetCutoutRecord(ctx context.Context, key string, record *model.CutoutRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, "cutout:"+key, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
