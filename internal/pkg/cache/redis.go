package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"plum/internal/config"
)

// RedisCache Redis 缓存封装
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache 创建 Redis 缓存客户端
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Delete 删除缓存
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// Exists 检查 key 是否存在
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

// Close 关闭连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// 常用 key 模式
const (
	JobCancelKeyPrefix = "scenejob:cancel:"
	JobCancelTTL       = 24 * time.Hour
)

// JobCancelKey 生成任务取消标记 key
func JobCancelKey(jobID string) string {
	return JobCancelKeyPrefix + jobID
}

// MarkJobCancelled 设置任务取消标记
// 协调器在每个片段边界检查该标记，实现跨进程取消
func (c *RedisCache) MarkJobCancelled(ctx context.Context, jobID string) error {
	return c.client.Set(ctx, JobCancelKey(jobID), "1", JobCancelTTL).Err()
}

// IsJobCancelled 检查任务是否被标记取消
func (c *RedisCache) IsJobCancelled(ctx context.Context, jobID string) (bool, error) {
	return c.Exists(ctx, JobCancelKey(jobID))
}

// ClearJobCancelled 清除任务取消标记（任务重新入队前调用）
func (c *RedisCache) ClearJobCancelled(ctx context.Context, jobID string) error {
	return c.Delete(ctx, JobCancelKey(jobID))
}
