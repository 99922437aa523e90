package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"indexator/internal/config"
	"indexator/internal/models"

	"github.com/redis/go-redis/v9"
)

type RedisSnapshotRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a Redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisSnapshotRepository(client *redis.Client, ttl time.Duration) *RedisSnapshotRepository {
	return &RedisSnapshotRepository{
		client: client,
		ttl:    ttl,
	}
}

func snapshotKey(siteID int64) string {
	return fmt.Sprintf("quota_snapshot:%d", siteID)
}

func (r *RedisSnapshotRepository) GetSnapshot(ctx context.Context, siteID int64) (*models.AggregatedQuota, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, snapshotKey(siteID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	var snap models.AggregatedQuota
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

func (r *RedisSnapshotRepository) SetSnapshot(ctx context.Context, snapshot *models.AggregatedQuota) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := r.client.Set(ctx, snapshotKey(snapshot.SiteID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot in redis: %w", err)
	}

	return nil
}

func (r *RedisSnapshotRepository) ClearSnapshot(ctx context.Context, siteID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, snapshotKey(siteID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot from redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
