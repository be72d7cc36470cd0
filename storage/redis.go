package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eddielth/edge-ingest/logger"
	"github.com/eddielth/edge-ingest/model"
)

// LatestKeyPrefix prefixes the per-node latest reading key
const LatestKeyPrefix = "node:last:"

// RedisStorage keeps the latest reading of every node in Redis (or Valkey)
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStorage connects and pings the server
func NewRedisStorage(addr, password string, db int, ttl time.Duration) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection test failed: %w", err)
	}

	logger.Info("init redis storage: %s db=%d", addr, db)
	return &RedisStorage{client: client, ttl: ttl}, nil
}

func (rs *RedisStorage) Name() string { return "redis" }

func (rs *RedisStorage) Store(ctx context.Context, reading model.Reading) error {
	value, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("serialize reading %d: %w", reading.ID, err)
	}
	return rs.client.Set(ctx, LatestKeyPrefix+reading.NodeID, value, rs.ttl).Err()
}

// Latest returns the cached latest reading of a node, or ErrNotFound
func (rs *RedisStorage) Latest(ctx context.Context, nodeID string) (model.Reading, error) {
	value, err := rs.client.Get(ctx, LatestKeyPrefix+nodeID).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Reading{}, ErrNotFound
	}
	if err != nil {
		return model.Reading{}, err
	}

	var reading model.Reading
	if err := json.Unmarshal(value, &reading); err != nil {
		return model.Reading{}, fmt.Errorf("decode latest reading of %s: %w", nodeID, err)
	}
	return reading, nil
}

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
