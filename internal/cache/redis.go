// Package cache реализует кэширование показаний и результатов анализа в Redis
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"aquaflow-service/internal/models"
)

const (
	// ReadingKeyPrefix префикс для ключей показаний
	ReadingKeyPrefix = "reading:"
	// LatestReadingsKey ключ списка последних показаний
	LatestReadingsKey = "readings:latest"
	// AnomaliesKeyPrefix префикс для кэша ответов аналитики
	AnomaliesKeyPrefix = "anomalies:"
	// ReadingsTTL время жизни показаний
	ReadingsTTL = 1 * time.Hour
	// AnomaliesTTL время жизни кэша аналитики; короткое, чтобы
	// панель получала свежие результаты при периодическом опросе
	AnomaliesTTL = 10 * time.Second
	// LatestReadingsMax глубина списка последних показаний
	LatestReadingsMax = 1000
)

// RedisCache реализует кэширование в Redis
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisCache создает новое подключение к Redis
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ctx:    ctx,
	}, nil
}

// CacheReading сохраняет показание и добавляет его в список последних
func (r *RedisCache) CacheReading(m models.Reading) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	key := fmt.Sprintf("%s%s:%d", ReadingKeyPrefix, m.MeterCode, m.TS.UnixNano())

	pipe := r.client.Pipeline()
	pipe.Set(r.ctx, key, data, ReadingsTTL)
	pipe.LPush(r.ctx, LatestReadingsKey, data)
	pipe.LTrim(r.ctx, LatestReadingsKey, 0, LatestReadingsMax-1)

	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to cache reading: %w", err)
	}
	return nil
}

// GetLatestReadings возвращает последние N показаний
func (r *RedisCache) GetLatestReadings(count int64) ([]models.Reading, error) {
	data, err := r.client.LRange(r.ctx, LatestReadingsKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get latest readings: %w", err)
	}

	readings := make([]models.Reading, 0, len(data))
	for _, d := range data {
		var m models.Reading
		if err := json.Unmarshal([]byte(d), &m); err != nil {
			continue
		}
		readings = append(readings, m)
	}
	return readings, nil
}

// CacheAnomalies сохраняет ответ аналитики под ключом параметров запроса
func (r *RedisCache) CacheAnomalies(key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal anomalies: %w", err)
	}
	return r.client.Set(r.ctx, AnomaliesKeyPrefix+key, data, AnomaliesTTL).Err()
}

// GetAnomalies возвращает кэшированный ответ аналитики;
// возвращает false, если ключ отсутствует или устарел
func (r *RedisCache) GetAnomalies(key string, dest any) (bool, error) {
	data, err := r.client.Get(r.ctx, AnomaliesKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get anomalies: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal anomalies: %w", err)
	}
	return true, nil
}

// IncrementCounter увеличивает счетчик
func (r *RedisCache) IncrementCounter(key string) (int64, error) {
	return r.client.Incr(r.ctx, key).Result()
}

// GetCounter возвращает значение счетчика
func (r *RedisCache) GetCounter(key string) (int64, error) {
	val, err := r.client.Get(r.ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping() error {
	return r.client.Ping(r.ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// FlushDB очищает базу (только для тестов)
func (r *RedisCache) FlushDB() error {
	return r.client.FlushDB(r.ctx).Err()
}
