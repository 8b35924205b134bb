package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни записей, 0 - бессрочно
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "cubestack:score:",
	}
}

// RedisScoreRepo хранит значения в Redis
type RedisScoreRepo struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisScoreRepo подключается к Redis и проверяет соединение
func NewRedisScoreRepo(ctx context.Context, config *RedisConfig) (*RedisScoreRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisScoreRepo{client: client, keyPrefix: config.KeyPrefix, ttl: config.TTL}, nil
}

func (r *RedisScoreRepo) Save(ctx context.Context, key string, value int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, value, r.ttl).Err(); err != nil {
		return wrapErr("redis", "save", key, err)
	}
	return nil
}

func (r *RedisScoreRepo) Load(ctx context.Context, key string) (int, bool, error) {
	if err := validateKey(key); err != nil {
		return 0, false, err
	}
	value, err := r.client.Get(ctx, r.keyPrefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr("redis", "load", key, err)
	}
	return value, true, nil
}

func (r *RedisScoreRepo) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return wrapErr("redis", "delete", key, err)
	}
	return nil
}

func (r *RedisScoreRepo) Close() error { return r.client.Close() }
