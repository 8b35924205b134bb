package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/annel0/cubestack/internal/config"
	"github.com/annel0/cubestack/internal/logging"
)

// Open создает хранилище по конфигурации
func Open(ctx context.Context, cfg config.StorageConfig) (ScoreRepo, error) {
	logger := logging.GetStorageLogger()

	var (
		repo ScoreRepo
		err  error
	)
	switch cfg.Backend {
	case "", "memory":
		repo = NewMemoryScoreRepo()
	case "badger":
		repo, err = NewBadgerScoreRepo(dataPath(cfg.Path))
	case "sqlite":
		path := cfg.DSN
		if path == "" {
			dir := dataPath(cfg.Path)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("storage: %w", err)
			}
			path = filepath.Join(dir, "scores.db")
		}
		repo, err = NewSQLiteScoreRepo(path)
	case "mysql", "mariadb":
		repo, err = NewMariaScoreRepo(ctx, cfg.DSN)
	case "redis":
		repo, err = NewRedisScoreRepo(ctx, &RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	case "mongo":
		repo, err = NewMongoScoreRepo(ctx, MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
	default:
		return nil, fmt.Errorf("storage: неизвестный backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("🗄️ Хранилище рекордов: %s", backendName(cfg.Backend))
	return repo, nil
}

func dataPath(p string) string {
	if p == "" {
		return "data"
	}
	return p
}

func backendName(b string) string {
	if b == "" {
		return "memory"
	}
	return b
}
