package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/annel0/cubestack/internal/config"
)

// testScoreRepo проверяет общий контракт ScoreRepo
func testScoreRepo(t *testing.T, repo ScoreRepo) {
	ctx := context.Background()

	t.Run("Load Missing", func(t *testing.T) {
		v, found, err := repo.Load(ctx, "missing")
		if err != nil {
			t.Fatalf("Ошибка загрузки отсутствующего ключа: %v", err)
		}
		if found || v != 0 {
			t.Errorf("Ожидалось отсутствие значения, получено %d (found=%v)", v, found)
		}
	})

	t.Run("Save and Overwrite", func(t *testing.T) {
		if err := repo.Save(ctx, BestScoreKey, 300); err != nil {
			t.Fatalf("Ошибка сохранения: %v", err)
		}
		if err := repo.Save(ctx, BestScoreKey, 1200); err != nil {
			t.Fatalf("Ошибка перезаписи: %v", err)
		}
		v, found, err := repo.Load(ctx, BestScoreKey)
		if err != nil {
			t.Fatalf("Ошибка загрузки: %v", err)
		}
		if !found || v != 1200 {
			t.Errorf("Ожидалось 1200, получено %d (found=%v)", v, found)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, BestScoreKey); err != nil {
			t.Fatalf("Ошибка удаления: %v", err)
		}
		if _, found, _ := repo.Load(ctx, BestScoreKey); found {
			t.Error("Значение осталось после удаления")
		}
		if err := repo.Delete(ctx, BestScoreKey); err != nil {
			t.Errorf("Повторное удаление вернуло ошибку: %v", err)
		}
	})

	t.Run("Empty Key", func(t *testing.T) {
		if err := repo.Save(ctx, "", 1); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Ожидалась ErrInvalidKey, получено %v", err)
		}
	})
}

func TestMemoryScoreRepo(t *testing.T) {
	testScoreRepo(t, NewMemoryScoreRepo())
}

func TestBadgerScoreRepo(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewBadgerScoreRepo(dir)
	if err != nil {
		t.Fatalf("Не удалось открыть BadgerDB: %v", err)
	}
	testScoreRepo(t, repo)

	// значение переживает переоткрытие базы
	if err := repo.Save(context.Background(), BestScoreKey, 700); err != nil {
		t.Fatal(err)
	}
	if err := repo.Close(); err != nil {
		t.Fatal(err)
	}
	repo, err = NewBadgerScoreRepo(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	if v, found, err := repo.Load(context.Background(), BestScoreKey); err != nil || !found || v != 700 {
		t.Errorf("После переоткрытия ожидалось 700, получено %d (found=%v, err=%v)", v, found, err)
	}
}

func TestSQLiteScoreRepo(t *testing.T) {
	repo, err := NewSQLiteScoreRepo(filepath.Join(t.TempDir(), "scores.db"))
	if err != nil {
		t.Fatalf("Не удалось открыть SQLite: %v", err)
	}
	defer repo.Close()
	testScoreRepo(t, repo)
}

func TestUnavailableBackends(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := NewRedisScoreRepo(ctx, &RedisConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Error("Ожидалась ошибка подключения к Redis")
	}
	if _, err := NewMariaScoreRepo(ctx, "user:pass@tcp(127.0.0.1:1)/cubestack"); err == nil {
		t.Error("Ожидалась ошибка подключения к MariaDB")
	}
	if _, err := NewMongoScoreRepo(ctx, MongoConfig{URI: "mongodb://127.0.0.1:1"}); err == nil {
		t.Error("Ожидалась ошибка подключения к MongoDB")
	}
}

func TestOpenFromConfig(t *testing.T) {
	ctx := context.Background()

	repo, err := Open(ctx, config.StorageConfig{})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := repo.(*MemoryScoreRepo); !ok {
		t.Errorf("По умолчанию ожидалось memory-хранилище, получено %T", repo)
	}

	repo, err = Open(ctx, config.StorageConfig{Backend: "sqlite", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	repo.Close()

	if _, err := Open(ctx, config.StorageConfig{Backend: "floppy"}); err == nil {
		t.Error("Ожидалась ошибка для неизвестного backend")
	}
}

func TestBestScoreKeeper(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryScoreRepo()
	if err := repo.Save(ctx, BestScoreKey, 500); err != nil {
		t.Fatal(err)
	}

	keeper := NewBestScoreKeeper(ctx, repo, "")
	if keeper.Best() != 500 {
		t.Fatalf("Ожидался загруженный рекорд 500, получено %d", keeper.Best())
	}

	keeper.Offer(300)
	if keeper.Best() != 500 {
		t.Errorf("Меньший счет не должен менять рекорд: %d", keeper.Best())
	}
	for _, s := range []int{600, 900, 800} {
		keeper.Offer(s)
	}
	if keeper.Best() != 900 {
		t.Errorf("Ожидался рекорд 900, получено %d", keeper.Best())
	}

	keeper.Close()
	if v, _, _ := repo.Load(ctx, BestScoreKey); v != 900 {
		t.Errorf("После Close в хранилище ожидалось 900, получено %d", v)
	}
	keeper.Offer(5000)
	if keeper.Saved() != 900 {
		t.Errorf("Offer после Close не должен сохраняться")
	}
}

type failingRepo struct{ *MemoryScoreRepo }

func (f *failingRepo) Load(context.Context, string) (int, bool, error) {
	return 0, false, errors.New("нет связи")
}

func TestBestScoreKeeperLoadFailure(t *testing.T) {
	keeper := NewBestScoreKeeper(context.Background(), &failingRepo{NewMemoryScoreRepo()}, BestScoreKey)
	defer keeper.Close()
	if keeper.Best() != 0 {
		t.Errorf("При ошибке загрузки рекорд начинается с нуля, получено %d", keeper.Best())
	}
}

func TestBestScoreKeeperOfferRacesClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		keeper := NewBestScoreKeeper(context.Background(), NewMemoryScoreRepo(), BestScoreKey)

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(base int) {
				defer wg.Done()
				for i := 1; i <= 200; i++ {
					keeper.Offer(base + i)
				}
			}(g * 1000)
		}
		keeper.Close()
		wg.Wait()

		if keeper.Best() < 200 {
			t.Fatalf("Рекорд в памяти не обновлен: %d", keeper.Best())
		}
	}
}
