package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/cubestack/internal/logging"
)

// BestScoreKeeper держит рекорд в памяти и сохраняет его в ScoreRepo
// в фоне. Offer вызывается из тика хоста и не ждет хранилища: если
// запись не успевает, сохраняется только последнее значение.
type BestScoreKeeper struct {
	repo   ScoreRepo
	key    string
	best   atomic.Int64
	logger *logging.Logger

	// mu: Offer отправляет в pending под RLock, Close закрывает под Lock
	mu      sync.RWMutex
	pending chan int
	closed  bool
	wg      sync.WaitGroup
	once    sync.Once
	saved   atomic.Int64
}

// NewBestScoreKeeper загружает рекорд и запускает фоновое сохранение.
// Ошибка загрузки не фатальна: рекорд начинается с нуля.
func NewBestScoreKeeper(ctx context.Context, repo ScoreRepo, key string) *BestScoreKeeper {
	if key == "" {
		key = BestScoreKey
	}
	k := &BestScoreKeeper{
		repo:    repo,
		key:     key,
		logger:  logging.GetStorageLogger(),
		pending: make(chan int, 1),
	}

	if v, ok, err := repo.Load(ctx, key); err != nil {
		k.logger.Warn("⚠️ Не удалось загрузить рекорд: %v", err)
	} else if ok {
		k.best.Store(int64(v))
		k.saved.Store(int64(v))
		k.logger.Info("🏆 Загружен рекорд: %d", v)
	}

	k.wg.Add(1)
	go k.run()
	return k
}

// Best реализует match.BestScore
func (k *BestScoreKeeper) Best() int { return int(k.best.Load()) }

// Offer реализует match.BestScore
func (k *BestScoreKeeper) Offer(score int) {
	for {
		cur := k.best.Load()
		if int64(score) <= cur {
			return
		}
		if k.best.CompareAndSwap(cur, int64(score)) {
			break
		}
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return
	}
	// Канал на одно значение: устаревшее значение заменяется новым
	for {
		select {
		case k.pending <- score:
			return
		default:
		}
		select {
		case <-k.pending:
		default:
		}
	}
}

func (k *BestScoreKeeper) run() {
	defer k.wg.Done()
	for score := range k.pending {
		k.save(score)
	}
}

func (k *BestScoreKeeper) save(score int) {
	if int64(score) <= k.saved.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := k.repo.Save(ctx, k.key, score); err != nil {
		k.logger.Error("❌ Не удалось сохранить рекорд %d: %v", score, err)
		return
	}
	k.saved.Store(int64(score))
	k.logger.Debug("💾 Рекорд сохранен: %d", score)
}

// Saved возвращает последнее сохраненное значение
func (k *BestScoreKeeper) Saved() int { return int(k.saved.Load()) }

// Close дожидается сохранения последнего рекорда. Хранилище не закрывается.
// Offer после Close только обновляет рекорд в памяти.
func (k *BestScoreKeeper) Close() {
	k.once.Do(func() {
		k.mu.Lock()
		k.closed = true
		close(k.pending)
		k.mu.Unlock()
		k.wg.Wait()
		if best := k.Best(); best > k.Saved() {
			k.save(best)
		}
	})
}
