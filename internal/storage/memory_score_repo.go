package storage

import (
	"context"
	"sync"
)

// MemoryScoreRepo хранит значения в памяти процесса (для тестов и
// запуска без внешнего хранилища).
type MemoryScoreRepo struct {
	mu   sync.RWMutex
	data map[string]int
}

// NewMemoryScoreRepo создает пустое хранилище
func NewMemoryScoreRepo() *MemoryScoreRepo {
	return &MemoryScoreRepo{data: make(map[string]int)}
}

func (r *MemoryScoreRepo) Save(ctx context.Context, key string, value int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.data[key] = value
	r.mu.Unlock()
	return nil
}

func (r *MemoryScoreRepo) Load(ctx context.Context, key string) (int, bool, error) {
	if err := validateKey(key); err != nil {
		return 0, false, err
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	return v, ok, nil
}

func (r *MemoryScoreRepo) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.data, key)
	r.mu.Unlock()
	return nil
}

func (r *MemoryScoreRepo) Close() error { return nil }

// Count возвращает число ключей (для отладки)
func (r *MemoryScoreRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
