package storage

import (
	"context"
	"errors"
	"fmt"
)

// BestScoreKey - ключ рекорда в хранилище
const BestScoreKey = "HighScore"

// ErrInvalidKey - пустой ключ
var ErrInvalidKey = errors.New("storage: пустой ключ")

// ScoreRepo хранит именованные целочисленные значения (рекорды).
// Реализации безопасны для конкурентного использования.
type ScoreRepo interface {
	// Save сохраняет значение под ключом, перезаписывая прежнее.
	Save(ctx context.Context, key string, value int) error

	// Load возвращает значение и false, если ключ еще не сохранялся.
	Load(ctx context.Context, key string) (int, bool, error)

	// Delete удаляет значение; отсутствие ключа не ошибка.
	Delete(ctx context.Context, key string) error

	// Close освобождает соединения.
	Close() error
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

func wrapErr(backend, op, key string, err error) error {
	return fmt.Errorf("%s: %s %q: %w", backend, op, key, err)
}
