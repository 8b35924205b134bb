package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
)

const badgerKeyPrefix = "score:"

// BadgerScoreRepo хранит значения во встроенной BadgerDB
type BadgerScoreRepo struct {
	db *badger.DB
}

// NewBadgerScoreRepo открывает (или создает) базу в dataPath/scores
func NewBadgerScoreRepo(dataPath string) (*BadgerScoreRepo, error) {
	opts := badger.DefaultOptions(filepath.Join(dataPath, "scores"))
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerScoreRepo{db: db}, nil
}

func (r *BadgerScoreRepo) Save(ctx context.Context, key string, value int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := binary.BigEndian.AppendUint64(nil, uint64(int64(value)))
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+key), buf)
	})
	if err != nil {
		return wrapErr("badger", "save", key, err)
	}
	return nil
}

func (r *BadgerScoreRepo) Load(ctx context.Context, key string) (int, bool, error) {
	if err := validateKey(key); err != nil {
		return 0, false, err
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	var value int
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("неверная длина значения: %d", len(val))
			}
			value = int(int64(binary.BigEndian.Uint64(val)))
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr("badger", "load", key, err)
	}
	return value, true, nil
}

func (r *BadgerScoreRepo) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + key))
	})
	if err != nil {
		return wrapErr("badger", "delete", key, err)
	}
	return nil
}

func (r *BadgerScoreRepo) Close() error { return r.db.Close() }
