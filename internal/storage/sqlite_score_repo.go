package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteScoreRepo хранит значения в файле SQLite (pure-Go драйвер)
type SQLiteScoreRepo struct {
	db *sql.DB
}

// NewSQLiteScoreRepo открывает базу по пути path и создает таблицу
func NewSQLiteScoreRepo(path string) (*SQLiteScoreRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть SQLite: %w", err)
	}
	// Один писатель: SQLite не любит конкурентные транзакции
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS scores (
		name       TEXT PRIMARY KEY,
		value      INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания таблицы scores: %w", err)
	}
	return &SQLiteScoreRepo{db: db}, nil
}

func (r *SQLiteScoreRepo) Save(ctx context.Context, key string, value int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scores (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return wrapErr("sqlite", "save", key, err)
	}
	return nil
}

func (r *SQLiteScoreRepo) Load(ctx context.Context, key string) (int, bool, error) {
	if err := validateKey(key); err != nil {
		return 0, false, err
	}
	var value int
	err := r.db.QueryRowContext(ctx, `SELECT value FROM scores WHERE name = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr("sqlite", "load", key, err)
	}
	return value, true, nil
}

func (r *SQLiteScoreRepo) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM scores WHERE name = ?`, key); err != nil {
		return wrapErr("sqlite", "delete", key, err)
	}
	return nil
}

func (r *SQLiteScoreRepo) Close() error { return r.db.Close() }
