package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaScoreRepo реализует ScoreRepo для MariaDB/MySQL.
// Использует таблицу game_scores.
type MariaScoreRepo struct {
	db *sql.DB
}

// NewMariaScoreRepo подключается к базе и создает таблицу, если ее нет.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaScoreRepo(ctx context.Context, dsn string) (*MariaScoreRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaScoreRepo{db: db}
	if err := repo.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return repo, nil
}

func (r *MariaScoreRepo) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS game_scores (
			name       VARCHAR(64) PRIMARY KEY,
			value      BIGINT      NOT NULL,
			updated_at TIMESTAMP   DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE   CURRENT_TIMESTAMP
		) ENGINE=InnoDB
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы game_scores: %w", err)
	}
	return nil
}

// Save использует INSERT ... ON DUPLICATE KEY UPDATE для перезаписи.
func (r *MariaScoreRepo) Save(ctx context.Context, key string, value int) error {
	if err := validateKey(key); err != nil {
		return err
	}
	query := `
		INSERT INTO game_scores (name, value)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE
			value = VALUES(value),
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return wrapErr("mariadb", "save", key, err)
	}
	return nil
}

func (r *MariaScoreRepo) Load(ctx context.Context, key string) (int, bool, error) {
	if err := validateKey(key); err != nil {
		return 0, false, err
	}
	var value int
	err := r.db.QueryRowContext(ctx, `SELECT value FROM game_scores WHERE name = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr("mariadb", "load", key, err)
	}
	return value, true, nil
}

func (r *MariaScoreRepo) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM game_scores WHERE name = ?`, key); err != nil {
		return wrapErr("mariadb", "delete", key, err)
	}
	return nil
}

func (r *MariaScoreRepo) Close() error { return r.db.Close() }
