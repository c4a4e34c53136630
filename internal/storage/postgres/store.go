// Package postgres хранит заказы документами JSONB в PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultPingTimeout = 5 * time.Second
	applicationName    = "storefront"
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolOptions - ограничения пула database/sql поверх драйвера pgx.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// DefaultPoolOptions рассчитаны на один экземпляр сервиса витрины:
// запись заказа и чтение трекинга короткие, больших пулов не нужно.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns:    16,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		PingTimeout:     defaultPingTimeout,
	}
}

// Store - хранилище заказов и ленты событий в PostgreSQL.
type Store struct {
	db          *sql.DB
	pingTimeout time.Duration
}

// Open подключается с DefaultPoolOptions.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithOptions(ctx, dsn, DefaultPoolOptions())
}

// OpenWithOptions разбирает DSN, открывает пул и проверяет доступность базы.
// Ошибка разбора DSN возвращается до любого сетевого вызова.
func OpenWithOptions(ctx context.Context, dsn string, opts PoolOptions) (*Store, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := connCfg.RuntimeParams["application_name"]; !ok {
		connCfg.RuntimeParams["application_name"] = applicationName
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	store := &Store{db: db, pingTimeout: pingTimeout}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// Ping используется проверкой готовности order_store.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout())
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) queryTimeout() time.Duration {
	if s.pingTimeout > 0 {
		return s.pingTimeout
	}
	return defaultPingTimeout
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
