// Package postgres содержит хранилища продаж, товаров, справочников, outbox, истории и ключей
// идемпотентности поверх PostgreSQL (драйвер pgx через database/sql).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	opTimeout   = 5 * time.Second
	pingTimeout = 5 * time.Second

	uniqueViolationCode = "23505"
)

var errStoreClosed = errors.New("postgres store is not initialized")

// pool — настройки database/sql пула.
type pool struct {
	maxConns    int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

// Option меняет настройки пула соединений.
type Option func(*pool)

// WithMaxConns ограничивает число открытых соединений; простаивающих держится столько же.
func WithMaxConns(n int) Option {
	return func(p *pool) {
		if n > 0 {
			p.maxConns = n
		}
	}
}

// WithConnLifetime задаёт время жизни соединения и допустимый простой.
func WithConnLifetime(lifetime, idle time.Duration) Option {
	return func(p *pool) {
		p.maxLifetime = lifetime
		p.maxIdleTime = idle
	}
}

// Store — пул соединений с базой продаж.
type Store struct {
	db *sql.DB
}

// Open подключается по dsn и проверяет, что база отвечает.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg := pool{maxConns: 25, maxLifetime: 30 * time.Minute, maxIdleTime: 5 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxConns)
	db.SetMaxIdleConns(cfg.maxConns)
	db.SetConnMaxLifetime(cfg.maxLifetime)
	db.SetConnMaxIdleTime(cfg.maxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул для миграций и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет базу для /healthz.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// inTx выполняет fn в транзакции; при ошибке fn транзакция откатывается.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, ignoreDone(tx.Rollback()))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ignoreDone скрывает ошибку отката уже завершённой транзакции.
func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
