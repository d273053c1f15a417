package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	migrationsDir     = "migrations"
	migrationLockKey  = int64(20260301)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed migrations/*.sql
	embeddedMigrations embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

// Migration — пара up/down скриптов одной версии.
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// MigrationStatus — состояние схемы.
type MigrationStatus struct {
	CurrentVersion int64
	Applied        int
	Pending        []Migration
}

// MigrateUp применяет steps ещё не применённых миграций; 0 значит все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, all []Migration, applied map[int64]bool) error {
		for _, m := range planUp(all, applied, steps) {
			if err := up.run(ctx, conn, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrateDown откатывает steps последних миграций; steps <= 0 трактуется как 1.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, all []Migration, applied map[int64]bool) error {
		plan, err := planDown(all, applied, max(steps, 1))
		if err != nil {
			return err
		}
		for _, m := range plan {
			if err := down.run(ctx, conn, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// Status возвращает текущую версию, число применённых и список ожидающих миграций.
func (s *Store) Status(ctx context.Context) (MigrationStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var status MigrationStatus
	err := s.withMigrationConn(ctx, func(_ *sql.Conn, all []Migration, applied map[int64]bool) error {
		status.Applied = len(applied)
		status.Pending = planUp(all, applied, 0)
		if len(applied) > 0 {
			status.CurrentVersion = slices.Max(slices.Collect(maps.Keys(applied)))
		}
		return nil
	})
	return status, err
}

type migrationFunc func(conn *sql.Conn, all []Migration, applied map[int64]bool) error

// withMigrationConn выполняет fn на выделенном соединении с подготовленной schema_migrations.
func (s *Store) withMigrationConn(ctx context.Context, fn migrationFunc) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	all, applied, err := prepareMigrations(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, all, applied)
}

// withMigrationLock выполняет fn под pg_advisory_lock, чтобы реплики не мигрировали одновременно.
func (s *Store) withMigrationLock(ctx context.Context, fn migrationFunc) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	// план строится после захвата lock: другая реплика могла успеть мигрировать
	all, applied, err := prepareMigrations(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, all, applied)
}

func prepareMigrations(ctx context.Context, conn *sql.Conn) ([]Migration, map[int64]bool, error) {
	all, err := loadMigrations(embeddedMigrations)
	if err != nil {
		return nil, nil, err
	}
	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return nil, nil, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, nil, err
	}
	return all, applied, nil
}

// planUp возвращает неприменённые миграции по возрастанию версии.
func planUp(all []Migration, applied map[int64]bool, steps int) []Migration {
	var plan []Migration
	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		if plan = append(plan, m); steps > 0 && len(plan) == steps {
			break
		}
	}
	return plan
}

// planDown возвращает steps последних применённых миграций по убыванию версии.
func planDown(all []Migration, applied map[int64]bool, steps int) ([]Migration, error) {
	versions := slices.Sorted(maps.Keys(applied))
	slices.Reverse(versions)
	versions = versions[:min(steps, len(versions))]

	plan := make([]Migration, 0, len(versions))
	for _, version := range versions {
		i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == version })
		if i < 0 {
			return nil, fmt.Errorf("cannot rollback unknown migration version %d", version)
		}
		plan = append(plan, all[i])
	}
	return plan, nil
}

// direction — применение или откат миграции.
type direction bool

const (
	up   direction = true
	down direction = false
)

func (d direction) String() string {
	if d == up {
		return "up"
	}
	return "down"
}

// run выполняет скрипт и запись в schema_migrations в одной транзакции.
func (d direction) run(ctx context.Context, conn *sql.Conn, m Migration) (err error) {
	script, record, args := m.Down, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	if d == up {
		script, record = m.Up, `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, $3)`
		args = append(args, m.Name, time.Now().UTC())
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %d): %w", d, m.Version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute %s migration %d_%s: %w", d, m.Version, m.Name, err)
	}
	if _, err = tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s migration %d_%s: %w", d, m.Version, m.Name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %d_%s: %w", d, m.Version, m.Name, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// loadMigrations читает migrations/NNNN_name.{up,down}.sql; у каждой версии должны быть оба файла.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*Migration)
	for _, file := range files {
		if err := addMigrationFile(fsys, file, byVersion); err != nil {
			return nil, err
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}

func addMigrationFile(fsys fs.FS, file string, byVersion map[int64]*Migration) error {
	base := path.Base(file)
	parts := migrationFilePattern.FindStringSubmatch(base)
	if parts == nil {
		return fmt.Errorf("invalid migration file name: %s", base)
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parse migration version from %s: %w", base, err)
	}
	name, kind := parts[2], parts[3]

	raw, err := fs.ReadFile(fsys, file)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", file, err)
	}
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return fmt.Errorf("migration file is empty: %s", base)
	}

	m := byVersion[version]
	switch {
	case m == nil:
		m = &Migration{Version: version, Name: name}
		byVersion[version] = m
	case m.Name != name:
		return fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
	}

	target := &m.Up
	if kind == "down" {
		target = &m.Down
	}
	if *target != "" {
		return fmt.Errorf("duplicate %s migration for version %d", kind, version)
	}
	*target = body
	return nil
}
