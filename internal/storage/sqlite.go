package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "postbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./postbot.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetTenant(ctx context.Context, tenantID int64) (TenantState, bool, error) {
	if s == nil || s.db == nil {
		return TenantState{}, false, ErrClosed
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tenants WHERE id = ?`, tenantID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return TenantState{}, false, nil
	}
	if err != nil {
		return TenantState{}, false, err
	}
	var st TenantState
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return TenantState{}, false, fmt.Errorf("tenant %d: corrupt document: %w", tenantID, err)
	}
	return st, true, nil
}

func (s *sqliteStore) PutTenant(ctx context.Context, tenantID int64, st TenantState) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	doc, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants(id, doc, updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		tenantID, string(doc), time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteTenant(ctx context.Context, tenantID int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, tenantID)
	return err
}

func (s *sqliteStore) ForEachTenant(ctx context.Context, fn func(tenantID int64, st TenantState) error) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM tenants`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  int64
			doc string
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return err
		}
		var st TenantState
		if err := json.Unmarshal([]byte(doc), &st); err != nil {
			// A single corrupt document must not block recovery of the rest.
			s.log.Warn("skipping corrupt tenant document", logx.Int64("tenant_id", id), logx.Err(err))
			continue
		}
		if err := fn(id, st); err != nil {
			return err
		}
	}
	return rows.Err()
}
