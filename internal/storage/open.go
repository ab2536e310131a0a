package storage

import (
	"context"
	"errors"
	"strings"

	logx "postbot/pkg/logx"
)

// Store is the tenant-document persistence API used by the scheduler, the
// setup flow, and the recovery path.
type Store interface {
	GetTenant(ctx context.Context, tenantID int64) (TenantState, bool, error)
	PutTenant(ctx context.Context, tenantID int64, st TenantState) error
	DeleteTenant(ctx context.Context, tenantID int64) error

	// ForEachTenant enumerates every tenant document. Enumeration order is
	// unspecified. Returning an error from fn aborts the walk.
	ForEachTenant(ctx context.Context, fn func(tenantID int64, st TenantState) error) error

	Close() error
}

// Open initializes the configured store. An empty driver defaults to sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
