// Package lock serializes migration runs against one target schema with a
// database advisory lock held on a dedicated connection.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/schemactl/schemactl/internal/db"
)

// ErrContention reports that another runner holds the lock. The engine
// fails fast on this instead of queueing behind an unknown run.
var ErrContention = errors.New("another migration run holds the advisory lock")

type Advisory struct {
	dialect db.Dialect
	conn    *sql.Conn
	key     string
	held    bool
}

func New(dialect db.Dialect, key string) *Advisory {
	return &Advisory{dialect: dialect, key: key}
}

func (a *Advisory) Acquire(ctx context.Context, database *sql.DB, timeout time.Duration) error {
	if a.held {
		return nil
	}
	conn, err := database.Conn(ctx)
	if err != nil {
		return err
	}
	got, err := a.dialect.TryLock(ctx, conn, a.key, timeout)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if !got {
		_ = conn.Close()
		return fmt.Errorf("%w: key %s", ErrContention, a.key)
	}
	a.conn = conn
	a.held = true
	return nil
}

func (a *Advisory) Release(ctx context.Context) error {
	if !a.held || a.conn == nil {
		return nil
	}
	_ = a.dialect.Unlock(ctx, a.conn, a.key)
	a.held = false
	return a.conn.Close()
}

func (a *Advisory) Key() string { return a.key }

func KeyFor(database, table string) string {
	return fmt.Sprintf("schemactl:%s:%s", database, table)
}
