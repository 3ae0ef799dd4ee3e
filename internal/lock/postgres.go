package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

// PostgresLocker implements Locker with session-level advisory locks.
// Each lease pins one pooled connection for as long as it is held.
type PostgresLocker struct {
	db *sql.DB
}

// NewPostgresLocker opens a connection pool for dsn and verifies it.
func NewPostgresLocker(ctx context.Context, dsn string) (*PostgresLocker, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return &PostgresLocker{db: db}, nil
}

// Close closes the connection pool. Outstanding leases lose their locks.
func (l *PostgresLocker) Close() error {
	return l.db.Close()
}

// TryAcquire takes the advisory lock for name or returns ErrLocked.
func (l *PostgresLocker) TryAcquire(ctx context.Context, name string) (Lease, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserving postgres connection: %w", err)
	}

	key := Key(name)
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquiring advisory lock %q: %w", name, err)
	}
	if !acquired {
		conn.Close()
		return nil, ErrLocked
	}
	return &postgresLease{name: name, key: key, conn: conn}, nil
}

type postgresLease struct {
	name string
	key  int64
	conn *sql.Conn
	once sync.Once
	err  error
}

func (l *postgresLease) Name() string { return l.name }

func (l *postgresLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		defer l.conn.Close()
		if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
			l.err = fmt.Errorf("releasing advisory lock %q: %w", l.name, err)
		}
	})
	return l.err
}
