package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("MAILSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set MAILSYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func TestPostgresIntegrationLockerContention(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	first, err := NewPostgresLocker(ctx, dsn)
	if err != nil {
		t.Fatalf("new postgres locker: %v", err)
	}
	defer first.Close()
	second, err := NewPostgresLocker(ctx, dsn)
	if err != nil {
		t.Fatalf("new second postgres locker: %v", err)
	}
	defer second.Close()

	name := fmt.Sprintf("it-%d", time.Now().UnixNano())
	lease, err := first.TryAcquire(ctx, name)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := second.TryAcquire(ctx, name); !errors.Is(err, ErrLocked) {
		t.Fatalf("contended acquire error = %v, want ErrLocked", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	again, err := second.TryAcquire(ctx, name)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := again.Release(ctx); err != nil {
		t.Fatalf("release again: %v", err)
	}
}
