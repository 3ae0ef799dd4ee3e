package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FileLocker implements Locker with advisory file locks in Dir. It
// coordinates processes sharing one filesystem.
type FileLocker struct {
	Dir string
}

// NewFileLocker creates a FileLocker rooted at dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{Dir: dir}
}

// TryAcquire takes the lock for name or returns ErrLocked.
func (l *FileLocker) TryAcquire(_ context.Context, name string) (Lease, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", l.Dir, err)
	}

	path := filepath.Join(l.Dir, fmt.Sprintf("mailsync-%016x.lock", uint64(Key(name))))
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &fileLease{name: name, fl: fl}, nil
}

type fileLease struct {
	name string
	fl   *flock.Flock
	once sync.Once
	err  error
}

func (l *fileLease) Name() string { return l.name }

func (l *fileLease) Release(context.Context) error {
	l.once.Do(func() {
		if err := l.fl.Unlock(); err != nil {
			l.err = fmt.Errorf("unlocking %s: %w", l.fl.Path(), err)
		}
	})
	return l.err
}
