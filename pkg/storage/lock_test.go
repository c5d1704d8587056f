package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockers returns two stores of each lockable backend sharing one location,
// as two processes would.
func lockers(t *testing.T) map[string][2]Locker {
	t.Helper()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "vault")

	fs1, err := NewFileStore(dir)
	require.NoError(t, err)
	fs2, err := NewFileStore(dir)
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), SQLiteFileName)
	sq1, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	sq2, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, s := range []Store{fs1, fs2, sq1, sq2} {
			_ = s.Close()
		}
	})
	mem := NewMemoryStore()
	return map[string][2]Locker{
		"memory": {mem, mem},
		"file":   {fs1, fs2},
		"sqlite": {sq1, sq2},
	}
}

func TestLock_ExcludesSecondStore(t *testing.T) {
	for name, pair := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := pair[0].Lock(context.Background())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			_, err = pair[1].Lock(ctx)
			cancel()
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			unlock()

			unlock2, err := pair[1].Lock(context.Background())
			require.NoError(t, err)
			unlock2()
		})
	}
}

func TestWithLock_WaitsForHolder(t *testing.T) {
	pair := lockers(t)["file"]
	unlock, err := pair[0].Lock(context.Background())
	require.NoError(t, err)

	done := make(chan time.Time, 1)
	go func() {
		_ = WithLock(context.Background(), pair[1].(Store), func() error {
			done <- time.Now()
			return nil
		})
	}()

	time.Sleep(30 * time.Millisecond)
	releasedAt := time.Now()
	unlock()

	select {
	case ranAt := <-done:
		assert.False(t, ranAt.Before(releasedAt), "fn ran while the lock was held")
	case <-time.After(5 * time.Second):
		t.Fatal("WithLock never acquired the lock")
	}
}

// plainStore hides the Locker of the store it wraps.
type plainStore struct{ Store }

func TestWithLock_PlainStore(t *testing.T) {
	ran := false
	err := WithLock(context.Background(), plainStore{NewMemoryStore()}, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestFileStore_LockClosed(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	_, err = fs.Lock(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
