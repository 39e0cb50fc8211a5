// Package lock provides a cross-process writer lock using flock(2) to
// protect mutations of the pin directories. Two loader runs racing on
// load-and-pin would corrupt the pinned object set.
//
// The design makes the locked region explicit: mutating code runs
// inside lock.Run and receives a non-forgeable WriterScope token
// proving the lock is held. WriterScope cannot be constructed, locked,
// or unlocked by callers.
package lock

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"
)

// WriterScope represents the dynamic execution region in which the
// writer lock is held. Possession is proof of exclusive write access
// to the pin directories. The unexported marker method prevents
// implementations outside this package.
type WriterScope interface {
	// FD returns the raw lock file descriptor (for logging).
	FD() int

	writerScopeMarker()
}

type writerScope struct {
	f *os.File
}

func (*writerScope) writerScopeMarker() {}

func (s *writerScope) FD() int {
	return int(s.f.Fd())
}

// Run acquires the writer lock at lockPath, executes fn, then
// releases. Acquisition uses LOCK_EX|LOCK_NB with exponential backoff
// and respects ctx cancellation.
func Run(ctx context.Context, lockPath string, fn func(context.Context, WriterScope) error) error {
	f, err := acquireWriter(ctx, lockPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(ctx, &writerScope{f: f})
}

func acquireWriter(ctx context.Context, path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if err != syscall.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("flock: %w", err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
