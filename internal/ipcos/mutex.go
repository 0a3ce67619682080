package ipcos

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Mutex realizes the registry's "robust recursive mutex" requirement on
// top of flock(2): robust, because a holder that dies still releases the
// lock when its file descriptor is closed by the kernel, and named,
// because it coordinates unrelated processes over a shared path rather
// than an in-memory object.
//
// Go has no portable way to embed a process-shared pthread-style mutex
// inside an mmap'd region, so unlike the original C implementation this
// is always the "external named mutex" realization: one dedicated lock
// file per class, taken with a blocking exclusive flock.
//
// True reentrancy is not implemented: every registry operation takes the
// mutex exactly once for the duration of its critical section, so a
// single flock/funlock pair per call is sufficient. Mutex is itself safe
// for concurrent use by goroutines within one process; the embedded
// in-process sync.Mutex serializes them before any of them contends for
// the cross-process flock.
type Mutex struct {
	file *os.File
	mu   sync.Mutex
}

// OpenMutex opens (creating if necessary) the named lock file backing a
// Mutex. It does not acquire the lock.
func OpenMutex(path string) (*Mutex, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCantOpen, path, err)
	}
	return &Mutex{file: f}, nil
}

// Lock blocks until the cross-process lock is acquired, first serializing
// against other goroutines in this process.
func (m *Mutex) Lock() error {
	m.mu.Lock()
	if err := flockRetryEINTR(int(m.file.Fd()), unix.LOCK_EX); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("ipcos: locking %s: %w", m.file.Name(), err)
	}
	return nil
}

// Unlock releases the cross-process lock and the in-process serialization.
func (m *Mutex) Unlock() error {
	defer m.mu.Unlock()
	if err := flockRetryEINTR(int(m.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("ipcos: unlocking %s: %w", m.file.Name(), err)
	}
	return nil
}

// Close releases the underlying file descriptor. The lock must not be
// held when Close is called.
func (m *Mutex) Close() error {
	return m.file.Close()
}

// flockRetryEINTR wraps unix.Flock, retrying on EINTR. A blocking flock
// call can be interrupted by an unrelated signal (SIGCHLD, timers); that
// is not a failure, just a call that needs to be retried.
func flockRetryEINTR(fd int, how int) error {
	for {
		err := unix.Flock(fd, how)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}
