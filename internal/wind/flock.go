package wind

import (
	"os"
	"syscall"
)

// Flock wraps an open file with advisory flock(2) locking, used to keep a
// single daemon or download invocation bound to a target directory at a
// time. Lock is non-blocking: it fails immediately if another process
// already holds the lock, rather than waiting.
type Flock struct {
	f *os.File
}

// NewFlock wraps f for locking. f is not closed by Lock/Unlock; the caller
// owns its lifetime.
func NewFlock(f *os.File) Flock {
	return Flock{f: f}
}

// Lock acquires an exclusive, non-blocking lock on the underlying file.
func (fl Flock) Lock() error {
	return syscall.Flock(int(fl.f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

// Unlock releases the lock acquired by Lock.
func (fl Flock) Unlock() error {
	return syscall.Flock(int(fl.f.Fd()), syscall.LOCK_UN)
}
