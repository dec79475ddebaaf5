package lock

import (
	"context"
	"sync"
)

// LocalLocker excludes within one process only.
type LocalLocker struct {
	held sync.Map
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker returns a Locker scoped to this process.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) TryLock(_ context.Context, key string) (func(), bool, error) {
	if _, loaded := l.held.LoadOrStore(key, struct{}{}); loaded {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.held.Delete(key) })
	}, true, nil
}
