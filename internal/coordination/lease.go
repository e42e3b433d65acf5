package coordination

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lease holds a DistributedLock for the duration of a run, renewing it in
// the background. If renewal fails the lease cancels the context it
// returned from Acquire so workers stop writing.
type Lease struct {
	lock   *DistributedLock
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewLease wraps lock.
func NewLease(lock *DistributedLock, logger *zap.Logger) *Lease {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lease{lock: lock, logger: logger}
}

// Acquire takes the lock and starts renewal. The returned context ends when
// the parent does, Release is called, or the lease is lost.
func (l *Lease) Acquire(ctx context.Context) (context.Context, error) {
	if err := l.lock.Lock(ctx); err != nil {
		return nil, err
	}
	leaseCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.renew(leaseCtx)
	l.logger.Info("state lease acquired", zap.String("key", l.lock.Key()))
	return leaseCtx, nil
}

func (l *Lease) renew(ctx context.Context) {
	defer close(l.done)
	interval := l.lock.TTL() / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.lock.Extend(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Error("state lease lost", zap.String("key", l.lock.Key()), zap.Error(err))
				l.cancel()
				return
			}
		}
	}
}

// Release stops renewal and frees the lock. It is safe to call more than once.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		if l.cancel == nil {
			return
		}
		l.cancel()
		<-l.done
		if uerr := l.lock.Unlock(ctx); uerr != nil && !errors.Is(uerr, ErrLockNotHeld) {
			err = uerr
		}
	})
	return err
}
