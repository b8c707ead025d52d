package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
)

// DefaultLockTTL is how long a lock survives without a heartbeat.
const DefaultLockTTL = 10 * time.Minute

// Lock is an exclusive claim on a run directory, refreshed in the
// background until Release.
type Lock struct {
	path string
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type lockInfo struct {
	PID      int       `json:"pid"`
	Acquired time.Time `json:"acquired"`
}

// Lock claims the run for this process. A lock file younger than ttl held
// by someone else yields ErrLocked; an older one is considered abandoned
// and taken over.
func (r *Run) Lock(ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	path := r.path(lockFile)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			info, _ := json.Marshal(lockInfo{PID: os.Getpid(), Acquired: r.now()})
			f.Write(info)
			f.Close()

			l := &Lock{path: path, stop: make(chan struct{}), done: make(chan struct{})}
			go l.heartbeat(ttl / 3)
			r.log.Debugw("lock acquired", "ttl", ttl)
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock: %w", err)
		}

		fi, err := os.Stat(path)
		if err != nil {
			// Released between our create and stat.
			continue
		}
		age := time.Since(fi.ModTime())
		if age < ttl {
			return nil, fmt.Errorf("run %s (lock age %s): %w", r.id, age.Round(time.Second), ErrLocked)
		}
		r.log.Warnw("removing stale lock", "age", age.Round(time.Second))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("run %s: %w", r.id, ErrLocked)
}

// heartbeat bumps the lock mtime so other processes see it as live.
func (l *Lock) heartbeat(interval time.Duration) {
	defer close(l.done)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := time.Now()
			os.Chtimes(l.path, now, now)
		}
	}
}

// Release stops the heartbeat and removes the lock file. It is safe to call
// more than once.
func (l *Lock) Release() error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = fmt.Errorf("failed to remove lock: %w", rmErr)
		}
	})
	return err
}
