package db

import (
	"context"
	"sync"
	"time"

	"github.com/lememe/leme/logger"
)

// watcher delivers the first failure of a pool to onError.
type watcher struct {
	ping     func(ctx context.Context) error
	interval time.Duration
	timeout  time.Duration
	onError  func(error)

	mu       sync.Mutex
	closed   bool
	notified bool

	stop chan struct{}
	done chan struct{}
}

func newWatcher(ping func(ctx context.Context) error, interval, timeout time.Duration, onError func(error)) *watcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &watcher{
		ping:     ping,
		interval: interval,
		timeout:  timeout,
		onError:  onError,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// start launches the ping loop. A non-positive interval disables pinging;
// query errors are still reported.
func (w *watcher) start() {
	if w.interval <= 0 {
		close(w.done)
		return
	}
	go w.run()
}

func (w *watcher) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
			err := w.ping(ctx)
			cancel()
			if err != nil {
				w.notify(&PoolError{Reason: ReasonHealthCheck, Err: err})
				return
			}
		}
	}
}

// notify reports err once. It is a no-op after close.
func (w *watcher) notify(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.notified {
		return
	}
	w.notified = true
	logger.Warn("Database pool reported an error", "component", "DB", "reason", ReasonOf(err), "error", err)
	if w.onError != nil {
		w.onError(err)
	}
}

// observe reports a query error if it indicates a broken connection.
func (w *watcher) observe(err error) {
	if IsConnectionError(err) {
		w.notify(&PoolError{Reason: ReasonQueryError, Err: err})
	}
}

// close stops the ping loop and waits for it to exit. It must not be called
// from onError.
func (w *watcher) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done
}
