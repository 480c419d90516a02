package middleware

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue/v2"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/errors"
	"github.com/teilomillet/campusgate/server/metrics"
)

const defaultConcurrency = 16

// waiter is a request parked in the queue. ready is closed when a slot is handed to it.
type waiter struct {
	ready     chan struct{}
	granted   bool
	abandoned bool
}

// QueueMiddleware admits at most Concurrency requests at once and parks the rest in a
// bounded FIFO. A finishing request hands its slot straight to the oldest live waiter, so
// admission order is arrival order. Waiters whose context ends leave the queue; requests
// arriving to a full queue get 503.
type QueueMiddleware struct {
	mu          sync.Mutex
	waiters     *queue.Queue[*waiter]
	waiting     int // live waiters; abandoned entries stay in waiters until popped
	active      int // slots in use
	concurrency int
	maxSize     atomic.Int64
	closed      bool
	metrics     *metrics.Metrics
}

// NewQueueMiddleware creates a queue from cfg. m may be nil.
func NewQueueMiddleware(cfg config.QueueConfig, m *metrics.Metrics) *QueueMiddleware {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	qm := &QueueMiddleware{
		waiters:     queue.New[*waiter](),
		concurrency: concurrency,
		metrics:     m,
	}
	qm.maxSize.Store(cfg.InitialSize)
	return qm
}

// Handler runs next once the request holds a slot.
func (qm *QueueMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := GetRequestID(r.Context())

		qm.mu.Lock()
		if qm.closed {
			qm.mu.Unlock()
			qm.reject(w, errors.NewError(errors.QueueFullError, "Server is shutting down",
				http.StatusServiceUnavailable, requestID, nil, nil))
			return
		}

		position := 0
		if qm.active < qm.concurrency && qm.waiting == 0 {
			qm.active++
			qm.observeLocked()
			qm.mu.Unlock()
		} else {
			if int64(qm.waiting) >= qm.maxSize.Load() {
				qm.mu.Unlock()
				qm.reject(w, errors.NewQueueFullError(requestID))
				return
			}
			position = qm.waiting + 1
			wt := &waiter{ready: make(chan struct{})}
			qm.waiters.Add(wt)
			qm.waiting++
			qm.observeLocked()
			qm.mu.Unlock()

			if !qm.wait(r.Context(), wt) {
				qm.reject(w, errors.NewError(errors.QueueFullError, "Timed out waiting for a free slot",
					http.StatusServiceUnavailable, requestID, map[string]interface{}{"position": position}, r.Context().Err()))
				return
			}
		}
		defer qm.release()

		if qm.metrics != nil {
			qm.metrics.RequestDuration.WithLabelValues("queue_wait").Observe(time.Since(start).Seconds())
		}

		ctx := r.Context()
		if position > 0 {
			ctx = context.WithValue(ctx, queuePositionKey, position)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// wait blocks until wt is granted a slot or ctx ends. It reports whether the slot is held.
func (qm *QueueMiddleware) wait(ctx context.Context, wt *waiter) bool {
	select {
	case <-wt.ready:
		return true
	case <-ctx.Done():
	}

	qm.mu.Lock()
	defer qm.mu.Unlock()
	if wt.granted {
		// The slot arrived while giving up; pass it on.
		qm.releaseLocked()
		return false
	}
	wt.abandoned = true
	qm.waiting--
	qm.observeLocked()
	return false
}

func (qm *QueueMiddleware) release() {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.releaseLocked()
}

func (qm *QueueMiddleware) releaseLocked() {
	for qm.waiters.Length() > 0 {
		wt := qm.waiters.Remove()
		if wt.abandoned {
			continue
		}
		wt.granted = true
		qm.waiting--
		close(wt.ready)
		qm.observeLocked()
		return
	}
	qm.active--
	qm.observeLocked()
}

func (qm *QueueMiddleware) observeLocked() {
	if qm.metrics == nil {
		return
	}
	qm.metrics.ActiveRequests.WithLabelValues("queued").Set(float64(qm.waiting))
	qm.metrics.ActiveRequests.WithLabelValues("processing").Set(float64(qm.active))
}

func (qm *QueueMiddleware) reject(w http.ResponseWriter, err *errors.GateError) {
	if qm.metrics != nil {
		qm.metrics.ErrorsTotal.WithLabelValues("queue_full").Inc()
	}
	w.Header().Set("Retry-After", "1")
	errors.WriteError(w, err)
}

// Shutdown stops admitting requests and waits until queued and running requests are done
// or ctx ends.
func (qm *QueueMiddleware) Shutdown(ctx context.Context) error {
	qm.mu.Lock()
	qm.closed = true
	qm.mu.Unlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		qm.mu.Lock()
		idle := qm.active == 0 && qm.waiting == 0
		qm.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			if qm.metrics != nil {
				qm.metrics.ErrorsTotal.WithLabelValues("queue_shutdown_timeout").Inc()
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SetMaxSize changes how many requests may wait. It applies to later arrivals only.
func (qm *QueueMiddleware) SetMaxSize(size int64) {
	qm.maxSize.Store(size)
}

// GetMaxSize returns the current maximum number of waiting requests.
func (qm *QueueMiddleware) GetMaxSize() int64 {
	return qm.maxSize.Load()
}

// GetQueueSize returns the number of requests waiting for a slot.
func (qm *QueueMiddleware) GetQueueSize() int {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.waiting
}

// GetProcessing returns the number of requests holding a slot.
func (qm *QueueMiddleware) GetProcessing() int {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.active
}
