package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tutortoise/food-detection-service/detections"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize       = 4
	DefaultAcquireTimeout = 5 * time.Second
	HealthCheckPeriod     = 60 * time.Second
	maxRecordedErrors     = 10
)

type sessionFactory func() (*detections.ModelSession, error)

type ModelSessionPool struct {
	sessions       chan *detections.ModelSession
	size           int
	newSession     sessionFactory
	acquireTimeout time.Duration
	done           chan struct{}
	wake           chan struct{}
	metrics        *PoolMetrics

	// mu guards closed, live and lastErrors. live counts sessions that
	// exist, idle or borrowed, and never exceeds size.
	mu         sync.Mutex
	closed     bool
	live       int
	lastErrors []error
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	totalDiscarded  int64
	totalReplaced   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolStats is a point-in-time copy of the pool metrics.
type PoolStats struct {
	Size            int           `json:"pool_size"`
	Live            int           `json:"live_sessions"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	TotalDiscarded  int64         `json:"total_discarded"`
	TotalReplaced   int64         `json:"total_replaced"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
	LastErrors      []string      `json:"last_errors,omitempty"`
}

func NewModelSessionPool(newSession sessionFactory, size int, acquireTimeout time.Duration) (*ModelSessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}

	pool := &ModelSessionPool{
		sessions:       make(chan *detections.ModelSession, size),
		size:           size,
		newSession:     newSession,
		acquireTimeout: acquireTimeout,
		done:           make(chan struct{}),
		wake:           make(chan struct{}, 1),
		metrics:        &PoolMetrics{},
	}

	// Initialize sessions
	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.live++
		pool.sessions <- session
	}

	go pool.healthCheck()

	return pool, nil
}

func (p *ModelSessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *ModelSessionPool) Acquire(ctx context.Context) (*detections.ModelSession, error) {
	if p.isClosed() {
		return nil, fmt.Errorf("pool is closed")
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session := <-p.sessions:
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-p.done:
		return nil, fmt.Errorf("pool is closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a healthy session to the pool.
func (p *ModelSessionPool) Release(session *detections.ModelSession) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.put(session)
}

// Discard destroys a borrowed session that failed. The health check
// creates its replacement.
func (p *ModelSessionPool) Discard(session *detections.ModelSession) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalDiscarded++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	p.live--
	p.mu.Unlock()
	session.Destroy()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// put hands session back to the idle channel, destroying it when the pool
// is closed or already full.
func (p *ModelSessionPool) put(session *detections.ModelSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		select {
		case p.sessions <- session:
			return
		default:
		}
	}
	p.live--
	session.Destroy()
}

func (p *ModelSessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.done)

	// Destroy all idle sessions; borrowed ones are destroyed when returned.
	for {
		select {
		case session := <-p.sessions:
			p.live--
			session.Destroy()
		default:
			return
		}
	}
}

func (p *ModelSessionPool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		case <-p.wake:
		}
		if missing := p.missing(); missing > 0 {
			p.replenishSessions(missing)
		}
	}
}

// missing counts sessions lost to Discard that have not been replaced.
func (p *ModelSessionPool) missing() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	return p.size - p.live
}

func (p *ModelSessionPool) replenishSessions(count int) {
	for i := 0; i < count; i++ {
		session, err := p.newSession()
		if err != nil {
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		if p.closed || p.live >= p.size {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.live++
		p.mu.Unlock()

		p.metrics.mu.Lock()
		p.metrics.totalReplaced++
		p.metrics.mu.Unlock()

		p.put(session)
	}
}

func (p *ModelSessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > maxRecordedErrors {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *ModelSessionPool) GetMetrics() PoolStats {
	p.mu.Lock()
	live := p.live
	errs := make([]string, len(p.lastErrors))
	for i, err := range p.lastErrors {
		errs[i] = err.Error()
	}
	p.mu.Unlock()

	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolStats{
		Size:            p.size,
		Live:            live,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		TotalDiscarded:  p.metrics.totalDiscarded,
		TotalReplaced:   p.metrics.totalReplaced,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime,
		LastErrors:      errs,
	}
}
