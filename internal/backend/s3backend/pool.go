package s3backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// connectionPool manages a pool of S3 client connections, adapted from the
// teacher's internal/storage/s3 pool with the same channel-backed borrow/
// return shape and background health checker.
type connectionPool struct {
	mu          sync.RWMutex
	connections chan *s3.Client
	factory     func() (*s3.Client, error)
	maxSize     int
	currentSize int
	closed      bool

	healthCheck *poolHealthChecker

	stats poolStats
}

type poolStats struct {
	Active      int
	Idle        int
	Total       int
	MaxSize     int
	Hits        int64
	Misses      int64
	Timeouts    int64
	Errors      int64
	Created     int64
	Destroyed   int64
	LastCreated time.Time
	LastError   string
	LastErrorAt time.Time
}

type poolHealthChecker struct {
	pool     *connectionPool
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopped  chan struct{}
}

func newConnectionPool(maxSize int, factory func() (*s3.Client, error)) (*connectionPool, error) {
	if maxSize <= 0 {
		maxSize = 8
	}
	if factory == nil {
		return nil, fmt.Errorf("connection factory cannot be nil")
	}

	pool := &connectionPool{
		connections: make(chan *s3.Client, maxSize),
		factory:     factory,
		maxSize:     maxSize,
		stats:       poolStats{MaxSize: maxSize},
	}

	pool.healthCheck = &poolHealthChecker{
		pool:     pool,
		interval: 30 * time.Second,
		timeout:  5 * time.Second,
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go pool.healthCheck.run()

	return pool, nil
}

func (p *connectionPool) Get() *s3.Client {
	return p.GetWithTimeout(10 * time.Second)
}

func (p *connectionPool) GetWithTimeout(timeout time.Duration) *s3.Client {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	select {
	case conn := <-p.connections:
		p.mu.Lock()
		p.stats.Hits++
		p.stats.Active++
		p.mu.Unlock()
		return conn
	default:
	}

	if p.canCreateConnection() {
		conn, err := p.createConnection()
		if err == nil {
			return conn
		}
		p.mu.Lock()
		p.stats.Errors++
		p.stats.LastError = err.Error()
		p.stats.LastErrorAt = time.Now()
		p.mu.Unlock()
	}
	p.mu.Lock()
	p.stats.Misses++
	p.mu.Unlock()

	// Pool exhausted: wait up to timeout for a returned connection,
	// then fall back to a fresh client outside the pool.
	select {
	case conn := <-p.connections:
		p.mu.Lock()
		p.stats.Hits++
		p.stats.Active++
		p.mu.Unlock()
		return conn
	case <-time.After(timeout):
		p.mu.Lock()
		p.stats.Timeouts++
		p.mu.Unlock()
		client, err := p.factory()
		if err != nil {
			return nil
		}
		return client
	}
}

func (p *connectionPool) Put(conn *s3.Client) {
	if conn == nil {
		return
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	p.mu.RUnlock()

	select {
	case p.connections <- conn:
		p.mu.Lock()
		p.stats.Active--
		p.mu.Unlock()
	default:
		p.mu.Lock()
		p.stats.Destroyed++
		p.currentSize--
		p.mu.Unlock()
	}
}

func (p *connectionPool) Stats() poolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := p.stats
	stats.Total = p.currentSize
	stats.Idle = len(p.connections)
	return stats
}

func (p *connectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.healthCheck.stopCh)
	<-p.healthCheck.stopped

	close(p.connections)
	for range p.connections {
	}

	return nil
}

func (p *connectionPool) canCreateConnection() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentSize < p.maxSize && !p.closed
}

func (p *connectionPool) createConnection() (*s3.Client, error) {
	conn, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.currentSize++
	p.stats.Created++
	p.stats.Active++
	p.stats.LastCreated = time.Now()
	p.mu.Unlock()

	return conn, nil
}

func (hc *poolHealthChecker) run() {
	defer close(hc.stopped)

	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stopCh:
			return
		case <-ticker.C:
			hc.checkHealth()
		}
	}
}

func (hc *poolHealthChecker) checkHealth() {
	testCount := 3
	if hc.pool.Stats().Idle < testCount {
		testCount = hc.pool.Stats().Idle
	}

	var unhealthy int
	for i := 0; i < testCount; i++ {
		conn := hc.pool.GetWithTimeout(1 * time.Second)
		if conn == nil {
			continue
		}
		if hc.testConnection(conn) {
			hc.pool.Put(conn)
		} else {
			unhealthy++
			hc.pool.mu.Lock()
			hc.pool.currentSize--
			hc.pool.stats.Destroyed++
			hc.pool.mu.Unlock()
		}
	}

	if unhealthy > testCount/2 {
		hc.pool.mu.Lock()
		hc.pool.stats.LastError = fmt.Sprintf("found %d unhealthy connections", unhealthy)
		hc.pool.stats.LastErrorAt = time.Now()
		hc.pool.mu.Unlock()
	}
}

func (hc *poolHealthChecker) testConnection(conn *s3.Client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
	defer cancel()

	_, err := conn.ListBuckets(ctx, &s3.ListBucketsInput{})
	return err == nil
}
