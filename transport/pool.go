// Package transport provides a TCP connection pool for exclusive-use connections.
//
// The connect-server protocol has no request IDs, so a connection can carry only one
// exchange at a time. The pool hands each caller a connection of its own and takes it back
// afterwards.
//
// Pool design: uses a buffered channel as a natural FIFO queue.
// Buffered channels are concurrency-safe, and blocking on empty is built-in.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

var ErrPoolClosed = errors.New("transport: connection pool closed")

// Factory opens a new connection. It must honor ctx.
type Factory func(ctx context.Context) (net.Conn, error)

// ConnPool manages a pool of reusable TCP connections to a single address.
type ConnPool struct {
	mu       sync.Mutex
	conns    chan *PoolConn // idle connections
	freed    chan struct{}  // wakes borrowers blocked at capacity when a slot opens
	addr     string
	maxConns int
	curConns int           // created and not yet discarded, including ones being dialed
	maxIdle  time.Duration // 0 = idle connections never go stale
	factory  Factory
	closed   bool
}

// PoolConn wraps a net.Conn with pool metadata.
type PoolConn struct {
	net.Conn
	pool     *ConnPool
	unusable bool
	lastUsed time.Time
}

// MarkUnusable makes Put close the connection instead of recycling it.
// Call it after any failed exchange: the stream may hold half a frame.
func (c *PoolConn) MarkUnusable() {
	c.unusable = true
}

// Release returns the connection to the pool it came from.
func (c *PoolConn) Release() {
	c.pool.Put(c)
}

// NewConnPool creates a connection pool with the given max size.
// Connections are created lazily: the pool starts empty and grows on demand.
func NewConnPool(addr string, maxConns int, maxIdle time.Duration, factory Factory) *ConnPool {
	if maxConns < 1 {
		maxConns = 1
	}
	return &ConnPool{
		conns:    make(chan *PoolConn, maxConns),
		freed:    make(chan struct{}, 1),
		addr:     addr,
		maxConns: maxConns,
		maxIdle:  maxIdle,
		factory:  factory,
	}
}

// Addr returns the address this pool dials.
func (p *ConnPool) Addr() string {
	return p.addr
}

// Size returns the number of live connections, idle or borrowed.
func (p *ConnPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curConns
}

// Get retrieves a connection from the pool.
// Strategy:
//  1. Take an idle connection if one is ready (stale ones are closed and skipped)
//  2. If none is idle but the pool is under its limit, dial a new one
//  3. Otherwise block until a connection is returned or ctx ends
func (p *ConnPool) Get(ctx context.Context) (*PoolConn, error) {
	for {
		select {
		case conn, ok := <-p.conns:
			if !ok {
				return nil, ErrPoolClosed
			}
			if p.stale(conn) {
				p.discard(conn)
				continue
			}
			return conn, nil
		default:
		}

		conn, created, err := p.createNew(ctx)
		if created || err != nil {
			return conn, err
		}

		// At capacity: block until a connection is returned or a slot frees up
		select {
		case conn, ok := <-p.conns:
			if !ok {
				return nil, ErrPoolClosed
			}
			if p.stale(conn) {
				p.discard(conn)
				continue
			}
			return conn, nil
		case <-p.freed:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Put returns a connection to the pool.
// If the connection is marked unusable, it's closed and its slot freed.
func (p *ConnPool) Put(conn *PoolConn) {
	if conn.unusable {
		p.discard(conn)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		conn.Conn.Close()
		p.curConns--
		return
	}
	conn.lastUsed = time.Now()
	// never blocks: at most maxConns connections exist
	p.conns <- conn
}

// Close shuts down the pool and closes all idle connections.
// Borrowed connections are closed when they are Put back.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.conns)
	for conn := range p.conns {
		conn.Conn.Close()
		p.curConns--
	}
	return nil
}

func (p *ConnPool) stale(conn *PoolConn) bool {
	return p.maxIdle > 0 && time.Since(conn.lastUsed) > p.maxIdle
}

func (p *ConnPool) discard(conn *PoolConn) {
	conn.Conn.Close()
	p.mu.Lock()
	p.curConns--
	p.mu.Unlock()
	p.signalFreed()
}

func (p *ConnPool) signalFreed() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// createNew dials a new connection if the pool is under its limit.
// The slot is reserved under the lock and the dial happens outside it, so a slow dial
// does not stall Put and Close.
func (p *ConnPool) createNew(ctx context.Context) (*PoolConn, bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	if p.curConns >= p.maxConns {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.curConns++
	p.mu.Unlock()

	netConn, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		p.signalFreed()
		return nil, false, err
	}

	return &PoolConn{
		Conn:     netConn,
		pool:     p,
		lastUsed: time.Now(),
	}, true, nil
}
