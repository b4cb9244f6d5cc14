package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"connect-server/loadbalance"
	"connect-server/message"
	"connect-server/transport"
)

// Config configures a pooled Client.
type Config struct {
	Endpoints []loadbalance.Endpoint
	Balancer  loadbalance.Balancer // nil = round robin
	PoolSize  int                  // connections per endpoint, default 1
	MaxIdle   time.Duration        // idle connections older than this are redialed; 0 = never
	Timeout   time.Duration        // bound on one exchange including dial; 0 = none
	Retry     RetryPolicy
}

// Client runs exchanges against a set of ConnectServer endpoints, keeping a small pool of
// connections to each. Safe for concurrent use; each exchange gets a connection to itself.
type Client struct {
	cfg    Config
	mu     sync.Mutex
	pools  map[string]*transport.ConnPool // one pool per endpoint address
	closed bool
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("client: no endpoints configured")
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	return &Client{
		cfg:   cfg,
		pools: make(map[string]*transport.ConnPool),
	}, nil
}

// ServerList runs one F4 06 exchange.
func (c *Client) ServerList(ctx context.Context) (*message.ServerListReply, error) {
	var reply *message.ServerListReply
	err := c.cfg.Retry.Do(ctx, "server_list", func(ctx context.Context) error {
		return c.withConn(ctx, func(ctx context.Context, conn net.Conn) error {
			var err error
			reply, err = RequestServerList(ctx, conn)
			return err
		})
	})
	return reply, err
}

// ServerInfo runs one F4 03 exchange for the given server code.
func (c *Client) ServerInfo(ctx context.Context, code uint16) (*message.ServerInfo, error) {
	var info *message.ServerInfo
	err := c.cfg.Retry.Do(ctx, "server_info", func(ctx context.Context) error {
		return c.withConn(ctx, func(ctx context.Context, conn net.Conn) error {
			var err error
			info, err = RequestServerInfo(ctx, conn, code)
			return err
		})
	})
	return info, err
}

// Close closes every idle pooled connection. Exchanges started afterwards fail with
// DialFailed wrapping transport.ErrPoolClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for addr, pool := range c.pools {
		pool.Close()
		delete(c.pools, addr)
	}
	return nil
}

// withConn picks an endpoint, borrows a connection, and runs fn on it under the configured
// timeout. A connection that saw any error is closed instead of returned to the pool.
func (c *Client) withConn(ctx context.Context, fn func(context.Context, net.Conn) error) error {
	ep, err := c.cfg.Balancer.Pick(c.cfg.Endpoints)
	if err != nil {
		return &Error{Kind: KindDialFailed, Err: err}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	pool, err := c.pool(ep.Addr)
	if err != nil {
		return &Error{Kind: KindDialFailed, Err: err}
	}
	conn, err := pool.Get(ctx)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return err
		}
		if k, done := ctxKind(ctx); done {
			return &Error{Kind: k, Err: err}
		}
		return &Error{Kind: KindDialFailed, Err: err}
	}

	err = fn(ctx, conn)
	if err != nil {
		conn.MarkUnusable()
	}
	conn.Release()
	return err
}

func (c *Client) pool(addr string) (*transport.ConnPool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrPoolClosed
	}
	pool, ok := c.pools[addr]
	if !ok {
		pool = transport.NewConnPool(addr, c.cfg.PoolSize, c.cfg.MaxIdle, func(ctx context.Context) (net.Conn, error) {
			return Dial(ctx, addr)
		})
		c.pools[addr] = pool
	}
	return pool, nil
}
