// Package registry keeps the game-server directory in etcd.
//
// etcd is a distributed key-value store that provides strong consistency (Raft protocol).
// Game servers announce themselves there and every ConnectServer reads the same list:
//
//	Key:   {prefix}gameservers/{code}
//	Value: JSON-encoded GameServer
//
// Registration uses TTL-based leases: if a game server crashes, the lease expires
// and the entry is removed automatically, so no "ghost" server stays listed.
package registry

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const DefaultPrefix = "/connect-server/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	prefix string
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
// An empty prefix selects DefaultPrefix. etcdLog receives the etcd client's own logs; nil
// discards them.
func NewEtcdRegistry(endpoints []string, prefix string, dialTimeout time.Duration, etcdLog *zap.Logger) (*EtcdRegistry, error) {
	if etcdLog == nil {
		etcdLog = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      etcdLog,
	})
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EtcdRegistry{client: c, prefix: prefix}, nil
}

func (r *EtcdRegistry) dir() string {
	return r.prefix + "gameservers/"
}

func (r *EtcdRegistry) key(code uint16) string {
	return r.dir() + strconv.Itoa(int(code))
}

// Register adds a game server to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to renew the lease until ctx is cancelled
//
// Note: leaseID is a local variable, NOT stored on the struct, so one EtcdRegistry can
// register several servers concurrently.
func (r *EtcdRegistry) Register(ctx context.Context, srv GameServer, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(srv)
	if err != nil {
		return err
	}

	if _, err := r.client.Put(ctx, r.key(srv.Code), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		log.Debug().Uint16("code", srv.Code).Msg("registry lease keepalive stopped")
	}()
	return nil
}

// Deregister removes a game server from etcd.
func (r *EtcdRegistry) Deregister(ctx context.Context, code uint16) error {
	_, err := r.client.Delete(ctx, r.key(code))
	return err
}

// Watch emits the full game-server list whenever anything under the prefix changes
// (registrations, deregistrations, lease expirations). The channel closes when ctx ends.
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (r *EtcdRegistry) Watch(ctx context.Context) <-chan []GameServer {
	ch := make(chan []GameServer, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.dir(), clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full list
			// (simpler than parsing individual watch events)
			servers, err := r.Discover(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("registry discover after watch event failed")
				continue
			}
			select {
			case ch <- servers:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered game servers.
func (r *EtcdRegistry) Discover(ctx context.Context) ([]GameServer, error) {
	resp, err := r.client.Get(ctx, r.dir(), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	servers := make([]GameServer, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var srv GameServer
		if err := json.Unmarshal(kv.Value, &srv); err != nil {
			log.Warn().Str("key", string(kv.Key)).Err(err).Msg("skipping malformed registry entry")
			continue
		}
		servers = append(servers, srv)
	}

	return servers, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
