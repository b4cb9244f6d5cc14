package serverlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connect-server/message"
	"connect-server/protocol"
	"connect-server/registry"
)

func TestDefaultPacket(t *testing.T) {
	m := NewManager(DefaultServers())

	pkt, err := m.Packet()
	require.NoError(t, err)
	b, err := pkt.Marshal()
	require.NoError(t, err)

	want := []byte{0xC2, 0x0C, 0xF4, 0x06, 0x00, 0x00, 0x00, 0x01, 0x14, 0x00, 0x00, 0x01}
	assert.Equal(t, want, b)
	assert.Equal(t, byte(0x0C), pkt.Length)
}

func TestLoadSortsAndDedupes(t *testing.T) {
	m := NewManager([]registry.GameServer{
		{Code: 20, IP: "10.0.0.1", Port: 1},
		{Code: 3, IP: "10.0.0.2", Port: 2},
		{Code: 20, IP: "10.0.0.3", Port: 3},
	})

	servers := m.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, uint16(3), servers[0].Code)
	assert.Equal(t, uint16(20), servers[1].Code)
	assert.Equal(t, "10.0.0.3", servers[1].IP, "later entry wins")
}

func TestFindByCode(t *testing.T) {
	m := NewManager(DefaultServers())

	s, ok := m.FindByCode(20)
	require.True(t, ok)
	assert.Equal(t, uint16(55919), s.Port)

	_, ok = m.FindByCode(7)
	assert.False(t, ok)
}

func TestHiddenServerListedWithFlagCleared(t *testing.T) {
	m := NewManager([]registry.GameServer{{Code: 1, Percent: 40, Visible: false}})
	assert.Equal(t, []message.ServerEntry{{Code: 1, Percent: 40, Visible: false}}, m.Entries())
}

func TestPacketTooManyServers(t *testing.T) {
	servers := make([]registry.GameServer, MaxServers+1)
	for i := range servers {
		servers[i].Code = uint16(i)
	}
	m := NewManager(servers)

	_, err := m.Packet()
	assert.ErrorIs(t, err, protocol.ErrValueTooLarge)

	m.Load(servers[:MaxServers])
	pkt, err := m.Packet()
	require.NoError(t, err)
	assert.Equal(t, byte(protocol.MinPacketSize+MaxServers*message.ServerEntrySize), pkt.Length)
}

func TestInfoPacket(t *testing.T) {
	m := NewManager(DefaultServers())

	pkt, ok := m.InfoPacket(0)
	require.True(t, ok)
	assert.Equal(t, protocol.HeadC1, pkt.Head)
	b, err := pkt.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte(22), b[1])

	info, err := message.DecodeServerInfo(pkt.Payload)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:55901", info.Addr())

	_, ok = m.InfoPacket(99)
	assert.False(t, ok)
}

type mockRegistry struct {
	mu       sync.Mutex
	servers  []registry.GameServer
	err      error
	watchers []chan []registry.GameServer
}

func (r *mockRegistry) Register(ctx context.Context, srv registry.GameServer, ttl int64) error {
	return errors.New("not implemented")
}

func (r *mockRegistry) Deregister(ctx context.Context, code uint16) error {
	return errors.New("not implemented")
}

func (r *mockRegistry) Discover(ctx context.Context) ([]registry.GameServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.servers, r.err
}

func (r *mockRegistry) Watch(ctx context.Context) <-chan []registry.GameServer {
	ch := make(chan []registry.GameServer, 1)
	r.mu.Lock()
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()
	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, w := range r.watchers {
			if w == ch {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch
}

func (r *mockRegistry) publish(servers []registry.GameServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = servers
	for _, w := range r.watchers {
		w <- servers
	}
}

func TestSyncMergesAndFollowsWatch(t *testing.T) {
	reg := &mockRegistry{servers: []registry.GameServer{
		{Code: 20, IP: "10.0.0.20", Port: 55919, Visible: true},
		{Code: 5, IP: "10.0.0.5", Port: 55905, Visible: true},
	}}
	m := NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Sync(ctx, reg, DefaultServers()))

	servers := m.Servers()
	require.Len(t, servers, 3)
	s, _ := m.FindByCode(20)
	assert.Equal(t, "10.0.0.20", s.IP, "registry overrides static")

	reg.publish([]registry.GameServer{{Code: 9, IP: "10.0.0.9", Port: 55909}})
	assert.Eventually(t, func() bool {
		_, ok := m.FindByCode(9)
		return ok && len(m.Servers()) == 3
	}, time.Second, 10*time.Millisecond)

	s, _ = m.FindByCode(20)
	assert.Equal(t, "127.0.0.1", s.IP, "static entry comes back once the registry drops it")
}

func TestSyncDiscoverError(t *testing.T) {
	reg := &mockRegistry{err: errors.New("etcd down")}
	m := NewManager(DefaultServers())

	err := m.Sync(context.Background(), reg, nil)
	assert.EqualError(t, err, "etcd down")
	assert.Len(t, m.Servers(), 2, "directory untouched on failure")
}
