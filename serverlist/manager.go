// Package serverlist holds the game servers a ConnectServer advertises and turns them into
// reply packets.
package serverlist

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"connect-server/message"
	"connect-server/protocol"
	"connect-server/registry"
)

// MaxServers is the most entries an F4 06 reply can carry in a short frame.
const MaxServers = protocol.MaxPayload / message.ServerEntrySize

// DefaultServers is the development directory used when nothing else is configured.
func DefaultServers() []registry.GameServer {
	return []registry.GameServer{
		{Code: 0, Name: "PVP", IP: "127.0.0.1", Port: 55901, Visible: true},
		{Code: 20, Name: "VIP", IP: "127.0.0.1", Port: 55919, Visible: true},
	}
}

// Manager is the in-memory game-server directory. Safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	servers []registry.GameServer // sorted by code, codes unique
}

func NewManager(servers []registry.GameServer) *Manager {
	m := &Manager{}
	m.Load(servers)
	return m
}

// Load replaces the directory. Later entries win over earlier ones with the same code.
func (m *Manager) Load(servers []registry.GameServer) {
	byCode := make(map[uint16]registry.GameServer, len(servers))
	for _, s := range servers {
		byCode[s.Code] = s
	}
	sorted := make([]registry.GameServer, 0, len(byCode))
	for _, s := range byCode {
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	m.mu.Lock()
	m.servers = sorted
	m.mu.Unlock()
}

// Servers returns a copy of the directory, ordered by code.
func (m *Manager) Servers() []registry.GameServer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]registry.GameServer, len(m.servers))
	copy(out, m.servers)
	return out
}

func (m *Manager) FindByCode(code uint16) (registry.GameServer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.servers), func(i int) bool { return m.servers[i].Code >= code })
	if i < len(m.servers) && m.servers[i].Code == code {
		return m.servers[i], true
	}
	return registry.GameServer{}, false
}

// Entries projects the directory onto server-list rows. Hidden servers are listed with
// their visible flag cleared.
func (m *Manager) Entries() []message.ServerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]message.ServerEntry, len(m.servers))
	for i, s := range m.servers {
		entries[i] = message.ServerEntry{Code: s.Code, Percent: s.Percent, Visible: s.Visible}
	}
	return entries
}

// Packet builds the F4 06 reply: C2 <len> F4 06 followed by one entry per server.
func (m *Manager) Packet() (*protocol.Packet, error) {
	payload := message.EncodeServerList(m.Entries())
	pkt := &protocol.Packet{
		Head:    protocol.HeadC2,
		Type:    protocol.TypeConnectServer,
		Subtype: protocol.SubtypeServerList,
		Payload: payload,
	}
	b, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}
	pkt.Length = b[1]
	return pkt, nil
}

// InfoPacket builds the F4 03 reply for code. ok is false when the code is unknown.
func (m *Manager) InfoPacket(code uint16) (pkt *protocol.Packet, ok bool) {
	s, ok := m.FindByCode(code)
	if !ok {
		return nil, false
	}
	payload := message.ServerInfo{IP: s.IP, Port: s.Port}.Encode()
	return &protocol.Packet{
		Head:    protocol.HeadC1,
		Length:  byte(protocol.MinPacketSize + len(payload)),
		Type:    protocol.TypeConnectServer,
		Subtype: protocol.SubtypeServerInfo,
		Payload: payload,
	}, true
}

// Sync loads static plus everything reg knows, then reloads on every registry change until
// ctx ends. Registered servers override static ones with the same code.
// It returns after the first load; the watch runs in the background.
func (m *Manager) Sync(ctx context.Context, reg registry.Registry, static []registry.GameServer) error {
	discovered, err := reg.Discover(ctx)
	if err != nil {
		return err
	}
	m.Load(merge(static, discovered))
	log.Info().Int("static", len(static)).Int("discovered", len(discovered)).Msg("server list loaded")

	updates := reg.Watch(ctx)
	go func() {
		for servers := range updates {
			m.Load(merge(static, servers))
			log.Info().Int("discovered", len(servers)).Msg("server list reloaded")
		}
	}()
	return nil
}

func merge(static, discovered []registry.GameServer) []registry.GameServer {
	all := make([]registry.GameServer, 0, len(static)+len(discovered))
	all = append(all, static...)
	return append(all, discovered...)
}
