package registry

import "context"

// GameServer is one game server the ConnectServer can list and resolve.
type GameServer struct {
	Code    uint16 `json:"code"`
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Port    uint16 `json:"port"`
	Percent uint8  `json:"percent"` // population shown in the list
	Visible bool   `json:"visible"`
}

// Registry is the shared directory game servers announce themselves in.
type Registry interface {
	Register(ctx context.Context, srv GameServer, ttl int64) error
	Deregister(ctx context.Context, code uint16) error
	Discover(ctx context.Context) ([]GameServer, error)
	Watch(ctx context.Context) <-chan []GameServer
}
