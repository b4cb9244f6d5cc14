// Package config loads the TOML configuration shared by the connect-server binaries.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"connect-server/loadbalance"
	"connect-server/registry"
)

const (
	DefaultPort       = 44405
	DefaultListenAddr = "0.0.0.0:44405"
	DefaultServerAddr = "127.0.0.1:44405"
)

// Config is the top-level configuration loaded from a TOML file.
type Config struct {
	Log         LogConfig          `toml:"log"`
	Server      ServerConfig       `toml:"server"`
	Client      ClientConfig       `toml:"client"`
	Registry    RegistryConfig     `toml:"registry"`
	GameServers []GameServerConfig `toml:"game_servers"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// ServerConfig configures the ConnectServer listener.
type ServerConfig struct {
	Listen          string   `toml:"listen"`
	IdleTimeout     Duration `toml:"idle_timeout"`
	HandlerTimeout  Duration `toml:"handler_timeout"` // 0 = no per-request limit
	RateLimit       float64  `toml:"rate_limit"`      // requests per second across all connections, 0 = unlimited
	RateBurst       int      `toml:"rate_burst"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// ClientConfig configures connectclient. Endpoints, when set, take precedence over Addr.
type ClientConfig struct {
	Addr       string           `toml:"addr"`
	Endpoints  []EndpointConfig `toml:"endpoints"`
	Balancer   string           `toml:"balancer"`
	PoolSize   int              `toml:"pool_size"`
	MaxIdle    Duration         `toml:"max_idle"`
	Timeout    Duration         `toml:"timeout"`
	MaxRetries int              `toml:"max_retries"`
	RetryDelay Duration         `toml:"retry_delay"`
}

type EndpointConfig struct {
	Addr   string `toml:"addr"`
	Weight int    `toml:"weight"`
}

// RegistryConfig points at the etcd cluster holding the game-server directory.
// No endpoints means the static game_servers list is used alone.
type RegistryConfig struct {
	Endpoints   []string `toml:"endpoints"`
	Prefix      string   `toml:"prefix"`
	DialTimeout Duration `toml:"dial_timeout"`
	TTL         int64    `toml:"ttl"` // lease seconds for `connectserver register`
}

// GameServerConfig is one static game-server entry.
type GameServerConfig struct {
	Code    uint16 `toml:"code"`
	Name    string `toml:"name"`
	IP      string `toml:"ip"`
	Port    uint16 `toml:"port"`
	Percent uint8  `toml:"percent"`
	Visible bool   `toml:"visible"`
}

// Duration is a time.Duration written as a string ("5s", "250ms") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is given: the two development game
// servers and a local listener on the standard port.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Listen:          DefaultListenAddr,
			IdleTimeout:     Duration{60 * time.Second},
			RateBurst:       1,
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Client: ClientConfig{
			Addr:     DefaultServerAddr,
			Balancer: "round_robin",
			PoolSize: 1,
			Timeout:  Duration{5 * time.Second},
		},
		Registry: RegistryConfig{
			Prefix:      registry.DefaultPrefix,
			DialTimeout: Duration{5 * time.Second},
			TTL:         10,
		},
		GameServers: []GameServerConfig{
			{Code: 0, Name: "PVP", IP: "127.0.0.1", Port: 55901, Visible: true},
			{Code: 20, Name: "VIP", IP: "127.0.0.1", Port: 55919, Visible: true},
		},
	}
}

// Load reads path over the defaults, applies environment overrides, and validates.
// An empty path skips the file.
//
// Environment overrides:
//
//	CONNECT_SERVER_LISTEN   server.listen
//	CONNECT_SERVER_ADDR     client.addr
//	CONNECT_LOG_LEVEL       log.level
//	CONNECT_ETCD_ENDPOINTS  registry.endpoints (comma separated)
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// A file that sets game_servers replaces the default list rather than appending to it.
		cfg.GameServers = nil
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if !meta.IsDefined("game_servers") {
			cfg.GameServers = Default().GameServers
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing %s: unknown key %q", path, undecoded[0].String())
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONNECT_SERVER_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("CONNECT_SERVER_ADDR"); v != "" {
		cfg.Client.Addr = v
	}
	if v := os.Getenv("CONNECT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CONNECT_ETCD_ENDPOINTS"); v != "" {
		var endpoints []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				endpoints = append(endpoints, e)
			}
		}
		cfg.Registry.Endpoints = endpoints
	}
}

// Validate checks addresses, limits, and game-server entries.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen: %w", err)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be at least 1 when rate_limit is set, got %d", c.Server.RateBurst)
	}

	for _, ep := range c.ClientEndpoints() {
		if _, _, err := net.SplitHostPort(ep.Addr); err != nil {
			return fmt.Errorf("client endpoint %q: %w", ep.Addr, err)
		}
	}
	if _, err := loadbalance.New(c.Client.Balancer); err != nil {
		return fmt.Errorf("client.balancer: %w", err)
	}
	if c.Client.PoolSize < 0 || c.Client.MaxRetries < 0 {
		return fmt.Errorf("client.pool_size and client.max_retries must not be negative")
	}

	seen := make(map[uint16]bool, len(c.GameServers))
	for _, gs := range c.GameServers {
		if seen[gs.Code] {
			return fmt.Errorf("game_servers: duplicate code %d", gs.Code)
		}
		seen[gs.Code] = true
		if net.ParseIP(gs.IP).To4() == nil {
			return fmt.Errorf("game_servers: code %d: %q is not an IPv4 address", gs.Code, gs.IP)
		}
	}
	return nil
}

// ClientEndpoints returns the configured endpoints, or Addr as a single endpoint.
func (c *Config) ClientEndpoints() []loadbalance.Endpoint {
	if len(c.Client.Endpoints) == 0 {
		return []loadbalance.Endpoint{{Addr: c.Client.Addr, Weight: 1}}
	}
	eps := make([]loadbalance.Endpoint, len(c.Client.Endpoints))
	for i, e := range c.Client.Endpoints {
		eps[i] = loadbalance.Endpoint{Addr: e.Addr, Weight: e.Weight}
	}
	return eps
}

// StaticServers converts the game_servers table into directory records.
func (c *Config) StaticServers() []registry.GameServer {
	out := make([]registry.GameServer, len(c.GameServers))
	for i, gs := range c.GameServers {
		out[i] = gs.GameServer()
	}
	return out
}

func (g GameServerConfig) GameServer() registry.GameServer {
	return registry.GameServer{
		Code:    g.Code,
		Name:    g.Name,
		IP:      g.IP,
		Port:    g.Port,
		Percent: g.Percent,
		Visible: g.Visible,
	}
}
