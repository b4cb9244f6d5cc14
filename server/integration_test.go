package server

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"connect-server/client"
	"connect-server/loadbalance"
	"connect-server/middleware"
	"connect-server/registry"
	"connect-server/serverlist"
)

// TestFullIntegrationWithEtcd covers the whole path:
// game server → Registry(etcd) → serverlist.Sync → Server → Middleware → pooled Client.
func TestFullIntegrationWithEtcd(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}

	// 1. connect to etcd under a prefix of our own
	reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","), "/connect-server-it/", 2*time.Second, nil)
	if err != nil {
		t.Fatalf("failed to connect etcd: %v", err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 2. follow the registry, starting from the static development list
	list := serverlist.NewManager(nil)
	if err := list.Sync(ctx, reg, serverlist.DefaultServers()); err != nil {
		t.Fatal(err)
	}

	// 3. start the server with middleware
	svr := NewServer(list, WithLogger(zerolog.Nop()))
	svr.Use(middleware.LoggingMiddleware(zerolog.Nop()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.Serve(ln)
	defer svr.Shutdown(3 * time.Second)

	cli, err := client.NewClient(client.Config{
		Endpoints: []loadbalance.Endpoint{{Addr: ln.Addr().String()}},
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	// 4. a game server announces itself
	gs := registry.GameServer{Code: 5, Name: "Event", IP: "10.0.0.5", Port: 55905, Percent: 10, Visible: true}
	if err := reg.Register(ctx, gs, 10); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	defer reg.Deregister(context.Background(), gs.Code)

	// 5. it shows up in the list and resolves
	deadline := time.Now().Add(5 * time.Second)
	for {
		reply, err := cli.ServerList(ctx)
		if err != nil {
			t.Fatal(err)
		}
		entries, err := reply.Entries()
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("registered server never listed, got %+v", entries)
		}
		time.Sleep(50 * time.Millisecond)
	}

	info, err := cli.ServerInfo(ctx, gs.Code)
	if err != nil {
		t.Fatal(err)
	}
	if info.Addr() != "10.0.0.5:55905" {
		t.Fatalf("expect 10.0.0.5:55905, got %s", info.Addr())
	}

	// 6. deregistering removes it again
	if err := reg.Deregister(ctx, gs.Code); err != nil {
		t.Fatal(err)
	}
	for {
		if _, ok := list.FindByCode(gs.Code); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("deregistered server still listed")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
