package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// newTestRegistry connects to the etcd cluster named by ETCD_ENDPOINTS, or skips.
func newTestRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	prefix := "/connect-server-test/" + strings.ReplaceAll(t.Name(), "/", "_") + "/"
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), prefix, 2*time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pvp := GameServer{Code: 0, Name: "PVP", IP: "127.0.0.1", Port: 55901, Visible: true}
	vip := GameServer{Code: 20, Name: "VIP", IP: "127.0.0.1", Port: 55919, Visible: true}

	if err := reg.Register(ctx, pvp, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, vip, 10); err != nil {
		t.Fatal(err)
	}

	servers, err := reg.Discover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 {
		t.Fatalf("expect 2 servers, got %d", len(servers))
	}

	if err := reg.Deregister(ctx, pvp.Code); err != nil {
		t.Fatal(err)
	}

	servers, err = reg.Discover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 1 {
		t.Fatalf("expect 1 server after deregister, got %d", len(servers))
	}
	if servers[0] != vip {
		t.Fatalf("expect %+v, got %+v", vip, servers[0])
	}

	reg.Deregister(ctx, vip.Code)
}

func TestWatch(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updates := reg.Watch(ctx)
	time.Sleep(100 * time.Millisecond)

	srv := GameServer{Code: 7, Name: "Watch", IP: "10.0.0.7", Port: 55907, Visible: true}
	if err := reg.Register(ctx, srv, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(context.Background(), srv.Code)

	select {
	case servers := <-updates:
		if len(servers) != 1 || servers[0] != srv {
			t.Fatalf("unexpected watch update: %+v", servers)
		}
	case <-ctx.Done():
		t.Fatal("no watch update")
	}
}
