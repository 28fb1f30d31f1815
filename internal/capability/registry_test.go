package capability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHealthFollowsHeartbeatTimeout(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newRegistry(config.NodeConfig{ID: "a", HeartbeatIntervalMS: 100, HeartbeatTimeoutMS: 300}, Capability{Engine: "mock"}, nil, newLogger())
	r.clock = func() time.Time { return now }

	r.update(nodeMessage{NodeID: "b", Capability: Capability{Engine: "piper", Model: "en_US-amy"}, Load: Load{Free: 4}, Timestamp: now})
	now = now.Add(200 * time.Millisecond)
	r.evaluateHealth()
	if nodes := r.Query(WithEngineFilter("piper")); len(nodes) != 1 || !nodes[0].Healthy {
		t.Fatalf("expected healthy piper node, got %+v", nodes)
	}

	now = now.Add(200 * time.Millisecond)
	r.evaluateHealth()
	if nodes := r.Query(nil); len(nodes) != 1 || nodes[0].Healthy {
		t.Fatalf("expected node to be marked unhealthy, got %+v", nodes)
	}
	if _, ok := r.LeastLoaded(nil); ok {
		t.Fatal("unhealthy nodes must not be picked")
	}

	r.update(nodeMessage{NodeID: "b", Capability: Capability{Engine: "piper"}, Load: Load{Free: 2}, Timestamp: now})
	if nodes := r.Query(nil); !nodes[0].Healthy || nodes[0].Load.Free != 2 {
		t.Fatalf("expected recovery with fresh load, got %+v", nodes)
	}
}

func TestStaleMessagesIgnored(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newRegistry(config.NodeConfig{ID: "a", HeartbeatIntervalMS: 100, HeartbeatTimeoutMS: 300}, Capability{}, nil, newLogger())
	r.update(nodeMessage{NodeID: "b", Load: Load{Free: 1}, Timestamp: now})
	r.update(nodeMessage{NodeID: "b", Load: Load{Free: 9}, Timestamp: now.Add(-time.Second)})
	if nodes := r.Query(nil); nodes[0].Load.Free != 1 {
		t.Fatalf("stale heartbeat overwrote load: %+v", nodes[0])
	}
}

func TestLeastLoadedPrefersFreeSlots(t *testing.T) {
	now := time.Now()
	r := newRegistry(config.NodeConfig{ID: "a", HeartbeatIntervalMS: 100, HeartbeatTimeoutMS: 300}, Capability{}, nil, newLogger())
	r.update(nodeMessage{NodeID: "a", Capability: Capability{Model: "amy"}, Load: Load{Queued: 6, Free: 2}, Timestamp: now})
	r.update(nodeMessage{NodeID: "b", Capability: Capability{Model: "amy"}, Load: Load{Queued: 1, Free: 7}, Timestamp: now})
	r.update(nodeMessage{NodeID: "c", Capability: Capability{Model: "ryan"}, Load: Load{Free: 8}, Timestamp: now})

	best, ok := r.LeastLoaded(WithModelFilter("amy"))
	if !ok || best.ID != "b" {
		t.Fatalf("expected node b, got %+v (ok=%v)", best, ok)
	}
}

func TestNodesDiscoverEachOtherOverBus(t *testing.T) {
	logger := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	connect := func() *bus.Client {
		client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, logger)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(client.Close)
		return client
	}

	cfgA := config.NodeConfig{ID: "narrator-a", HeartbeatIntervalMS: 50, HeartbeatTimeoutMS: 200}
	cfgB := config.NodeConfig{ID: "narrator-b", HeartbeatIntervalMS: 50, HeartbeatTimeoutMS: 200}
	a, err := NewRegistry(context.Background(), cfgA, Capability{Engine: "mock", Workers: 2}, func() Load { return Load{Free: 3} }, connect(), logger)
	if err != nil {
		t.Fatalf("registry a: %v", err)
	}
	t.Cleanup(a.Close)
	b, err := NewRegistry(context.Background(), cfgB, Capability{Engine: "piper", Workers: 1}, func() Load { return Load{Free: 5} }, connect(), logger)
	if err != nil {
		t.Fatalf("registry b: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.Query(nil)) == 2 && len(b.Query(nil)) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	peers := a.Query(WithEngineFilter("piper"))
	if len(peers) != 1 || peers[0].ID != "narrator-b" || peers[0].Load.Free != 5 {
		t.Fatalf("a did not see b: %+v", a.Query(nil))
	}
	if !a.Healthy() || !b.Healthy() {
		t.Fatal("expected both registries healthy")
	}

	b.Close()
	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if nodes := a.Query(WithEngineFilter("piper")); len(nodes) == 1 && !nodes[0].Healthy {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected b to go unhealthy after it stopped heartbeating: %+v", a.Query(nil))
}
