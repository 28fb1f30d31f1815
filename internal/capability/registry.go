// Package capability lets narrator instances sharing a bus advertise their
// synthesis engine and queue headroom to each other.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	subjectAnnounce        = "narrator.node.announce"
	subjectHeartbeatPrefix = "narrator.node.heartbeat"
)

// Capability describes what an instance can synthesize.
type Capability struct {
	Engine     string `json:"engine"`
	Model      string `json:"model"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Workers    int    `json:"workers"`
}

// Load is the queue state at the time of a heartbeat.
type Load struct {
	Queued int `json:"queued"`
	Free   int `json:"free"`
}

type NodeInfo struct {
	ID         string     `json:"id"`
	Capability Capability `json:"capability"`
	Load       Load       `json:"load"`
	LastSeen   time.Time  `json:"last_seen"`
	Healthy    bool       `json:"healthy"`
}

type nodeMessage struct {
	NodeID     string     `json:"node_id"`
	Capability Capability `json:"capability"`
	Load       Load       `json:"load"`
	Timestamp  time.Time  `json:"timestamp"`
}

type Registry struct {
	cfg    config.NodeConfig
	self   Capability
	load   func() Load
	log    *slog.Logger
	bus    *bus.Client
	clock  func() time.Time
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup

	mu    sync.RWMutex
	nodes map[string]*NodeInfo
}

// NewRegistry subscribes to peer announcements, announces this node and
// starts heartbeating every HeartbeatIntervalMS.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, self Capability, load func() Load, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	r := newRegistry(cfg, self, load, log)
	r.bus = busClient

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if err := r.subscribe(); err != nil {
		r.unsubscribe()
		return nil, err
	}

	ctx, r.cancel = context.WithCancel(ctx)
	interval := time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, interval)
	}()

	if err := r.publish(subjectAnnounce); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}
	return r, nil
}

func newRegistry(cfg config.NodeConfig, self Capability, load func() Load, log *slog.Logger) *Registry {
	if load == nil {
		load = func() Load { return Load{} }
	}
	return &Registry{
		cfg:   cfg,
		self:  self,
		load:  load,
		log:   log.With(slog.String("component", "capability-registry"), slog.String("node_id", cfg.ID)),
		clock: time.Now,
		nodes: make(map[string]*NodeInfo),
	}
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.unsubscribe()
}

func (r *Registry) unsubscribe() {
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(subjectAnnounce, r.handle)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(subjectHeartbeatPrefix+".*", r.handle)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

// run heartbeats and re-evaluates peer health on the same tick.
func (r *Registry) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publish(subjectHeartbeatPrefix + "." + r.cfg.ID); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
			r.evaluateHealth()
		}
	}
}

func (r *Registry) publish(subject string) error {
	msg := nodeMessage{
		NodeID:     r.cfg.ID,
		Capability: r.self,
		Load:       r.load(),
		Timestamp:  r.clock().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	// peers learn about us from the bus; our own entry is recorded directly
	r.update(msg)
	return r.bus.Conn().Publish(subject, payload)
}

func (r *Registry) handle(msg *nats.Msg) {
	var m nodeMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		r.log.Warn("invalid node message", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
		return
	}
	if m.NodeID == "" {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.clock().UTC()
	}
	r.update(m)
}

func (r *Registry) update(m nodeMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[m.NodeID]
	if !ok {
		node = &NodeInfo{ID: m.NodeID}
		r.nodes[m.NodeID] = node
		if m.NodeID != r.cfg.ID {
			r.log.Info("discovered narrator node", slog.String("peer", m.NodeID), slog.String("engine", m.Capability.Engine))
		}
	}
	if m.Timestamp.Before(node.LastSeen) {
		return
	}
	node.Capability = m.Capability
	node.Load = m.Load
	node.LastSeen = m.Timestamp
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeoutMS) * time.Millisecond
	now := r.clock()
	for _, node := range r.nodes {
		if node.Healthy && now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
			r.log.Warn("narrator node stopped heartbeating", slog.String("peer", node.ID))
		}
	}
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Query returns matching nodes ordered by ID.
func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	results := make([]NodeInfo, 0, len(r.nodes))
	for _, node := range r.nodes {
		n := *node
		if filter == nil || filter(n) {
			results = append(results, n)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(results, func(a, b NodeInfo) int { return strings.Compare(a.ID, b.ID) })
	return results
}

// LeastLoaded picks the healthy node with the most free queue slots.
func (r *Registry) LeastLoaded(filter func(NodeInfo) bool) (NodeInfo, bool) {
	var best NodeInfo
	found := false
	for _, n := range r.Query(filter) {
		if !n.Healthy || n.Load.Free <= 0 {
			continue
		}
		if !found || n.Load.Free > best.Load.Free {
			best, found = n, true
		}
	}
	return best, found
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-narrator/internal/capability")
	nodes, err := meter.Int64ObservableGauge("narrator.nodes.healthy", metric.WithDescription("Narrator nodes with a recent heartbeat"))
	if err != nil {
		return err
	}
	free, err := meter.Int64ObservableGauge("narrator.nodes.free_slots", metric.WithDescription("Free queue slots across healthy nodes"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		var healthy, slots int64
		for _, n := range r.Query(nil) {
			if n.Healthy {
				healthy++
				slots += int64(n.Load.Free)
			}
		}
		obs.ObserveInt64(nodes, healthy)
		obs.ObserveInt64(free, slots)
		return nil
	}, nodes, free)
	return err
}

func WithEngineFilter(engine string) func(NodeInfo) bool {
	return func(node NodeInfo) bool { return node.Capability.Engine == engine }
}

func WithModelFilter(model string) func(NodeInfo) bool {
	return func(node NodeInfo) bool { return node.Capability.Model == model }
}
