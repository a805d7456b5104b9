package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lighter-broadcaster/internal/health"
)

// Config tunes the hub.
type Config struct {
	QueueDepth        int           // Per-subscriber queue capacity
	BroadcastInterval time.Duration // Cadence of change broadcasts
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
}

// DefaultConfig returns the production hub settings.
func DefaultConfig() Config {
	return Config{
		QueueDepth:        100,
		BroadcastInterval: time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
	}
}

// SnapshotFunc builds the data payload sent to subscribers. It runs at
// most once per broadcast regardless of subscriber count.
type SnapshotFunc func() (json.RawMessage, error)

// frame is the wire envelope for subscriber messages.
type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type subscriber struct {
	id          string
	conn        *websocket.Conn
	queue       *Queue[[]byte]
	connectedAt time.Time
	once        sync.Once
}

// Hub fans cache updates out to dashboard WebSocket subscribers.
type Hub struct {
	cfg      Config
	snapshot SnapshotFunc
	tracker  *health.Tracker
	logger   *slog.Logger

	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[string]*subscriber

	// dirty is set by Publish; the broadcast tick consumes it.
	dirty      atomic.Bool
	broadcasts atomic.Int64
}

// NewHub creates a hub. Zero config fields fall back to defaults;
// tracker may be nil.
func NewHub(cfg Config, snapshot SnapshotFunc, tracker *health.Tracker, logger *slog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = def.BroadcastInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		cfg:      cfg,
		snapshot: snapshot,
		tracker:  tracker,
		logger:   logger,
		subs:     make(map[string]*subscriber),
		upgrader: websocket.Upgrader{
			// The dashboard is served from arbitrary local origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start begins the broadcast loop.
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.run()
	h.logger.Info("broadcast hub started",
		"interval", h.cfg.BroadcastInterval,
		"queue_depth", h.cfg.QueueDepth,
	)
	return nil
}

// Stop disconnects all subscribers and halts the loop.
func (h *Hub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}

	for _, sub := range h.subscribers() {
		h.remove(sub)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("hub shutdown timeout")
		return ctx.Err()
	}
	return nil
}

// Publish marks the cache changed. The next tick broadcasts; calling
// this never blocks the caller.
func (h *Hub) Publish() {
	h.dirty.Store(true)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// HubStats summarizes hub activity.
type HubStats struct {
	Subscribers int   `json:"subscribers"`
	Broadcasts  int64 `json:"broadcasts"`
}

// Stats returns a snapshot of hub activity.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Subscribers: h.Count(),
		Broadcasts:  h.broadcasts.Load(),
	}
}

// SubscriberStat describes one connected subscriber.
type SubscriberStat struct {
	ID               string     `json:"id"`
	ConnectedSeconds float64    `json:"connected_seconds"`
	Queue            QueueStats `json:"queue"`
}

// SubscriberStats reports per-subscriber connection age and queue
// pressure, ordered by connection age (oldest first).
func (h *Hub) SubscriberStats() []SubscriberStat {
	subs := h.subscribers()

	out := make([]SubscriberStat, 0, len(subs))
	for _, sub := range subs {
		out = append(out, SubscriberStat{
			ID:               sub.id,
			ConnectedSeconds: time.Since(sub.connectedAt).Seconds(),
			Queue:            sub.queue.Stats(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedSeconds > out[j].ConnectedSeconds
	})
	return out
}

// ServeHTTP lets the hub mount directly on a route.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

// ServeWS upgrades an HTTP request into a subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.ctx == nil || h.ctx.Err() != nil {
		http.Error(w, "hub not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := &subscriber{
		id:          uuid.NewString(),
		conn:        conn,
		queue:       NewQueue[[]byte](h.cfg.QueueDepth),
		connectedAt: time.Now(),
	}

	// Queue the snapshot before the pumps start so it is delivered
	// ahead of any broadcast.
	if payload, err := h.marshalFrame("initial_data"); err == nil {
		sub.queue.Push(payload)
	} else {
		h.logger.Warn("initial snapshot failed", "error", err)
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	total := len(h.subs)
	h.mu.Unlock()

	h.logger.Info("subscriber connected", "id", sub.id, "remote", r.RemoteAddr, "total", total)

	h.wg.Add(2)
	go h.writePump(sub)
	go h.readPump(sub)
}

func (h *Hub) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if !h.dirty.CompareAndSwap(true, false) {
				continue
			}
			h.broadcast()
		}
	}
}

// broadcast marshals the current snapshot once and queues it for every
// subscriber.
func (h *Hub) broadcast() {
	subs := h.subscribers()
	if len(subs) == 0 {
		return
	}

	payload, err := h.marshalFrame("cache_update")
	if err != nil {
		h.logger.Warn("snapshot failed", "error", err)
		return
	}

	for _, sub := range subs {
		sub.queue.Push(payload)
	}

	h.broadcasts.Add(1)
	if h.tracker != nil {
		h.tracker.RecordBroadcast()
	}
}

func (h *Hub) marshalFrame(frameType string) ([]byte, error) {
	data, err := h.snapshot()
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *Hub) subscribers() []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, sub)
	}
	return out
}

// remove drops a subscriber. Safe to call more than once.
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, present := h.subs[sub.id]
	delete(h.subs, sub.id)
	remaining := len(h.subs)
	h.mu.Unlock()

	sub.once.Do(func() {
		sub.queue.Close()
		sub.conn.Close()
	})

	if present {
		h.logger.Info("subscriber disconnected", "id", sub.id, "remaining", remaining)
	}
}

// writePump drains the subscriber queue onto the socket and keeps the
// connection alive with protocol pings.
func (h *Hub) writePump(sub *subscriber) {
	defer h.wg.Done()
	defer h.remove(sub)

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.queue.Ready():
			for {
				payload, ok := sub.queue.TryPop()
				if !ok {
					break
				}
				sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
				if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
			if sub.queue.Closed() {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames. Dashboards mostly send nothing,
// but application-level pings get a pong back through the queue.
func (h *Hub) readPump(sub *subscriber) {
	defer h.wg.Done()
	defer h.remove(sub)

	sub.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		sub.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			sub.queue.Push([]byte(`{"type":"pong"}`))
		}
	}
}
