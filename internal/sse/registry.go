package sse

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const (
	// HeartbeatTimeout is how long a connection may go without a
	// successful ping before the sweep evicts it.
	HeartbeatTimeout = 30 * time.Second

	// SweepInterval is how often the stale-connection sweep runs.
	SweepInterval = 30 * time.Second

	// PingInterval is how often a ping event is pushed on each stream.
	PingInterval = 15 * time.Second

	// mirrorTTL bounds the Redis record; heartbeats keep extending it.
	mirrorTTL = 5 * time.Minute
)

var connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "peyk_sse_connections",
	Help: "Currently registered server-push connections.",
})

// Connection is one live server-push stream tied to a user and optionally
// subscribed to a class.
type Connection struct {
	id       string
	userID   int64
	classID  int64 // 0 = not subscribed to any class
	send     chan Event
	done     chan struct{}
	lastBeat time.Time

	closeOnce sync.Once
}

func (c *Connection) ID() string { return c.id }

// Events is the stream the HTTP handler drains.
func (c *Connection) Events() <-chan Event { return c.send }

// Done is closed when the connection is evicted or unregistered.
func (c *Connection) Done() <-chan struct{} { return c.done }

// deliver pushes an event without ever blocking. A full or closed
// connection drops the event; delivery to a dead stream is a no-op, not an
// error.
func (c *Connection) deliver(ev Event) {
	select {
	case <-c.done:
	case c.send <- ev:
	default:
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Registry tracks live connections per user and per class. All mutations
// are idempotent and last-write-wins: each connection is only touched by
// its own stream's heartbeat or by the cleanup sweep.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	byUser  map[int64]map[string]*Connection
	byClass map[int64]map[string]*Connection

	// rdb optionally mirrors registrations into Redis with a TTL so
	// other server processes can see who is connected where.
	rdb    *redis.Client
	nodeID string

	timeout time.Duration
}

func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{
		conns:   make(map[string]*Connection),
		byUser:  make(map[int64]map[string]*Connection),
		byClass: make(map[int64]map[string]*Connection),
		rdb:     rdb,
		nodeID:  uuid.NewString(),
		timeout: HeartbeatTimeout,
	}
}

type mirrorRecord struct {
	UserID      int64     `json:"user_id"`
	ClassID     int64     `json:"class_id,omitempty"`
	NodeID      string    `json:"node_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

func mirrorKey(connID string) string {
	return "peyk:sse:conn:" + connID
}

// Register creates and tracks a new connection for userID, subscribed to
// classID when non-zero.
func (r *Registry) Register(ctx context.Context, userID, classID int64) *Connection {
	conn := &Connection{
		id:       uuid.NewString(),
		userID:   userID,
		classID:  classID,
		send:     make(chan Event, 64),
		done:     make(chan struct{}),
		lastBeat: time.Now(),
	}

	r.mu.Lock()
	r.conns[conn.id] = conn
	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(map[string]*Connection)
	}
	r.byUser[userID][conn.id] = conn
	if classID != 0 {
		if _, ok := r.byClass[classID]; !ok {
			r.byClass[classID] = make(map[string]*Connection)
		}
		r.byClass[classID][conn.id] = conn
	}
	total := len(r.conns)
	r.mu.Unlock()

	connectionsGauge.Set(float64(total))
	log.Printf("sse: user %d connected conn=%s class=%d (total: %d)", userID, conn.id, classID, total)

	if r.rdb != nil {
		record := mirrorRecord{UserID: userID, ClassID: classID, NodeID: r.nodeID, ConnectedAt: time.Now()}
		data, _ := json.Marshal(record)
		if err := r.rdb.Set(ctx, mirrorKey(conn.id), data, mirrorTTL).Err(); err != nil {
			log.Printf("sse: failed to mirror connection %s: %v", conn.id, err)
		}
	}

	return conn
}

// Heartbeat refreshes the connection's liveness after a successful ping
// push. Unknown ids are a no-op.
func (r *Registry) Heartbeat(ctx context.Context, connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if ok {
		conn.lastBeat = time.Now()
	}
	r.mu.Unlock()

	if ok && r.rdb != nil {
		if err := r.rdb.Expire(ctx, mirrorKey(connID), mirrorTTL).Err(); err != nil {
			log.Printf("sse: failed to refresh mirror for %s: %v", connID, err)
		}
	}
}

// Unregister removes the connection; safe to call more than once.
func (r *Registry) Unregister(ctx context.Context, connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
		if userConns, ok := r.byUser[conn.userID]; ok {
			delete(userConns, connID)
			if len(userConns) == 0 {
				delete(r.byUser, conn.userID)
			}
		}
		if conn.classID != 0 {
			if classConns, ok := r.byClass[conn.classID]; ok {
				delete(classConns, connID)
				if len(classConns) == 0 {
					delete(r.byClass, conn.classID)
				}
			}
		}
	}
	total := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return
	}

	conn.close()
	connectionsGauge.Set(float64(total))
	log.Printf("sse: user %d disconnected conn=%s (total: %d)", conn.userID, connID, total)

	if r.rdb != nil {
		if err := r.rdb.Del(ctx, mirrorKey(connID)).Err(); err != nil {
			log.Printf("sse: failed to drop mirror for %s: %v", connID, err)
		}
	}
}

// CleanupStale evicts every connection whose last heartbeat exceeds the
// timeout. Returns how many were evicted.
func (r *Registry) CleanupStale(ctx context.Context) int {
	cutoff := time.Now().Add(-r.timeout)

	r.mu.RLock()
	var stale []string
	for id, conn := range r.conns {
		if conn.lastBeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.Unregister(ctx, id)
	}

	if len(stale) > 0 {
		log.Printf("sse: evicted %d stale connection(s)", len(stale))
	}
	return len(stale)
}

// Run drives the periodic stale-connection sweep until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CleanupStale(ctx)
		}
	}
}

// SendToUser pushes an event to every live connection of userID.
func (r *Registry) SendToUser(userID int64, ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.byUser[userID] {
		conn.deliver(ev)
	}
}

// BroadcastToClass pushes an event to every connection subscribed to
// classID.
func (r *Registry) BroadcastToClass(classID int64, ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.byClass[classID] {
		conn.deliver(ev)
	}
}

// IsUserOnline reports whether userID has at least one live connection.
func (r *Registry) IsUserOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
