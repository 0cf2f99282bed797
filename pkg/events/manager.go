// Package events fans live frames out to WebSocket clients. The manager
// tracks connections and channel subscriptions; every connection owns a
// bounded frame queue drained by one writer goroutine, so one slow
// client never stalls a publisher. Channels follow the surface's two
// stream modes: "job:<id>" for pipeline runs, "chat:<session>" for
// conversation sessions.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// DefaultQueueSize bounds each connection's pending frames. When the
	// queue is full the oldest frame is dropped and the new one retried
	// once; frames are advisory, clients reconcile over REST.
	DefaultQueueSize = 200

	// DefaultPingInterval is how long a writer sits idle before it sends
	// a ping frame.
	DefaultPingInterval = 20 * time.Second

	// DefaultWriteTimeout bounds one WebSocket write.
	DefaultWriteTimeout = 10 * time.Second
)

// Options configure a Manager. Zero values take the defaults above.
type Options struct {
	QueueSize    int
	PingInterval time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Manager tracks WebSocket connections and their channel subscriptions.
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	// channel → set of connection ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	opts Options
}

// Connection is one WebSocket client. Frames pass through queue; the
// writer goroutine owns all writes to the underlying connection.
type Connection struct {
	ID    string
	conn  *websocket.Conn
	queue chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	// subscriptions is only touched by the goroutine driving this
	// connection's handler plus Unregister, which runs after the handler
	// returns.
	subscriptions map[string]bool
}

// Done reports connection shutdown: a failed write, a closed peer, or
// Unregister.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// NewManager creates a connection manager.
func NewManager(opts Options) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		connections: make(map[string]*Connection),
		channels:    make(map[string]map[string]bool),
		opts:        opts,
	}
}

// Register adopts an upgraded WebSocket connection: it starts the writer
// goroutine and a read watchdog that detects the peer going away. The
// caller must Unregister when its handler returns.
func (m *Manager) Register(parentCtx context.Context, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:            uuid.New().String(),
		conn:          conn,
		queue:         make(chan []byte, m.opts.QueueSize),
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[string]bool),
	}

	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()

	go m.writeLoop(c)
	go m.readLoop(c)
	return c
}

// Unregister drops the connection from every channel and closes it.
func (m *Manager) Unregister(c *Connection) {
	for ch := range c.subscriptions {
		m.Leave(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// Join subscribes the connection to a channel.
func (m *Manager) Join(c *Connection, channel string) {
	m.channelMu.Lock()
	if _, ok := m.channels[channel]; !ok {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	c.subscriptions[channel] = true
}

// Leave removes the connection from a channel.
func (m *Manager) Leave(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, ok := m.channels[channel]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// Send queues one frame for a single connection.
func (m *Manager) Send(c *Connection, frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		m.opts.Logger.Warn("marshal frame", "connection_id", c.ID, "error", err)
		return
	}
	m.enqueue(c, data)
}

// Publish fans one frame out to every subscriber of the channel.
func (m *Manager) Publish(channel string, frame map[string]any) {
	data, err := json.Marshal(frame)
	if err != nil {
		m.opts.Logger.Warn("marshal frame", "channel", channel, "error", err)
		return
	}

	m.channelMu.RLock()
	ids := make([]string, 0, len(m.channels[channel]))
	for id := range m.channels[channel] {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	// Snapshot pointers before enqueueing so channel and connection
	// bookkeeping never waits on queue operations.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		m.enqueue(c, data)
	}
}

// ActiveConnections reports how many connections are registered.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Subscribers reports how many connections a channel has.
func (m *Manager) Subscribers(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

// enqueue adds a frame to the connection queue. On a full queue the
// oldest frame is discarded and the write retried once; failing that the
// frame is dropped.
func (m *Manager) enqueue(c *Connection, data []byte) {
	select {
	case c.queue <- data:
		return
	default:
	}
	select {
	case <-c.queue:
	default:
	}
	select {
	case c.queue <- data:
	default:
		m.opts.Logger.Warn("frame dropped, queue full", "connection_id", c.ID)
	}
}

// writeLoop drains the queue onto the wire and pings when idle.
func (m *Manager) writeLoop(c *Connection) {
	idle := time.NewTimer(m.opts.PingInterval)
	defer idle.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.queue:
			if err := m.write(c, data); err != nil {
				c.cancel()
				return
			}
			resetTimer(idle, m.opts.PingInterval)
		case <-idle.C:
			ping, _ := json.Marshal(Ping())
			if err := m.write(c, ping); err != nil {
				c.cancel()
				return
			}
			idle.Reset(m.opts.PingInterval)
		}
	}
}

// readLoop discards inbound messages; its job is noticing the peer
// closing the socket.
func (m *Manager) readLoop(c *Connection) {
	for {
		if _, _, err := c.conn.Read(c.ctx); err != nil {
			c.cancel()
			return
		}
	}
}

func (m *Manager) write(c *Connection, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, m.opts.WriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
