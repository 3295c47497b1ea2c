// Package wsgateway is the Binance-shaped WebSocket façade over
// VirtualExchange: a sharded hub with per-topic replay buffers adapted from
// the teacher's internal/ws.Hub, carrying public market streams and
// authenticated private streams (spec.md §6.2).
package wsgateway

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qtexchange/vexchange/internal/platform/metrics"
)

// Message wraps one WebSocket payload with a hub-wide sequence number for
// replay-buffer bookkeeping.
type Message struct {
	Topic    string `json:"topic"`
	Seq      uint64 `json:"seq"`
	Data     []byte `json:"data"`
	Priority bool   `json:"-"`
}

// ringBuffer holds the last N messages published to one topic.
type ringBuffer struct {
	mu    sync.RWMutex
	buf   []Message
	size  int
	start int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]Message, size), size: size}
}

func (r *ringBuffer) add(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

func (r *ringBuffer) getSince(since uint64) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Message
	for i := 0; i < r.count; i++ {
		msg := r.buf[(r.start+i)%r.size]
		if msg.Seq > since {
			out = append(out, msg)
		}
	}
	return out
}

// Client is a single upgraded connection subscribed to zero or more topics.
type Client struct {
	id            string
	conn          *websocket.Conn
	send          chan Message
	subMu         sync.Mutex
	subscriptions map[string]uint64
	hub           *Hub
	onSubscribe   func(topic string)
}

type hubShard struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// Hub fans out topic messages to subscribed clients, sharded by client ID
// hash so registration/broadcast never serializes through one lock.
type Hub struct {
	shards     []*hubShard
	shardCount uint32

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message

	buffers     map[string]*ringBuffer
	bufMu       sync.Mutex
	replaySize  int
	nextSeq     uint64
	connections int64
}

// NewHub creates a Hub with shardCount shards and replaySize messages of
// per-topic replay history.
func NewHub(shardCount, replaySize int) *Hub {
	if shardCount < 1 {
		shardCount = 1
	}
	h := &Hub{
		shards:     make([]*hubShard, shardCount),
		shardCount: uint32(shardCount),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 4096),
		buffers:    make(map[string]*ringBuffer),
		replaySize: replaySize,
		nextSeq:    1,
	}
	for i := range h.shards {
		h.shards[i] = &hubShard{clients: make(map[*Client]struct{})}
	}
	go h.run()
	return h
}

// Connections reports the current live client count, for the WSConnections
// gauge.
func (h *Hub) Connections() int64 { return atomic.LoadInt64(&h.connections) }

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			sh := h.shardFor(client.id)
			sh.mu.Lock()
			sh.clients[client] = struct{}{}
			sh.mu.Unlock()
			atomic.AddInt64(&h.connections, 1)
			metrics.WSConnections.Set(float64(atomic.LoadInt64(&h.connections)))
		case client := <-h.unregister:
			sh := h.shardFor(client.id)
			sh.mu.Lock()
			if _, ok := sh.clients[client]; ok {
				delete(sh.clients, client)
				close(client.send)
				atomic.AddInt64(&h.connections, -1)
				metrics.WSConnections.Set(float64(atomic.LoadInt64(&h.connections)))
			}
			sh.mu.Unlock()
		case msg := <-h.broadcast:
			h.bufMu.Lock()
			buf, ok := h.buffers[msg.Topic]
			if !ok {
				buf = newRingBuffer(h.replaySize)
				h.buffers[msg.Topic] = buf
			}
			buf.add(msg)
			h.bufMu.Unlock()

			for _, sh := range h.shards {
				sh.mu.RLock()
				for c := range sh.clients {
					c.subMu.Lock()
					_, subscribed := c.subscriptions[msg.Topic]
					c.subMu.Unlock()
					if !subscribed {
						continue
					}
					select {
					case c.send <- msg:
					default:
						if !msg.Priority {
							// backpressure: drop for a slow client rather than block the hub
							continue
						}
						// order/trade updates are not droppable (spec §5): make room by
						// evicting the client's oldest buffered message instead.
						select {
						case <-c.send:
						default:
						}
						select {
						case c.send <- msg:
						default:
						}
					}
				}
				sh.mu.RUnlock()
			}
		}
	}
}

func (h *Hub) shardFor(key string) *hubShard {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return h.shards[hasher.Sum32()%h.shardCount]
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the HTTP request and registers a client under clientID.
// onSubscribe, if non-nil, fires each time this client subscribes to a
// topic (before the replay buffer is drained) — the hook
// Gateway uses to lazily wire a symbol's exchange listener on demand.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientID string, onSubscribe func(topic string)) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{id: clientID, conn: conn, send: make(chan Message, 256), subscriptions: make(map[string]uint64), hub: h, onSubscribe: onSubscribe}
	h.register <- c
	go c.writePump()
	go c.readPump()
	return c, nil
}

// Broadcast publishes data under topic, assigning the next sequence number.
func (h *Hub) Broadcast(topic string, payload any) error {
	return h.broadcastMsg(topic, payload, false)
}

// BroadcastPriority is like Broadcast but marks the message non-droppable:
// a client whose send buffer is full has its oldest buffered message
// evicted to make room rather than having this one dropped. Used for
// order/trade updates on private streams (spec.md §5).
func (h *Hub) BroadcastPriority(topic string, payload any) error {
	return h.broadcastMsg(topic, payload, true)
}

func (h *Hub) broadcastMsg(topic string, payload any, priority bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	seq := atomic.AddUint64(&h.nextSeq, 1)
	h.broadcast <- Message{Topic: topic, Seq: seq, Data: data, Priority: priority}
	return nil
}

// Replay returns buffered messages for topic with Seq > since.
func (h *Hub) Replay(topic string, since uint64) []Message {
	h.bufMu.Lock()
	defer h.bufMu.Unlock()
	if buf, ok := h.buffers[topic]; ok {
		return buf.getSince(since)
	}
	return nil
}

func (c *Client) subscribe(topic string) {
	if c.onSubscribe != nil {
		c.onSubscribe(topic)
	}
	c.subMu.Lock()
	c.subscriptions[topic] = 0
	c.subMu.Unlock()
	for _, m := range c.hub.Replay(topic, 0) {
		select {
		case c.send <- m:
		default:
		}
	}
}

func (c *Client) unsubscribe(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (c *Client) readPump() {
	defer func() { c.hub.unregister <- c; c.conn.Close() }()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		switch req.Method {
		case "SUBSCRIBE":
			for _, topic := range req.Params {
				c.subscribe(topic)
			}
		case "UNSUBSCRIBE":
			for _, topic := range req.Params {
				c.unsubscribe(topic)
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() { ticker.Stop(); c.conn.Close() }()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
