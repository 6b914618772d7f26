package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"portfolio-systemv1/internal/ledger"
	"portfolio-systemv1/internal/metrics"
	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/oracle"

	"github.com/gorilla/websocket"
)

const (
	clientSendBuf = 8
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
)

// summaryEnvelope is the message pushed to every WebSocket client.
type summaryEnvelope struct {
	Type      string          `json:"type"` // always "summary"
	TS        time.Time       `json:"ts"`
	Summaries []model.Summary `json:"summaries"`
}

// Client is one connected WebSocket subscriber.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket clients and pushes a portfolio summary to all of
// them on a fixed interval. Slow clients are dropped rather than allowed to
// block the broadcast.
type Hub struct {
	led    *ledger.Ledger
	source oracle.PriceSource
	m      *metrics.Metrics

	interval time.Duration

	mu      sync.Mutex
	clients map[*Client]bool
}

// NewHub creates a Hub broadcasting every interval.
func NewHub(led *ledger.Ledger, source oracle.PriceSource, m *metrics.Metrics, interval time.Duration) *Hub {
	return &Hub{
		led:      led,
		source:   source,
		m:        m,
		interval: interval,
		clients:  make(map[*Client]bool),
	}
}

// Register adds a connection to the hub and starts its write pump.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &Client{conn: conn, send: make(chan []byte, clientSendBuf)}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.m.WSClients.Set(float64(n))

	log.Printf("[gateway] ws client connected (%d total)", n)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.m.WSClients.Set(float64(n))
	c.conn.Close()
}

// readPump drains (and ignores) client messages so pings/pongs and close
// frames are processed.
func (h *Hub) readPump(c *Client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeDeadline))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// Run broadcasts summaries until ctx is cancelled. It also keeps the
// open-positions gauge current, piggybacking on the summary it already built.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcast(ctx)
		}
	}
}

func (h *Hub) broadcast(ctx context.Context) {
	h.mu.Lock()
	idle := len(h.clients) == 0
	h.mu.Unlock()

	summaries, err := BuildSummaries(ctx, h.led, h.source, h.m)
	if err != nil {
		log.Printf("[gateway] summary broadcast skipped: %v", err)
		return
	}
	h.m.OpenPositions.Set(float64(len(summaries)))
	if idle {
		return
	}

	msg, err := json.Marshal(summaryEnvelope{Type: "summary", TS: time.Now().UTC(), Summaries: summaries})
	if err != nil {
		log.Printf("[gateway] summary encode error: %v", err)
		return
	}

	h.mu.Lock()
	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	// Drop clients whose send buffer stayed full for a whole interval.
	for _, c := range slow {
		log.Printf("[gateway] dropping slow ws client")
		h.unregister(c)
	}
}
