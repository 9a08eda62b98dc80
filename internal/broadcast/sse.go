package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/observability/metrics"
)

// ErrTooManyClients is returned by Subscribe when the hub is full
var ErrTooManyClients = errors.NewStd("too many live subscribers")

// HubConfig configures the in-process SSE hub
type HubConfig struct {
	ClientBuffer int
	MaxClients   int
}

// Client is one live subscriber connection
type Client struct {
	ID    string
	Topic string

	ch        chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// Messages returns the client's delivery channel. It is never closed; watch
// Done to learn when the hub dropped the client.
func (c *Client) Messages() <-chan Message { return c.ch }

// Done is closed when the client is unsubscribed or evicted
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub is the in-process sink backing the SSE live channel. A client whose
// buffer is full when a message arrives is evicted rather than waited on.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	cfg     HubConfig
	metrics *metrics.BroadcastMetrics
}

// NewHub creates an empty hub
func NewHub(cfg HubConfig, m *metrics.BroadcastMetrics) *Hub {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 32
	}
	return &Hub{
		clients: make(map[string]*Client),
		cfg:     cfg,
		metrics: m,
	}
}

// Name implements Sink
func (h *Hub) Name() string { return "sse" }

// Subscribe registers a client for topic
func (h *Hub) Subscribe(topic string) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.MaxClients > 0 && len(h.clients) >= h.cfg.MaxClients {
		return nil, errors.New(ErrTooManyClients).
			Component("broadcast").
			Category(errors.CategoryBroadcast).
			Context("max_clients", h.cfg.MaxClients).
			Build()
	}

	c := &Client{
		ID:    uuid.NewString(),
		Topic: topic,
		ch:    make(chan Message, h.cfg.ClientBuffer),
		done:  make(chan struct{}),
	}
	h.clients[c.ID] = c
	h.metrics.SetSubscribers(len(h.clients))
	GetLogger().Debug("live subscriber connected",
		logger.String("client_id", c.ID),
		logger.String("topic", topic),
		logger.Int("total", len(h.clients)))
	return c, nil
}

// Unsubscribe removes the client; safe to call more than once
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		h.metrics.SetSubscribers(len(h.clients))
	}
	h.mu.Unlock()
	c.close()
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send implements Sink. It never blocks on a subscriber.
func (h *Hub) Send(_ context.Context, topic string, msg Message) error {
	var slow []*Client

	h.mu.RLock()
	for _, c := range h.clients {
		if c.Topic != topic {
			continue
		}
		select {
		case c.ch <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		GetLogger().Info("evicting slow live subscriber",
			logger.String("client_id", c.ID),
			logger.String("topic", topic))
		h.metrics.RecordEviction()
		h.Unsubscribe(c)
	}
	return nil
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.metrics.SetSubscribers(0)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// WriteEvent writes one server-sent event frame
func WriteEvent(w io.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.New(err).
			Component("broadcast").
			Category(errors.CategoryBroadcast).
			Context("event", event).
			Build()
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// WriteKeepAlive writes an SSE comment frame
func WriteKeepAlive(w io.Writer) error {
	_, err := io.WriteString(w, ":\n\n")
	return err
}
