// Package feed streams committed custody events to websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/events"
	"solana-nft-custody/internal/observability"
)

// HubConfig configures Hub behavior.
type HubConfig struct {
	// SendBuffer is the per-subscriber queue length. A subscriber whose queue
	// is full when an event arrives is disconnected.
	SendBuffer int
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long a subscriber may stay silent (no pong).
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// AllowedOrigins restricts browser subscribers. Empty allows any origin.
	AllowedOrigins []string
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   256,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Filter selects events for one subscriber. Zero fields match everything.
type Filter struct {
	CollectionID string
	SwapID       string
}

func (f Filter) match(e *domain.CustodyEvent) bool {
	if f.CollectionID != "" && e.CollectionID.String() != f.CollectionID {
		return false
	}
	if f.SwapID != "" && e.SwapID != f.SwapID {
		return false
	}
	return true
}

type subscriber struct {
	conn   *websocket.Conn
	filter Filter
	send   chan []byte
	once   sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.send) })
}

// Hub is an events.Publisher that fans events out to websocket subscribers.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewHub creates a Hub.
func NewHub(config *HubConfig, log logrus.FieldLogger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	h := &Hub{
		config: cfg,
		log:    log,
		subs:   make(map[*subscriber]struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
// Query parameters collection_id and swap_id narrow the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.WithError(err).Debug("feed upgrade")
		return
	}

	s := &subscriber{
		conn: conn,
		filter: Filter{
			CollectionID: r.URL.Query().Get("collection_id"),
			SwapID:       r.URL.Query().Get("swap_id"),
		},
		send: make(chan []byte, h.config.SendBuffer),
	}
	if !h.add(s) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"),
			time.Now().Add(h.config.WriteTimeout))
		conn.Close()
		return
	}

	go h.writeLoop(s)
	go h.readLoop(s)
}

// add registers s and reserves its two loops on wg. It fails once Close has
// started, so Close never misses a subscriber it has to wait for.
func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return false
	}
	h.subs[s] = struct{}{}
	h.wg.Add(2)
	n := len(h.subs)
	h.mu.Unlock()
	observability.SetFeedSubscribers(n)
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		s.stop()
		observability.SetFeedSubscribers(n)
	}
}

// Publish queues each event for every matching subscriber. Subscribers that
// cannot keep up are disconnected rather than slowing the caller.
func (h *Hub) Publish(_ context.Context, batch []*domain.CustodyEvent) error {
	if h.closed.Load() {
		return fmt.Errorf("feed closed")
	}

	for _, e := range batch {
		msg, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.EventID, err)
		}

		var slow []*subscriber
		h.mu.Lock()
		for s := range h.subs {
			if !s.filter.match(e) {
				continue
			}
			select {
			case s.send <- msg:
			default:
				slow = append(slow, s)
			}
		}
		h.mu.Unlock()

		for _, s := range slow {
			h.log.WithField("remote", s.conn.RemoteAddr().String()).Warn("dropping slow feed subscriber")
			h.remove(s)
		}
	}
	return nil
}

// writeLoop drains the subscriber queue and sends periodic pings.
func (h *Hub) writeLoop(s *subscriber) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(s)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s)
				return
			}
		}
	}
}

// readLoop discards client frames and detects disconnects.
func (h *Hub) readLoop(s *subscriber) {
	defer h.wg.Done()
	defer h.remove(s)

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close disconnects every subscriber and waits for their loops to finish.
func (h *Hub) Close() error {
	if h.closed.Swap(true) {
		return nil
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		h.remove(s)
	}
	h.wg.Wait()
	return nil
}

var _ events.Publisher = (*Hub)(nil)
