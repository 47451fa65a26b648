package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"solana-nft-custody/internal/domain"
)

// SubscriberConfig configures the feed client.
type SubscriberConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is timeout for reading messages. The hub pings more often.
	ReadTimeout time.Duration
	// Buffer is the length of the event channel.
	Buffer int
}

// DefaultSubscriberConfig returns default client configuration.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
		Buffer:            1024,
	}
}

// Subscription is a live connection to a Hub.
// It reconnects with exponential backoff until closed.
type Subscription struct {
	endpoint string
	config   SubscriberConfig
	log      logrus.FieldLogger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	events chan *domain.CustodyEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// Subscribe dials the hub at endpoint (ws:// or wss://) with filter applied.
// The first connection must succeed; later drops are retried.
func Subscribe(ctx context.Context, endpoint string, filter Filter, config *SubscriberConfig, log logrus.FieldLogger) (*Subscription, error) {
	cfg := DefaultSubscriberConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse feed endpoint: %w", err)
	}
	q := u.Query()
	if filter.CollectionID != "" {
		q.Set("collection_id", filter.CollectionID)
	}
	if filter.SwapID != "" {
		q.Set("swap_id", filter.SwapID)
	}
	u.RawQuery = q.Encode()

	s := &Subscription{
		endpoint: u.String(),
		config:   cfg,
		log:      log,
		events:   make(chan *domain.CustodyEvent, cfg.Buffer),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// Events returns the event channel. It is closed by Close.
func (s *Subscription) Events() <-chan *domain.CustodyEvent {
	return s.events
}

func (s *Subscription) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

// Close closes the connection and the event channel.
func (s *Subscription) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

// readLoop reads events and reconnects on connection errors.
func (s *Subscription) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			if !s.reconnect(reconnectDelay) {
				// Increase delay for next reconnect (exponential backoff)
				reconnectDelay *= 2
				if reconnectDelay > s.config.MaxReconnectDelay {
					reconnectDelay = s.config.MaxReconnectDelay
				}
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.log.WithError(err).Warn("feed connection lost, reconnecting")
			s.connMu.Lock()
			conn.Close()
			s.conn = nil
			s.connMu.Unlock()
			continue
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		var e domain.CustodyEvent
		if err := json.Unmarshal(message, &e); err != nil {
			s.log.WithError(err).Warn("skip malformed feed message")
			continue
		}

		select {
		case s.events <- &e:
		case <-s.done:
			return
		}
	}
}

// reconnect waits delay and dials again. Reports whether it connected.
func (s *Subscription) reconnect(delay time.Duration) bool {
	select {
	case <-s.done:
		return false
	case <-time.After(delay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.log.WithError(err).Debug("feed reconnect failed")
		return false
	}
	if s.closed.Load() {
		// Close raced with the dial.
		s.connMu.Lock()
		s.conn.Close()
		s.connMu.Unlock()
		return false
	}
	return true
}
