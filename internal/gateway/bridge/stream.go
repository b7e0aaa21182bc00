package bridge

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crossbot/internal/model"
)

const (
	heartbeatInterval = 10 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 30 * time.Second

	// Streamed quotes older than this are considered stale and Quote()
	// falls back to the REST endpoint.
	quoteFreshness = 5 * time.Second
)

// quoteStream holds a websocket subscription to the bridge tick feed and
// keeps only the most recent quote per symbol.
type quoteStream struct {
	url    string
	token  string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	quotes  map[string]model.Quote
	stopped bool
}

type streamQuote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	TS     int64   `json:"ts"`
}

func dialQuoteStream(baseURL, token string) (*quoteStream, error) {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/api/v1/stream/quotes"
	s := &quoteStream{
		url:    wsURL,
		token:  token,
		dialer: websocket.DefaultDialer,
		quotes: make(map[string]model.Quote),
	}
	if err := s.dial(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *quoteStream) dial() error {
	conn, resp, err := s.dialer.Dial(s.url, map[string][]string{
		"Authorization": {"Bearer " + s.token},
	})
	if err != nil {
		if resp != nil {
			log.Printf("[bridge] stream dial failed, status: %s", resp.Status)
		}
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// latest returns the newest streamed quote for symbol, if fresh enough.
func (s *quoteStream) latest(symbol string) (model.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok || time.Since(q.TS) > quoteFreshness {
		return model.Quote{}, false
	}
	return q, true
}

// run reads quotes until closeCh closes, reconnecting with backoff on errors.
func (s *quoteStream) run(closeCh <-chan struct{}) {
	go s.heartbeat(closeCh)

	delay := reconnectDelay
	for {
		select {
		case <-closeCh:
			return
		default:
		}

		var sq streamQuote
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		if err := conn.ReadJSON(&sq); err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			log.Printf("[bridge] stream read error: %v, reconnecting in %v", err, delay)
			select {
			case <-closeCh:
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			if err := s.dial(); err != nil {
				log.Printf("[bridge] stream reconnect failed: %v", err)
			}
			continue
		}
		delay = reconnectDelay

		if sq.Bid <= 0 || sq.Ask <= 0 {
			continue
		}
		s.mu.Lock()
		s.quotes[sq.Symbol] = model.Quote{
			Symbol: sq.Symbol,
			Bid:    sq.Bid,
			Ask:    sq.Ask,
			TS:     time.Unix(sq.TS, 0).UTC(),
		}
		s.mu.Unlock()
	}
}

func (s *quoteStream) heartbeat(closeCh <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closeCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				log.Printf("[bridge] stream ping failed: %v", err)
			}
		}
	}
}

func (s *quoteStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}
}
