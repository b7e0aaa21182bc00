// Package bridge is an HTTP client for a terminal bridge that fronts the
// broker: bar history, quotes, symbol metadata, positions, and order
// placement. It handles session login (account + TOTP) and token refresh.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"crossbot/internal/gateway"
	"crossbot/internal/model"
)

// Config configures the bridge client.
type Config struct {
	BaseURL    string // e.g. "http://localhost:8228"
	Account    string
	TOTPSecret string
	Timeout    time.Duration // default: 7s

	// StreamQuotes subscribes to the bridge quote stream so Quote() can be
	// served from the latest tick instead of a round trip per call.
	StreamQuotes bool
}

var routes = map[string]string{
	"session.login":   "/api/v1/session/login",
	"session.logout":  "/api/v1/session/logout",
	"bars":            "/api/v1/bars",
	"quote":           "/api/v1/quote",
	"symbol.info":     "/api/v1/symbol/info",
	"positions.count": "/api/v1/positions/count",
	"order.place":     "/api/v1/order",
}

// Client talks to the terminal bridge. Implements gateway.Gateway.
type Client struct {
	cfg        config
	httpClient *http.Client

	mu      sync.Mutex
	token   string
	stream  *quoteStream
	closeCh chan struct{}
}

type config struct {
	baseURL      string
	account      string
	totpSecret   string
	timeout      time.Duration
	streamQuotes bool
}

// New creates a bridge client. Connect must be called before use.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("bridge: base URL required")
	}
	if cfg.Account == "" {
		return nil, errors.New("bridge: account required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Client{
		cfg: config{
			baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
			account:      cfg.Account,
			totpSecret:   cfg.TOTPSecret,
			timeout:      cfg.Timeout,
			streamQuotes: cfg.StreamQuotes,
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Connect logs in and, when configured, starts the quote stream.
func (c *Client) Connect(ctx context.Context) error {
	body := map[string]string{"account": c.cfg.account}
	if c.cfg.totpSecret != "" {
		code, err := totp.GenerateCode(c.cfg.totpSecret, time.Now())
		if err != nil {
			return fmt.Errorf("bridge: totp generation: %w", err)
		}
		body["totp"] = code
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "session.login", nil, body, &resp); err != nil {
		return fmt.Errorf("bridge: login: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("bridge: login: %w: empty session token", gateway.ErrConnectionLost)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.closeCh = make(chan struct{})
	c.mu.Unlock()

	if c.cfg.streamQuotes {
		stream, err := dialQuoteStream(c.cfg.baseURL, resp.Token)
		if err != nil {
			// Stream is an optimization; REST quote still works without it.
			log.Printf("[bridge] quote stream unavailable: %v (falling back to REST)", err)
		} else {
			c.mu.Lock()
			c.stream = stream
			c.mu.Unlock()
			go stream.run(c.closeCh)
		}
	}

	log.Printf("[bridge] session established for account %s", c.cfg.account)
	return nil
}

// Disconnect logs out and stops the quote stream. Idempotent.
// The session token stays attached until the logout request completes so the
// broker-side session is actually released.
func (c *Client) Disconnect() {
	c.mu.Lock()
	token := c.token
	if c.closeCh != nil {
		close(c.closeCh)
		c.closeCh = nil
	}
	if c.stream != nil {
		c.stream.close()
		c.stream = nil
	}
	c.mu.Unlock()

	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.timeout)
	defer cancel()
	if err := c.do(ctx, http.MethodPost, "session.logout", nil, map[string]string{"account": c.cfg.account}, nil); err != nil {
		log.Printf("[bridge] logout failed: %v", err)
	}

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	log.Println("[bridge] session released")
}

// FetchBars returns up to count most-recent bars, time-ascending.
func (c *Client) FetchBars(ctx context.Context, symbol, timeframe string, count int) (model.Series, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timeframe", timeframe)
	params.Set("count", strconv.Itoa(count))

	var resp struct {
		Symbol string `json:"symbol"`
		Bars   []struct {
			TS    int64   `json:"ts"` // unix seconds
			Open  float64 `json:"open"`
			High  float64 `json:"high"`
			Low   float64 `json:"low"`
			Close float64 `json:"close"`
		} `json:"bars"`
	}
	if err := c.do(ctx, http.MethodGet, "bars", params, nil, &resp); err != nil {
		return model.Series{}, err
	}
	if len(resp.Bars) == 0 {
		return model.Series{}, fmt.Errorf("%w: %s %s", gateway.ErrNoData, symbol, timeframe)
	}

	series := model.Series{Symbol: symbol, Bars: make([]model.Bar, len(resp.Bars))}
	for i, b := range resp.Bars {
		series.Bars[i] = model.Bar{
			TS:    time.Unix(b.TS, 0).UTC(),
			Open:  b.Open,
			High:  b.High,
			Low:   b.Low,
			Close: b.Close,
		}
	}
	return series, nil
}

// Quote returns the current bid/ask, preferring the live stream when fresh.
func (c *Client) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		if q, ok := stream.latest(symbol); ok {
			return q, nil
		}
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	var resp struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
		TS  int64   `json:"ts"`
	}
	if err := c.do(ctx, http.MethodGet, "quote", params, nil, &resp); err != nil {
		return model.Quote{}, err
	}
	if resp.Bid <= 0 || resp.Ask <= 0 {
		return model.Quote{}, fmt.Errorf("%w: %s", gateway.ErrQuoteUnavailable, symbol)
	}
	return model.Quote{
		Symbol: symbol,
		Bid:    resp.Bid,
		Ask:    resp.Ask,
		TS:     time.Unix(resp.TS, 0).UTC(),
	}, nil
}

// SymbolInfo returns instrument metadata.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp struct {
		Point    float64 `json:"point"`
		Digits   int     `json:"digits"`
		Tradable bool    `json:"tradable"`
	}
	if err := c.do(ctx, http.MethodGet, "symbol.info", params, nil, &resp); err != nil {
		return model.SymbolInfo{}, err
	}
	if resp.Point <= 0 {
		return model.SymbolInfo{}, fmt.Errorf("%w: %s: zero point size", gateway.ErrSymbolNotFound, symbol)
	}
	return model.SymbolInfo{
		Symbol:   symbol,
		Point:    resp.Point,
		Digits:   resp.Digits,
		Tradable: resp.Tradable,
	}, nil
}

// OpenPositions returns the open position count for symbol.
func (c *Client) OpenPositions(ctx context.Context, symbol string) (int, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "positions.count", params, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// SubmitOrder places a market order through the bridge. A broker decline is
// an OrderResult with OK=false, not an error.
func (c *Client) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	var resp struct {
		OK     bool    `json:"ok"`
		Ticket string  `json:"ticket"`
		Price  float64 `json:"price"`
		Reason string  `json:"reason"`
	}
	if err := c.do(ctx, http.MethodPost, "order.place", nil, req, &resp); err != nil {
		return model.OrderResult{}, err
	}
	return model.OrderResult{OK: resp.OK, Ticket: resp.Ticket, Price: resp.Price, Reason: resp.Reason}, nil
}

// do performs one JSON request against a named route.
func (c *Client) do(ctx context.Context, method, route string, params url.Values, body, out any) error {
	uri, ok := routes[route]
	if !ok {
		return fmt.Errorf("bridge: unknown route %s", route)
	}
	reqURL := c.cfg.baseURL + uri
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bridge: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", gateway.ErrConnectionLost, method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", gateway.ErrConnectionLost, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", gateway.ErrSymbolNotFound, route)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: session expired", gateway.ErrConnectionLost)
	default:
		return fmt.Errorf("bridge: %s %s: status %d: %s", method, route, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bridge: decode %s response: %w", route, err)
	}
	return nil
}
