package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"marketfeed/logger"

	"github.com/gorilla/websocket"
)

// BookFunc receives filtered book payloads on a gateway client.
type BookFunc func(payload BookPayload)

// Client is a consumer-side connection to a gateway server. It tracks
// a single (exchange, symbol) book at a time; switching targets first
// unsubscribes the old book, and payloads that do not match the
// current target are discarded so late frames from a previous
// subscription never reach the handler.
type Client struct {
	url    string
	dialer *websocket.Dialer
	onBook BookFunc
	log    *logger.Log

	mu       sync.RWMutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	exchange string
	symbol   string
	wg       sync.WaitGroup
}

// NewClient creates a gateway client for the given websocket URL.
func NewClient(url string, onBook BookFunc) *Client {
	return &Client{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		onBook: onBook,
		log:    logger.GetLogger(),
	}
}

// Connect opens the gateway connection and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect gateway: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)
	return nil
}

// Subscribe switches the client to a new book. Any previous book is
// unsubscribed first so the server can release the upstream stream.
func (c *Client) Subscribe(exchange, symbol string) error {
	exchange = strings.ToLower(strings.TrimSpace(exchange))
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.Lock()
	prevExchange, prevSymbol := c.exchange, c.symbol
	c.exchange, c.symbol = exchange, symbol
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("gateway client is not connected")
	}

	if prevExchange != "" && (prevExchange != exchange || prevSymbol != symbol) {
		if err := c.send(Command{Action: "unsubscribe", Exchange: prevExchange, Symbol: prevSymbol}); err != nil {
			return err
		}
	}
	return c.send(Command{Action: "subscribe", Exchange: exchange, Symbol: symbol})
}

// Close tears down the connection and waits for the read loop.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
}

func (c *Client) send(cmd Command) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("gateway client is not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(cmd)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var payload BookPayload
		if err := json.Unmarshal(msg, &payload); err != nil {
			c.log.WithComponent("gateway_client").WithError(err).Debug("failed to decode gateway frame")
			continue
		}
		if payload.Exchange == "" || payload.Symbol == "" {
			continue
		}

		c.mu.RLock()
		match := payload.Exchange == c.exchange && payload.Symbol == c.symbol
		c.mu.RUnlock()
		if !match {
			continue
		}
		if c.onBook != nil {
			c.onBook(payload)
		}
	}
}
