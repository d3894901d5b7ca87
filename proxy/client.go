package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"marketfeed/logger"

	"golang.org/x/time/rate"
)

// Client talks to the market-data proxy service. The proxy fronts
// exchange REST endpoints that are not directly reachable from the
// feed host and brokers Kucoin websocket tokens.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// Config holds proxy client settings.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	BurstSize         int
}

// NewClient creates a proxy client. Zero-value config fields fall
// back to sane defaults.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}
}

// Klines fetches the historical candle payload for a symbol through
// the proxy. The body is returned raw so each exchange adapter can
// decode its own wire shape.
func (c *Client) Klines(ctx context.Context, exchange, symbol, interval string, limit int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("exchange", exchange)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	reqURL := fmt.Sprintf("%s/api/proxy/kline/?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create kline request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kline request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.WithComponent("proxy").WithFields(logger.Fields{
			"exchange": exchange,
			"symbol":   symbol,
			"status":   resp.StatusCode,
		}).Warn("kline request returned non-200 status")
		return nil, fmt.Errorf("kline request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read kline response: %w", err)
	}
	logger.RecordChannelMessage("proxy_kline", len(body))
	return body, nil
}

// kucoinTokenResponse mirrors the bullet token payload relayed by the
// proxy. Kucoin answers with code "200000" on success.
type kucoinTokenResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int    `json:"pingInterval"`
		} `json:"instanceServers"`
	} `json:"data"`
}

// WebsocketURL obtains a fresh Kucoin websocket endpoint. Kucoin
// requires a short-lived token minted over REST before a stream can
// be opened, so this must be called again on every reconnect.
func (c *Client) WebsocketURL(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	reqURL := fmt.Sprintf("%s/api/proxy/kucoin-token/", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(nil))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned status %d", resp.StatusCode)
	}

	var tr kucoinTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.Code != "200000" {
		return "", fmt.Errorf("token request rejected with code %s", tr.Code)
	}
	if tr.Data.Token == "" || len(tr.Data.InstanceServers) == 0 {
		return "", fmt.Errorf("token response missing endpoint or token")
	}

	endpoint := tr.Data.InstanceServers[0].Endpoint
	return fmt.Sprintf("%s?token=%s", endpoint, tr.Data.Token), nil
}
