package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"marketfeed/models"
)

const (
	coinexStreamURL = "wss://socket.coinex.com/"
	coinexBookURL   = "wss://perpetual.coinex.com/"
)

// Coinex speaks a JSON-RPC style protocol with positional params. Candle
// rows interleave close before high and low: [time, open, close, high,
// low]. Depth updates carry a leading "clean" flag that marks a full
// snapshot; zero-size levels in non-clean updates delete the price.
type Coinex struct{}

func NewCoinex() *Coinex { return &Coinex{} }

func (c *Coinex) Name() string { return "coinex" }

func (c *Coinex) StreamTarget(_ context.Context, _ string, kind models.Kind) (string, error) {
	switch kind {
	case models.KindCandles:
		return coinexStreamURL, nil
	case models.KindBook:
		return coinexBookURL, nil
	default:
		return "", fmt.Errorf("coinex: unsupported kind %q", kind)
	}
}

func (c *Coinex) SubscribeRequest(symbol string, kind models.Kind) []byte {
	var (
		method string
		params []interface{}
	)
	switch kind {
	case models.KindCandles:
		method = "kline.subscribe"
		params = []interface{}{strings.ToUpper(symbol), 60}
	case models.KindBook:
		method = "depth.subscribe"
		params = []interface{}{strings.ToUpper(symbol), 20, "0", true}
	default:
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{
		"method": method,
		"params": params,
		"id":     1,
	})
	if err != nil {
		return nil
	}
	return payload
}

func (c *Coinex) MergeMode() models.BookMode { return models.BookModeMerge }

// ParseHistory decodes {data: [[time, open, close, high, low, ...]]} —
// note the CoinEx field order.
func (c *Coinex) ParseHistory(raw []byte) ([]models.Candle, error) {
	var resp struct {
		Data [][]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("coinex: decode history: %w", err)
	}
	out := make([]models.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		if cd, ok := candleFromRow(row, 0, 1, 3, 4, 2); ok {
			out = append(out, cd)
		}
	}
	return out, nil
}

func (c *Coinex) ParseCandleFrame(frame []byte) (models.Candle, bool) {
	var msg struct {
		Method string          `json:"method"`
		Params [][]interface{} `json:"params"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return models.Candle{}, false
	}
	if msg.Method != "kline.update" || len(msg.Params) == 0 {
		return models.Candle{}, false
	}
	return candleFromRow(msg.Params[0], 0, 1, 3, 4, 2)
}

func (c *Coinex) ParseBookFrame(frame []byte) (models.BookUpdate, bool) {
	var msg struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return models.BookUpdate{}, false
	}
	if msg.Method != "depth.update" || len(msg.Params) < 2 {
		return models.BookUpdate{}, false
	}
	var clean bool
	if err := json.Unmarshal(msg.Params[0], &clean); err != nil {
		return models.BookUpdate{}, false
	}
	var depth struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(msg.Params[1], &depth); err != nil {
		return models.BookUpdate{}, false
	}
	return models.BookUpdate{
		Bids:     levelsFromPairs(depth.Bids),
		Asks:     levelsFromPairs(depth.Asks),
		Snapshot: clean,
	}, true
}
