package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"marketfeed/models"
)

const hyperliquidStreamURL = "wss://api.hyperliquid.xyz/ws"

// Hyperliquid subscribes with typed subscription objects and identifies
// markets by bare coin name, so the USDT suffix is stripped from pair
// symbols. Its l2Book frames always carry the full book.
type Hyperliquid struct{}

func NewHyperliquid() *Hyperliquid { return &Hyperliquid{} }

func (h *Hyperliquid) Name() string { return "hyperliquid" }

// Coin strips the quote suffix from a pair symbol: BTCUSDT -> BTC.
func (h *Hyperliquid) Coin(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(symbol)), "USDT")
}

func (h *Hyperliquid) StreamTarget(_ context.Context, _ string, _ models.Kind) (string, error) {
	return hyperliquidStreamURL, nil
}

func (h *Hyperliquid) SubscribeRequest(symbol string, kind models.Kind) []byte {
	var sub map[string]interface{}
	switch kind {
	case models.KindCandles:
		sub = map[string]interface{}{
			"type":     "candle",
			"coin":     h.Coin(symbol),
			"interval": "1m",
		}
	case models.KindBook:
		sub = map[string]interface{}{
			"type": "l2Book",
			"coin": h.Coin(symbol),
		}
	default:
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{
		"method":       "subscribe",
		"subscription": sub,
	})
	if err != nil {
		return nil
	}
	return payload
}

func (h *Hyperliquid) MergeMode() models.BookMode { return models.BookModeReplace }

// hyperliquidCandle is the object candle shape used by both history and
// stream payloads.
type hyperliquidCandle struct {
	T interface{} `json:"t"`
	O interface{} `json:"o"`
	H interface{} `json:"h"`
	L interface{} `json:"l"`
	C interface{} `json:"c"`
}

func (c hyperliquidCandle) candle() (models.Candle, bool) {
	row := []interface{}{c.T, c.O, c.H, c.L, c.C}
	return candleFromRow(row, 0, 1, 2, 3, 4)
}

// ParseHistory decodes a bare array of candle objects. Ordering is not
// guaranteed, so the result is sorted.
func (h *Hyperliquid) ParseHistory(raw []byte) ([]models.Candle, error) {
	var rows []hyperliquidCandle
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("hyperliquid: decode history: %w", err)
	}
	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if c, ok := row.candle(); ok {
			out = append(out, c)
		}
	}
	sortCandles(out)
	return out, nil
}

func (h *Hyperliquid) ParseCandleFrame(frame []byte) (models.Candle, bool) {
	var msg struct {
		Channel string             `json:"channel"`
		Data    *hyperliquidCandle `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return models.Candle{}, false
	}
	if msg.Channel != "candle" || msg.Data == nil {
		return models.Candle{}, false
	}
	return msg.Data.candle()
}

// hyperliquidBookFrame carries levels as [bids, asks] where each entry is
// a {px, sz} object.
type hyperliquidBookFrame struct {
	Channel string `json:"channel"`
	Data    *struct {
		Levels [][]struct {
			Px string `json:"px"`
			Sz string `json:"sz"`
		} `json:"levels"`
	} `json:"data"`
}

func (h *Hyperliquid) ParseBookFrame(frame []byte) (models.BookUpdate, bool) {
	var msg hyperliquidBookFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return models.BookUpdate{}, false
	}
	if msg.Channel != "l2Book" || msg.Data == nil || len(msg.Data.Levels) < 2 {
		return models.BookUpdate{}, false
	}
	side := func(rows []struct {
		Px string `json:"px"`
		Sz string `json:"sz"`
	}) []models.PriceLevel {
		pairs := make([][]string, 0, len(rows))
		for _, r := range rows {
			pairs = append(pairs, []string{r.Px, r.Sz})
		}
		return levelsFromPairs(pairs)
	}
	return models.BookUpdate{
		Bids:     side(msg.Data.Levels[0]),
		Asks:     side(msg.Data.Levels[1]),
		Snapshot: true,
	}, true
}
