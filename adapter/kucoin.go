package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"marketfeed/models"
)

// Kucoin's websocket endpoint is not static: every connection requires a
// token issued through a REST round trip, performed here via the injected
// TokenSource. Futures market topics carry an "M" suffix on the symbol.
type Kucoin struct {
	tokens TokenSource
}

func NewKucoin(tokens TokenSource) *Kucoin { return &Kucoin{tokens: tokens} }

func (k *Kucoin) Name() string { return "kucoin" }

func (k *Kucoin) StreamTarget(ctx context.Context, _ string, _ models.Kind) (string, error) {
	if k.tokens == nil {
		return "", fmt.Errorf("kucoin: no token source configured")
	}
	target, err := k.tokens.WebsocketURL(ctx)
	if err != nil {
		return "", fmt.Errorf("kucoin: resolve stream target: %w", err)
	}
	return target, nil
}

func (k *Kucoin) SubscribeRequest(symbol string, kind models.Kind) []byte {
	var topic string
	switch kind {
	case models.KindCandles:
		topic = fmt.Sprintf("/contractMarket/limitCandle:%sM_1min", strings.ToUpper(symbol))
	case models.KindBook:
		topic = fmt.Sprintf("/contractMarket/level2Depth5:%sM", strings.ToUpper(symbol))
	default:
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":       time.Now().UnixMilli(),
		"type":     "subscribe",
		"topic":    topic,
		"response": true,
	})
	if err != nil {
		return nil
	}
	return payload
}

func (k *Kucoin) MergeMode() models.BookMode { return models.BookModeReplace }

// ParseHistory decodes {data: [[t,o,h,l,c,...]]}. Kucoin has been observed
// returning rows out of order, so the result is sorted before returning.
func (k *Kucoin) ParseHistory(raw []byte) ([]models.Candle, error) {
	var resp struct {
		Data [][]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("kucoin: decode history: %w", err)
	}
	out := make([]models.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		if c, ok := candleFromRow(row, 0, 1, 2, 3, 4); ok {
			out = append(out, c)
		}
	}
	sortCandles(out)
	return out, nil
}

func (k *Kucoin) ParseCandleFrame(frame []byte) (models.Candle, bool) {
	var msg struct {
		Type string `json:"type"`
		Data *struct {
			Candles []interface{} `json:"candles"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return models.Candle{}, false
	}
	if msg.Type != "message" || msg.Data == nil || len(msg.Data.Candles) == 0 {
		return models.Candle{}, false
	}
	return candleFromRow(msg.Data.Candles, 0, 1, 2, 3, 4)
}

func (k *Kucoin) ParseBookFrame(frame []byte) (models.BookUpdate, bool) {
	var msg struct {
		Type string `json:"type"`
		Data *struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return models.BookUpdate{}, false
	}
	if msg.Type != "message" || msg.Data == nil {
		return models.BookUpdate{}, false
	}
	if len(msg.Data.Bids) == 0 && len(msg.Data.Asks) == 0 {
		return models.BookUpdate{}, false
	}
	return models.BookUpdate{
		Bids:     levelsFromPairs(msg.Data.Bids),
		Asks:     levelsFromPairs(msg.Data.Asks),
		Snapshot: true,
	}, true
}
