package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"marketfeed/models"
)

const bybitStreamURL = "wss://stream.bybit.com/v5/public/linear"

// Bybit's v5 linear endpoint serves every topic; subscriptions send an
// op/args payload with topic strings. The orderbook.50 channel is a true
// snapshot+delta stream, so books are reconstructed locally.
type Bybit struct{}

func NewBybit() *Bybit { return &Bybit{} }

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) StreamTarget(_ context.Context, _ string, _ models.Kind) (string, error) {
	return bybitStreamURL, nil
}

func (b *Bybit) SubscribeRequest(symbol string, kind models.Kind) []byte {
	var topic string
	switch kind {
	case models.KindCandles:
		topic = fmt.Sprintf("kline.1.%s", strings.ToUpper(symbol))
	case models.KindBook:
		topic = fmt.Sprintf("orderbook.50.%s", strings.ToUpper(symbol))
	default:
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{
		"op":   "subscribe",
		"args": []string{topic},
	})
	if err != nil {
		return nil
	}
	return payload
}

func (b *Bybit) MergeMode() models.BookMode { return models.BookModeMerge }

// ParseHistory decodes the v5 kline envelope {result: {list: [[start,
// open, high, low, close, ...]]}}. The list arrives newest first and is
// sorted to chronological order.
func (b *Bybit) ParseHistory(raw []byte) ([]models.Candle, error) {
	var resp struct {
		Result struct {
			List [][]interface{} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("bybit: decode history: %w", err)
	}
	out := make([]models.Candle, 0, len(resp.Result.List))
	for _, row := range resp.Result.List {
		if c, ok := candleFromRow(row, 0, 1, 2, 3, 4); ok {
			out = append(out, c)
		}
	}
	sortCandles(out)
	return out, nil
}

// bybitKlineFrame is the kline.{interval}.{symbol} stream shape.
type bybitKlineFrame struct {
	Topic string `json:"topic"`
	Data  []struct {
		Start json.Number `json:"start"`
		Open  string      `json:"open"`
		High  string      `json:"high"`
		Low   string      `json:"low"`
		Close string      `json:"close"`
	} `json:"data"`
}

func (b *Bybit) ParseCandleFrame(frame []byte) (models.Candle, bool) {
	var msg bybitKlineFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return models.Candle{}, false
	}
	if !strings.HasPrefix(msg.Topic, "kline.") || len(msg.Data) == 0 {
		return models.Candle{}, false
	}
	d := msg.Data[len(msg.Data)-1]
	row := []interface{}{d.Start, d.Open, d.High, d.Low, d.Close}
	return candleFromRow(row, 0, 1, 2, 3, 4)
}

// bybitBookFrame is the orderbook.{depth}.{symbol} stream shape. Type is
// "snapshot" for the initial full book and "delta" afterwards; zero-size
// delta levels delete the price.
type bybitBookFrame struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  *struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	} `json:"data"`
}

func (b *Bybit) ParseBookFrame(frame []byte) (models.BookUpdate, bool) {
	var msg bybitBookFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return models.BookUpdate{}, false
	}
	if !strings.HasPrefix(msg.Topic, "orderbook.") || msg.Data == nil {
		return models.BookUpdate{}, false
	}
	return models.BookUpdate{
		Bids:     levelsFromPairs(msg.Data.Bids),
		Asks:     levelsFromPairs(msg.Data.Asks),
		Snapshot: msg.Type == "snapshot",
	}, true
}
