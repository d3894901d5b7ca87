package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"marketfeed/models"
)

const binanceStreamBase = "wss://stream.binance.com:9443/ws"

// Binance streams are addressed entirely through the URL path; no
// subscribe payload is ever sent.
type Binance struct{}

func NewBinance() *Binance { return &Binance{} }

func (b *Binance) Name() string { return "binance" }

func (b *Binance) StreamTarget(_ context.Context, symbol string, kind models.Kind) (string, error) {
	s := strings.ToLower(symbol)
	switch kind {
	case models.KindCandles:
		return fmt.Sprintf("%s/%s@kline_1m", binanceStreamBase, s), nil
	case models.KindBook:
		return fmt.Sprintf("%s/%s@depth20@100ms", binanceStreamBase, s), nil
	default:
		return "", fmt.Errorf("binance: unsupported kind %q", kind)
	}
}

func (b *Binance) SubscribeRequest(string, models.Kind) []byte { return nil }

func (b *Binance) MergeMode() models.BookMode { return models.BookModeReplace }

// ParseHistory decodes the kline REST shape: an array of positional
// arrays [openTime, open, high, low, close, ...].
func (b *Binance) ParseHistory(raw []byte) ([]models.Candle, error) {
	var rows [][]interface{}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode history: %w", err)
	}
	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if c, ok := candleFromRow(row, 0, 1, 2, 3, 4); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// binanceKlineFrame is the stream envelope; the kline payload lives
// under "k".
type binanceKlineFrame struct {
	Kline *struct {
		Start json.Number `json:"t"`
		Open  string      `json:"o"`
		High  string      `json:"h"`
		Low   string      `json:"l"`
		Close string      `json:"c"`
	} `json:"k"`
}

func (b *Binance) ParseCandleFrame(frame []byte) (models.Candle, bool) {
	var msg binanceKlineFrame
	if err := json.Unmarshal(frame, &msg); err != nil || msg.Kline == nil {
		return models.Candle{}, false
	}
	k := msg.Kline
	row := []interface{}{k.Start, k.Open, k.High, k.Low, k.Close}
	return candleFromRow(row, 0, 1, 2, 3, 4)
}

// binanceDepthFrame covers both the spot partial-depth shape (bids/asks)
// and the futures stream shape (b/a).
type binanceDepthFrame struct {
	Bids  [][]string `json:"bids"`
	Asks  [][]string `json:"asks"`
	BidsF [][]string `json:"b"`
	AsksF [][]string `json:"a"`
}

func (b *Binance) ParseBookFrame(frame []byte) (models.BookUpdate, bool) {
	var msg binanceDepthFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return models.BookUpdate{}, false
	}
	bids := msg.Bids
	if len(bids) == 0 {
		bids = msg.BidsF
	}
	asks := msg.Asks
	if len(asks) == 0 {
		asks = msg.AsksF
	}
	if len(bids) == 0 && len(asks) == 0 {
		return models.BookUpdate{}, false
	}
	return models.BookUpdate{
		Bids:     levelsFromPairs(bids),
		Asks:     levelsFromPairs(asks),
		Snapshot: true,
	}, true
}
