package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"marketfeed/models"
)

const paradexStreamURL = "wss://ws.api.prod.paradex.trade/v1"

var paradexBareSymbol = regexp.MustCompile(`^([A-Z]+)(USDT|USD|PERP)?$`)

// Paradex subscriptions are JSON-RPC calls and markets use the
// {base}-USD-PERP convention, so USDT pair names must be mapped first.
// Its order book channel sends an initial snapshot and then row-level
// inserts, updates and deletes.
type Paradex struct{}

func NewParadex() *Paradex { return &Paradex{} }

func (p *Paradex) Name() string { return "paradex" }

// Market converts a conventional pair symbol into a Paradex market name,
// e.g. BTCUSDT -> BTC-USD-PERP.
func (p *Paradex) Market(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "-") {
		if strings.HasSuffix(s, "PERP") {
			return s
		}
		s = strings.TrimSuffix(s, "-USDT")
		s = strings.TrimSuffix(s, "-USD")
		return s + "-USD-PERP"
	}
	if m := paradexBareSymbol.FindStringSubmatch(s); m != nil {
		return m[1] + "-USD-PERP"
	}
	return s
}

func (p *Paradex) StreamTarget(_ context.Context, _ string, _ models.Kind) (string, error) {
	return paradexStreamURL, nil
}

func (p *Paradex) SubscribeRequest(symbol string, kind models.Kind) []byte {
	var params map[string]interface{}
	switch kind {
	case models.KindCandles:
		params = map[string]interface{}{
			"channel":    "candles",
			"market":     p.Market(symbol),
			"resolution": "1",
		}
	case models.KindBook:
		params = map[string]interface{}{
			"channel": fmt.Sprintf("order_book.%s", p.Market(symbol)),
		}
	default:
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "subscribe",
		"params":  params,
		"id":      time.Now().Unix(),
	})
	if err != nil {
		return nil
	}
	return payload
}

func (p *Paradex) MergeMode() models.BookMode { return models.BookModeMerge }

// ParseHistory decodes the parallel-array shape {t: [...], o: [...],
// h: [...], l: [...], c: [...]}.
func (p *Paradex) ParseHistory(raw []byte) ([]models.Candle, error) {
	var resp struct {
		T []interface{} `json:"t"`
		O []interface{} `json:"o"`
		H []interface{} `json:"h"`
		L []interface{} `json:"l"`
		C []interface{} `json:"c"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("paradex: decode history: %w", err)
	}
	n := len(resp.T)
	if len(resp.O) < n {
		n = len(resp.O)
	}
	if len(resp.H) < n {
		n = len(resp.H)
	}
	if len(resp.L) < n {
		n = len(resp.L)
	}
	if len(resp.C) < n {
		n = len(resp.C)
	}
	out := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		row := []interface{}{resp.T[i], resp.O[i], resp.H[i], resp.L[i], resp.C[i]}
		if c, ok := candleFromRow(row, 0, 1, 2, 3, 4); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// paradexNotification is the JSON-RPC push envelope shared by the candle
// and order book channels.
type paradexNotification struct {
	Params *struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

func (p *Paradex) ParseCandleFrame(frame []byte) (models.Candle, bool) {
	var msg paradexNotification
	if err := json.Unmarshal(frame, &msg); err != nil || msg.Params == nil {
		return models.Candle{}, false
	}
	if msg.Params.Channel != "candles" || len(msg.Params.Data) == 0 {
		return models.Candle{}, false
	}
	var data struct {
		T interface{} `json:"t"`
		O interface{} `json:"o"`
		H interface{} `json:"h"`
		L interface{} `json:"l"`
		C interface{} `json:"c"`
	}
	if err := json.Unmarshal(msg.Params.Data, &data); err != nil {
		return models.Candle{}, false
	}
	row := []interface{}{data.T, data.O, data.H, data.L, data.C}
	return candleFromRow(row, 0, 1, 2, 3, 4)
}

// paradexLevel is a single book row; price/size and px/sz spellings both
// occur on the wire.
type paradexLevel struct {
	Side  string      `json:"side"`
	Price interface{} `json:"price"`
	Size  interface{} `json:"size"`
	Px    interface{} `json:"px"`
	Sz    interface{} `json:"sz"`
}

func (l paradexLevel) level() (models.PriceLevel, bool) {
	priceRaw := l.Price
	if priceRaw == nil {
		priceRaw = l.Px
	}
	sizeRaw := l.Size
	if sizeRaw == nil {
		sizeRaw = l.Sz
	}
	price, ok1 := numeric(priceRaw)
	size, ok2 := numeric(sizeRaw)
	if !ok1 || !ok2 {
		return models.PriceLevel{}, false
	}
	return models.PriceLevel{Price: price, Size: size}, true
}

func (l paradexLevel) isBid() bool {
	side := strings.ToUpper(l.Side)
	return side == "BUY" || side == "BID"
}

func (p *Paradex) ParseBookFrame(frame []byte) (models.BookUpdate, bool) {
	var msg paradexNotification
	if err := json.Unmarshal(frame, &msg); err != nil || msg.Params == nil {
		return models.BookUpdate{}, false
	}
	if !strings.HasPrefix(msg.Params.Channel, "order_book.") || len(msg.Params.Data) == 0 {
		return models.BookUpdate{}, false
	}
	var data struct {
		UpdateType string         `json:"update_type"`
		Bids       [][]string     `json:"bids"`
		Asks       [][]string     `json:"asks"`
		Inserts    []paradexLevel `json:"inserts"`
		Updates    []paradexLevel `json:"updates"`
		Deletes    []paradexLevel `json:"deletes"`
	}
	if err := json.Unmarshal(msg.Params.Data, &data); err != nil {
		return models.BookUpdate{}, false
	}

	// Snapshot form: explicit bid/ask arrays.
	if len(data.Bids) > 0 || len(data.Asks) > 0 {
		return models.BookUpdate{
			Bids:     levelsFromPairs(data.Bids),
			Asks:     levelsFromPairs(data.Asks),
			Snapshot: true,
		}, true
	}

	update := models.BookUpdate{Snapshot: data.UpdateType == "s"}
	add := func(rows []paradexLevel, deleted bool) {
		for _, r := range rows {
			lvl, ok := r.level()
			if !ok {
				continue
			}
			if deleted {
				lvl.Size = 0
			}
			if r.isBid() {
				update.Bids = append(update.Bids, lvl)
			} else {
				update.Asks = append(update.Asks, lvl)
			}
		}
	}
	add(data.Inserts, false)
	add(data.Updates, false)
	add(data.Deletes, true)

	if len(update.Bids) == 0 && len(update.Asks) == 0 {
		return models.BookUpdate{}, false
	}
	return update, true
}
