package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"marketfeed/models"
)

const bitgetStreamURL = "wss://ws.bitget.com/v2/ws/public"

// Bitget uses one public endpoint for every channel; subscriptions are
// issued with an op/args payload after connecting. Its books15 channel
// sends the full visible book in every frame, so no local reconstruction
// is needed.
type Bitget struct{}

func NewBitget() *Bitget { return &Bitget{} }

func (b *Bitget) Name() string { return "bitget" }

func (b *Bitget) StreamTarget(_ context.Context, _ string, _ models.Kind) (string, error) {
	return bitgetStreamURL, nil
}

type bitgetSubscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

func (b *Bitget) SubscribeRequest(symbol string, kind models.Kind) []byte {
	arg := bitgetSubscribeArg{InstID: strings.ToUpper(symbol)}
	switch kind {
	case models.KindCandles:
		arg.InstType = "mc"
		arg.Channel = "candle1m"
	case models.KindBook:
		arg.InstType = "USDT-FUTURES"
		arg.Channel = "books15"
	default:
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{
		"op":   "subscribe",
		"args": []bitgetSubscribeArg{arg},
	})
	if err != nil {
		return nil
	}
	return payload
}

func (b *Bitget) MergeMode() models.BookMode { return models.BookModeReplace }

// ParseHistory decodes the wrapped candle shape {data: [[t,o,h,l,c,...]]}.
func (b *Bitget) ParseHistory(raw []byte) ([]models.Candle, error) {
	var resp struct {
		Data [][]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("bitget: decode history: %w", err)
	}
	out := make([]models.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		if c, ok := candleFromRow(row, 0, 1, 2, 3, 4); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (b *Bitget) ParseCandleFrame(frame []byte) (models.Candle, bool) {
	var msg struct {
		Data [][]interface{} `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil || len(msg.Data) == 0 {
		return models.Candle{}, false
	}
	return candleFromRow(msg.Data[0], 0, 1, 2, 3, 4)
}

// bitgetBookFrame carries the full book under data[0] for both the
// "snapshot" and "update" actions.
type bitgetBookFrame struct {
	Action string `json:"action"`
	Data   []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	} `json:"data"`
}

func (b *Bitget) ParseBookFrame(frame []byte) (models.BookUpdate, bool) {
	var msg bitgetBookFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return models.BookUpdate{}, false
	}
	if msg.Action != "snapshot" && msg.Action != "update" {
		return models.BookUpdate{}, false
	}
	if len(msg.Data) == 0 {
		return models.BookUpdate{}, false
	}
	book := msg.Data[0]
	return models.BookUpdate{
		Bids:     levelsFromPairs(book.Bids),
		Asks:     levelsFromPairs(book.Asks),
		Snapshot: true,
	}, true
}
