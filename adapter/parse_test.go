package adapter

import (
	"encoding/json"
	"testing"

	"marketfeed/models"
)

func TestBitgetParseCandleFrame(t *testing.T) {
	frame := []byte(`{"action":"update","arg":{"channel":"candle1m"},"data":[["1700000000000","100","110","90","105","1"]]}`)
	c, ok := NewBitget().ParseCandleFrame(frame)
	if !ok {
		t.Fatal("expected a candle")
	}
	if c.Time != 1700000000 || c.Open != 100 || c.Close != 105 {
		t.Fatalf("unexpected candle %+v", c)
	}
	if _, ok := NewBitget().ParseCandleFrame([]byte(`{"event":"subscribe"}`)); ok {
		t.Fatal("ack frame should be ignored")
	}
}

func TestBitgetParseBookFrame(t *testing.T) {
	frame := []byte(`{"action":"snapshot","data":[{"bids":[["99","2"],["98","1"]],"asks":[["101","1"]]}]}`)
	upd, ok := NewBitget().ParseBookFrame(frame)
	if !ok || !upd.Snapshot {
		t.Fatalf("expected snapshot update, got %+v ok=%v", upd, ok)
	}
	if len(upd.Bids) != 2 || len(upd.Asks) != 1 {
		t.Fatalf("unexpected sides %+v", upd)
	}
	if _, ok := NewBitget().ParseBookFrame([]byte(`{"event":"pong"}`)); ok {
		t.Fatal("pong should be ignored")
	}
}

func TestKucoinParseHistorySortsUnsortedRows(t *testing.T) {
	raw := []byte(`{"code":"200000","data":[[1700000120,"3","4","2","3"],[1700000000,"1","2","0.5","1.5"],[1700000060,"2","3","1","2.5"]]}`)
	candles, err := NewKucoin(nil).ParseHistory(raw)
	if err != nil {
		t.Fatalf("parse history: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Time <= candles[i-1].Time {
			t.Fatalf("history not sorted ascending: %+v", candles)
		}
	}
}

func TestKucoinParseCandleFrame(t *testing.T) {
	frame := []byte(`{"type":"message","topic":"/contractMarket/limitCandle:BTCUSDTM_1min","data":{"symbol":"BTCUSDTM","candles":["1700000000","100","110","90","105","10"]}}`)
	c, ok := NewKucoin(nil).ParseCandleFrame(frame)
	if !ok {
		t.Fatal("expected a candle")
	}
	if c.Time != 1700000000 || c.High != 110 {
		t.Fatalf("unexpected candle %+v", c)
	}
	if _, ok := NewKucoin(nil).ParseCandleFrame([]byte(`{"type":"welcome","id":"x"}`)); ok {
		t.Fatal("welcome frame should be ignored")
	}
}

func TestKucoinParseBookFrame(t *testing.T) {
	frame := []byte(`{"type":"message","topic":"/contractMarket/level2Depth5:BTCUSDTM","data":{"bids":[["99","1"]],"asks":[["101","2"]],"timestamp":1700000000000}}`)
	upd, ok := NewKucoin(nil).ParseBookFrame(frame)
	if !ok || !upd.Snapshot {
		t.Fatalf("expected snapshot, got %+v ok=%v", upd, ok)
	}
	if len(upd.Bids) != 1 || upd.Asks[0].Price != 101 {
		t.Fatalf("unexpected sides %+v", upd)
	}
}

func TestBybitParseHistoryReversesNewestFirst(t *testing.T) {
	raw := []byte(`{"retCode":0,"result":{"list":[["1700000120000","3","4","2","3","1","1"],["1700000060000","2","3","1","2.5","1","1"],["1700000000000","1","2","0.5","1.5","1","1"]]}}`)
	candles, err := NewBybit().ParseHistory(raw)
	if err != nil {
		t.Fatalf("parse history: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	if candles[0].Time != 1700000000 || candles[2].Time != 1700000120 {
		t.Fatalf("expected chronological order, got %+v", candles)
	}
}

func TestBybitParseCandleFrame(t *testing.T) {
	frame := []byte(`{"topic":"kline.1.BTCUSDT","type":"snapshot","data":[{"start":1700000000000,"open":"100","high":"110","low":"90","close":"105","confirm":false}]}`)
	c, ok := NewBybit().ParseCandleFrame(frame)
	if !ok {
		t.Fatal("expected a candle")
	}
	if c.Time != 1700000000 || c.Low != 90 {
		t.Fatalf("unexpected candle %+v", c)
	}
	if _, ok := NewBybit().ParseCandleFrame([]byte(`{"op":"subscribe","success":true}`)); ok {
		t.Fatal("ack should be ignored")
	}
}

func TestBybitParseBookFrame(t *testing.T) {
	snap := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","data":{"b":[["99","1"],["98","2"]],"a":[["101","1"]]}}`)
	upd, ok := NewBybit().ParseBookFrame(snap)
	if !ok || !upd.Snapshot {
		t.Fatalf("expected snapshot, got %+v ok=%v", upd, ok)
	}

	delta := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","data":{"b":[["99","0"]],"a":[]}}`)
	upd, ok = NewBybit().ParseBookFrame(delta)
	if !ok || upd.Snapshot {
		t.Fatalf("expected delta, got %+v ok=%v", upd, ok)
	}
	if len(upd.Bids) != 1 || upd.Bids[0].Size != 0 {
		t.Fatalf("zero-size delete level must be preserved: %+v", upd.Bids)
	}
}

func TestCoinexFieldOrder(t *testing.T) {
	// CoinEx interleaves close before high/low: [t, open, close, high, low].
	frame := []byte(`{"method":"kline.update","params":[[1700000000,"100","105","110","90","12","0","BTCUSDT"]]}`)
	c, ok := NewCoinex().ParseCandleFrame(frame)
	if !ok {
		t.Fatal("expected a candle")
	}
	if c.Open != 100 || c.Close != 105 || c.High != 110 || c.Low != 90 {
		t.Fatalf("field order wrong: %+v", c)
	}
}

func TestCoinexParseBookFrame(t *testing.T) {
	snap := []byte(`{"method":"depth.update","params":[true,{"bids":[["99","1"]],"asks":[["101","2"]]},"BTCUSDT"]}`)
	upd, ok := NewCoinex().ParseBookFrame(snap)
	if !ok || !upd.Snapshot {
		t.Fatalf("expected clean snapshot, got %+v ok=%v", upd, ok)
	}

	delta := []byte(`{"method":"depth.update","params":[false,{"bids":[["99","0"]],"asks":[]},"BTCUSDT"]}`)
	upd, ok = NewCoinex().ParseBookFrame(delta)
	if !ok || upd.Snapshot {
		t.Fatalf("expected incremental update, got %+v ok=%v", upd, ok)
	}
	if _, ok := NewCoinex().ParseBookFrame([]byte(`{"result":"pong"}`)); ok {
		t.Fatal("pong should be ignored")
	}
}

func TestParadexMarketMapping(t *testing.T) {
	p := NewParadex()
	cases := map[string]string{
		"BTCUSDT":      "BTC-USD-PERP",
		"ethusdt":      "ETH-USD-PERP",
		"SOLUSD":       "SOL-USD-PERP",
		"BTC-USD-PERP": "BTC-USD-PERP",
	}
	for in, want := range cases {
		if got := p.Market(in); got != want {
			t.Errorf("Market(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParadexParseHistoryParallelArrays(t *testing.T) {
	raw := []byte(`{"t":[1700000000,1700000060],"o":["100","105"],"h":["110","108"],"l":["90","104"],"c":["105","106"]}`)
	candles, err := NewParadex().ParseHistory(raw)
	if err != nil {
		t.Fatalf("parse history: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[1].Close != 106 {
		t.Fatalf("unexpected candles %+v", candles)
	}
}

func TestParadexParseBookFrame(t *testing.T) {
	p := NewParadex()

	snap := []byte(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"order_book.BTC-USD-PERP","data":{"update_type":"s","inserts":[{"side":"BUY","price":"99","size":"1"},{"side":"SELL","price":"101","size":"2"}]}}}`)
	upd, ok := p.ParseBookFrame(snap)
	if !ok || !upd.Snapshot {
		t.Fatalf("expected snapshot, got %+v ok=%v", upd, ok)
	}
	if len(upd.Bids) != 1 || len(upd.Asks) != 1 {
		t.Fatalf("unexpected sides %+v", upd)
	}

	withDeletes := []byte(`{"params":{"channel":"order_book.BTC-USD-PERP","data":{"update_type":"d","deletes":[{"side":"BUY","px":"99","sz":"1"}]}}}`)
	upd, ok = p.ParseBookFrame(withDeletes)
	if !ok {
		t.Fatal("expected delta update")
	}
	if len(upd.Bids) != 1 || upd.Bids[0].Size != 0 {
		t.Fatalf("delete rows must map to zero size: %+v", upd.Bids)
	}

	if _, ok := p.ParseBookFrame([]byte(`{"jsonrpc":"2.0","result":{},"id":1}`)); ok {
		t.Fatal("rpc result should be ignored")
	}
}

func TestHyperliquidParseCandleFrame(t *testing.T) {
	frame := []byte(`{"channel":"candle","data":{"t":1700000000000,"o":"100","h":"110","l":"90","c":"105"}}`)
	c, ok := NewHyperliquid().ParseCandleFrame(frame)
	if !ok {
		t.Fatal("expected a candle")
	}
	if c.Time != 1700000000 {
		t.Fatalf("unexpected candle %+v", c)
	}
	if _, ok := NewHyperliquid().ParseCandleFrame([]byte(`{"channel":"subscriptionResponse"}`)); ok {
		t.Fatal("subscription ack should be ignored")
	}
}

func TestHyperliquidParseBookFrame(t *testing.T) {
	frame := []byte(`{"channel":"l2Book","data":{"coin":"BTC","levels":[[{"px":"99","sz":"1"},{"px":"98","sz":"2"}],[{"px":"101","sz":"3"}]]}}`)
	upd, ok := NewHyperliquid().ParseBookFrame(frame)
	if !ok || !upd.Snapshot {
		t.Fatalf("expected snapshot, got %+v ok=%v", upd, ok)
	}
	if len(upd.Bids) != 2 || upd.Asks[0].Price != 101 {
		t.Fatalf("unexpected sides %+v", upd)
	}
}

func TestSubscribeRequestsAreValidJSON(t *testing.T) {
	reg := NewRegistry(&staticTokens{url: "wss://example.com"})
	for _, name := range []string{"bitget", "kucoin", "bybit", "coinex", "paradex", "hyperliquid"} {
		a, _ := reg.Resolve(name)
		for _, kind := range []models.Kind{models.KindCandles, models.KindBook} {
			payload := a.SubscribeRequest("BTCUSDT", kind)
			var m map[string]interface{}
			if err := json.Unmarshal(payload, &m); err != nil {
				t.Errorf("%s/%s: invalid subscribe payload: %v", name, kind, err)
			}
		}
	}
}
