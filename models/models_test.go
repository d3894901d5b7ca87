package models

import "testing"

func TestOrderBookDerived(t *testing.T) {
	book := &OrderBook{
		Bids: BookSide{{Price: 99, Size: 2}, {Price: 98, Size: 1}},
		Asks: BookSide{{Price: 101, Size: 3}, {Price: 102, Size: 4}},
	}

	if bid, ok := book.BestBid(); !ok || bid != 99 {
		t.Fatalf("best bid: got %v %v", bid, ok)
	}
	if ask, ok := book.BestAsk(); !ok || ask != 101 {
		t.Fatalf("best ask: got %v %v", ask, ok)
	}
	if mid, ok := book.Mid(); !ok || mid != 100 {
		t.Fatalf("mid: got %v %v", mid, ok)
	}
	spread, ok := book.SpreadPct()
	if !ok {
		t.Fatal("expected spread to be available")
	}
	want := (101.0 - 99.0) / 101.0 * 100
	if spread != want {
		t.Fatalf("spread: got %v want %v", spread, want)
	}
}

func TestOrderBookEmptySides(t *testing.T) {
	book := &OrderBook{}
	if _, ok := book.BestBid(); ok {
		t.Fatal("empty book reported a best bid")
	}
	if _, ok := book.Mid(); ok {
		t.Fatal("empty book reported a mid price")
	}
	if _, ok := book.SpreadPct(); ok {
		t.Fatal("empty book reported a spread")
	}

	book.Bids = BookSide{{Price: 50, Size: 1}}
	mid, ok := book.Mid()
	if !ok || mid != 50 {
		t.Fatalf("one-sided mid: got %v %v", mid, ok)
	}
	if _, ok := book.SpreadPct(); ok {
		t.Fatal("one-sided book reported a spread")
	}
}

func TestMaxSizeEmptySide(t *testing.T) {
	if _, ok := MaxSize(nil); ok {
		t.Fatal("MaxSize on empty side must report ok=false")
	}
	max, ok := MaxSize(BookSide{{Price: 1, Size: 2}, {Price: 2, Size: 5}, {Price: 3, Size: 1}})
	if !ok || max != 5 {
		t.Fatalf("MaxSize: got %v %v", max, ok)
	}
}

func TestSubscriptionNormalization(t *testing.T) {
	a := NewSubscription("Binance", "btcusdt", KindBook)
	b := NewSubscription(" binance ", "BTCUSDT", KindBook)
	if a != b {
		t.Fatalf("expected identical keys, got %v and %v", a, b)
	}
	if a.String() != "binance:BTCUSDT:book" {
		t.Fatalf("unexpected key string %q", a.String())
	}
}
