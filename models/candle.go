package models

// Candle is a fixed-interval OHLC price summary in canonical form.
// Time is always whole unix seconds regardless of the source exchange's
// native epoch unit.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Kind selects which canonical series a subscription produces.
type Kind string

const (
	KindCandles Kind = "candles"
	KindBook    Kind = "book"
)

// Valid reports whether k is a known subscription kind.
func (k Kind) Valid() bool {
	return k == KindCandles || k == KindBook
}
