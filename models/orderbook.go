package models

// PriceLevel is a single resting price level on one side of the book.
// Size zero in an incremental update means "remove this level".
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSide is an ordered sequence of price levels, bids descending and
// asks ascending by price, truncated to the configured depth.
type BookSide []PriceLevel

// BookMode declares how an exchange's book frames relate to prior state.
type BookMode string

const (
	// BookModeReplace means every frame is self-contained and wholly
	// replaces the visible sides.
	BookModeReplace BookMode = "replace"
	// BookModeMerge means frames are a snapshot followed by incremental
	// deltas that must be folded into local price maps.
	BookModeMerge BookMode = "merge"
)

// BookUpdate is a canonical parsed book frame. Either side may be nil when
// the frame carried no changes for it. Snapshot marks frames that fully
// replace prior state in merge mode.
type BookUpdate struct {
	Bids     []PriceLevel
	Asks     []PriceLevel
	Snapshot bool
}

// OrderBook is the depth-limited canonical book state handed to consumers.
type OrderBook struct {
	Exchange string   `json:"exchange"`
	Symbol   string   `json:"symbol"`
	Bids     BookSide `json:"bids"`
	Asks     BookSide `json:"asks"`
}

// BestBid returns the highest bid. ok is false when the side is empty.
func (b *OrderBook) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask. ok is false when the side is empty.
func (b *OrderBook) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// Mid returns the mid-price. With only one populated side it returns that
// side's best price; with neither it returns ok=false.
func (b *OrderBook) Mid() (float64, bool) {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	switch {
	case hasBid && hasAsk:
		return (bid + ask) / 2, true
	case hasBid:
		return bid, true
	case hasAsk:
		return ask, true
	default:
		return 0, false
	}
}

// SpreadPct returns the bid/ask spread as a percentage of the best ask.
// ok is false unless both sides are populated and the ask is non-zero.
func (b *OrderBook) SpreadPct() (float64, bool) {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if !hasBid || !hasAsk || ask == 0 {
		return 0, false
	}
	return (ask - bid) / ask * 100, true
}

// MaxSize returns the largest level size on the given side. ok is false on
// an empty side so callers never normalize against a non-finite maximum.
func MaxSize(side BookSide) (float64, bool) {
	if len(side) == 0 {
		return 0, false
	}
	max := side[0].Size
	for _, lvl := range side[1:] {
		if lvl.Size > max {
			max = lvl.Size
		}
	}
	return max, true
}
