// Package book maintains the canonical depth-limited order book for a
// subscription, covering both exchanges whose frames replace the whole
// visible book and exchanges that stream a snapshot followed by
// incremental deltas.
package book

import (
	"sort"

	"marketfeed/models"
)

// defaultDepth matches the depth the fan-out layer has historically
// served; observed deployments use 10-20.
const defaultDepth = 15

// Reconstructor folds canonical book updates into sorted, side-separated,
// depth-limited state. Not safe for concurrent use; all events for a
// subscription arrive from a single goroutine.
type Reconstructor struct {
	exchange string
	symbol   string
	mode     models.BookMode
	depth    int

	// Merge-mode price maps. Unused in replace mode, where each frame
	// wholly determines the visible sides.
	bids map[float64]float64
	asks map[float64]float64

	visible models.OrderBook
}

// New creates a reconstructor for one subscription. Depth values below one
// select the default.
func New(exchange, symbol string, mode models.BookMode, depth int) *Reconstructor {
	if depth < 1 {
		depth = defaultDepth
	}
	r := &Reconstructor{
		exchange: exchange,
		symbol:   symbol,
		mode:     mode,
		depth:    depth,
		visible:  models.OrderBook{Exchange: exchange, Symbol: symbol},
	}
	if mode == models.BookModeMerge {
		r.bids = make(map[float64]float64)
		r.asks = make(map[float64]float64)
	}
	return r
}

// Mode returns the reconstruction mode.
func (r *Reconstructor) Mode() models.BookMode { return r.mode }

// Apply folds one canonical update into the book and reports whether the
// visible state changed.
func (r *Reconstructor) Apply(upd models.BookUpdate) bool {
	switch r.mode {
	case models.BookModeMerge:
		return r.applyMerge(upd)
	default:
		return r.applyReplace(upd)
	}
}

// applyReplace trusts each frame as the complete visible book.
func (r *Reconstructor) applyReplace(upd models.BookUpdate) bool {
	if len(upd.Bids) == 0 && len(upd.Asks) == 0 {
		return false
	}
	r.visible.Bids = sortSide(upd.Bids, true, r.depth)
	r.visible.Asks = sortSide(upd.Asks, false, r.depth)
	return true
}

// applyMerge mutates the price maps: snapshots repopulate them wholesale,
// deltas upsert levels and delete on zero size.
func (r *Reconstructor) applyMerge(upd models.BookUpdate) bool {
	if upd.Snapshot {
		r.bids = make(map[float64]float64, len(upd.Bids))
		r.asks = make(map[float64]float64, len(upd.Asks))
	} else if len(upd.Bids) == 0 && len(upd.Asks) == 0 {
		return false
	}
	mergeLevels(r.bids, upd.Bids)
	mergeLevels(r.asks, upd.Asks)
	r.visible.Bids = sortMap(r.bids, true, r.depth)
	r.visible.Asks = sortMap(r.asks, false, r.depth)
	return true
}

func mergeLevels(side map[float64]float64, levels []models.PriceLevel) {
	for _, lvl := range levels {
		if lvl.Size == 0 {
			delete(side, lvl.Price)
			continue
		}
		side[lvl.Price] = lvl.Size
	}
}

// Book returns a copy of the current visible state.
func (r *Reconstructor) Book() models.OrderBook {
	out := models.OrderBook{Exchange: r.exchange, Symbol: r.symbol}
	out.Bids = append(models.BookSide(nil), r.visible.Bids...)
	out.Asks = append(models.BookSide(nil), r.visible.Asks...)
	return out
}

func sortSide(levels []models.PriceLevel, descending bool, depth int) models.BookSide {
	out := append(models.BookSide(nil), levels...)
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > depth {
		out = out[:depth]
	}
	return out
}

func sortMap(side map[float64]float64, descending bool, depth int) models.BookSide {
	out := make(models.BookSide, 0, len(side))
	for price, size := range side {
		out = append(out, models.PriceLevel{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > depth {
		out = out[:depth]
	}
	return out
}
