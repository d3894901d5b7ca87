package adapter

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"marketfeed/models"
)

// normTime converts an exchange timestamp to whole unix seconds. Exchanges
// disagree on epoch units; the guard is uniform across adapters: values
// above 1e11 are milliseconds, values above 1e9 are already seconds, and
// anything else is passed through unscaled.
func normTime(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	if v > 1e11 {
		return int64(v / 1000)
	}
	return int64(v)
}

// numeric coerces a JSON scalar that may arrive as a number or a quoted
// string into a float64.
func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// candleFromRow builds a candle from a positional wire row. The index
// arguments name which element holds each field since exchanges disagree
// on ordering (CoinEx interleaves close before high/low). ok is false when
// any field fails to coerce.
func candleFromRow(row []interface{}, ti, oi, hi, li, ci int) (models.Candle, bool) {
	need := ti
	for _, i := range []int{oi, hi, li, ci} {
		if i > need {
			need = i
		}
	}
	if len(row) <= need {
		return models.Candle{}, false
	}
	t, ok := numeric(row[ti])
	if !ok {
		return models.Candle{}, false
	}
	o, ok1 := numeric(row[oi])
	h, ok2 := numeric(row[hi])
	l, ok3 := numeric(row[li])
	c, ok4 := numeric(row[ci])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return models.Candle{}, false
	}
	ts := normTime(t)
	if ts == 0 {
		return models.Candle{}, false
	}
	return models.Candle{Time: ts, Open: o, High: h, Low: l, Close: c}, true
}

// levelsFromPairs converts [[price, size], ...] rows into price levels,
// dropping malformed rows.
func levelsFromPairs(pairs [][]string) []models.PriceLevel {
	if len(pairs) == 0 {
		return nil
	}
	out := make([]models.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(p[0], 64)
		size, err2 := strconv.ParseFloat(p[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, models.PriceLevel{Price: price, Size: size})
	}
	return out
}

// sortCandles orders candles ascending by time in place. Some exchanges
// return history newest first or unsorted.
func sortCandles(cs []models.Candle) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Time < cs[j].Time })
}
