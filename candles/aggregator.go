// Package candles folds historical and streaming candle events into one
// canonical, time-monotonic series per subscription.
package candles

import (
	"sort"

	"marketfeed/models"
)

// defaultMaxSeries bounds how many candles a long-lived subscription
// retains; the oldest are trimmed once the bound is exceeded.
const defaultMaxSeries = 300

// Aggregator owns one candle series. It is not safe for concurrent use;
// the supervisor guarantees all events for a subscription arrive from a
// single goroutine.
type Aggregator struct {
	series    []models.Candle
	watermark int64
	maxSeries int
}

// New creates an aggregator retaining at most maxSeries candles. Values
// below one select the default bound.
func New(maxSeries int) *Aggregator {
	if maxSeries < 1 {
		maxSeries = defaultMaxSeries
	}
	return &Aggregator{maxSeries: maxSeries}
}

// Bootstrap seeds the series from historical candles. The input is sorted
// ascending defensively since several exchanges return history unsorted or
// newest first. The last candle's time becomes the monotonic watermark.
// Any previously held state is discarded.
func (a *Aggregator) Bootstrap(history []models.Candle) {
	series := make([]models.Candle, len(history))
	copy(series, history)
	sort.Slice(series, func(i, j int) bool { return series[i].Time < series[j].Time })
	if len(series) > a.maxSeries {
		series = series[len(series)-a.maxSeries:]
	}
	a.series = series
	a.watermark = 0
	if len(series) > 0 {
		a.watermark = series[len(series)-1].Time
	}
}

// Apply folds one streaming candle into the series. Events older than the
// watermark are stale and dropped; an event at the watermark replaces the
// last candle (same-period update); a newer event appends and advances the
// watermark. The returned bool reports whether the event was accepted.
func (a *Aggregator) Apply(c models.Candle) bool {
	if c.Time <= 0 || c.Time < a.watermark {
		return false
	}
	if c.Time == a.watermark && len(a.series) > 0 {
		a.series[len(a.series)-1] = c
		return true
	}
	a.series = append(a.series, c)
	a.watermark = c.Time
	if len(a.series) > a.maxSeries {
		a.series = a.series[len(a.series)-a.maxSeries:]
	}
	return true
}

// Watermark returns the most recently accepted timestamp.
func (a *Aggregator) Watermark() int64 { return a.watermark }

// Len returns the current series length.
func (a *Aggregator) Len() int { return len(a.series) }

// Last returns the newest candle. ok is false on an empty series.
func (a *Aggregator) Last() (models.Candle, bool) {
	if len(a.series) == 0 {
		return models.Candle{}, false
	}
	return a.series[len(a.series)-1], true
}

// Series returns a copy of the canonical series, oldest first. Consumers
// may hold the slice without racing subsequent updates.
func (a *Aggregator) Series() []models.Candle {
	out := make([]models.Candle, len(a.series))
	copy(out, a.series)
	return out
}
