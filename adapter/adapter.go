package adapter

import (
	"context"
	"fmt"
	"strings"

	"marketfeed/models"
)

// TokenSource issues connection targets for exchanges whose websocket
// endpoint requires a token round trip before dialing (Kucoin style).
type TokenSource interface {
	WebsocketURL(ctx context.Context) (string, error)
}

// Adapter is a pure data-transformation unit for one exchange. It builds
// connection targets and subscribe requests and parses historical and
// streaming payloads into canonical shapes. Implementations hold no
// connection state and perform no I/O except StreamTarget, which may need
// a token-issuing round trip through its TokenSource.
type Adapter interface {
	// Name returns the canonical lower-case exchange name.
	Name() string

	// StreamTarget resolves the websocket URL for a symbol and kind.
	StreamTarget(ctx context.Context, symbol string, kind models.Kind) (string, error)

	// SubscribeRequest returns the outbound message to send right after
	// the connection opens, or nil when the target alone subscribes the
	// stream implicitly.
	SubscribeRequest(symbol string, kind models.Kind) []byte

	// ParseHistory converts an exchange-native historical payload into
	// candles ordered oldest first. Unparsable entries are dropped, not
	// fatal; only an undecodable payload returns an error.
	ParseHistory(raw []byte) ([]models.Candle, error)

	// ParseCandleFrame extracts a candle from a stream frame. ok is false
	// for heartbeats, acks and frames belonging to other channels; such
	// frames are ignored, never surfaced as errors.
	ParseCandleFrame(frame []byte) (models.Candle, bool)

	// ParseBookFrame extracts a book update from a stream frame. ok is
	// false for non-data frames.
	ParseBookFrame(frame []byte) (models.BookUpdate, bool)

	// MergeMode declares whether book frames are self-contained or need
	// snapshot+delta reconstruction.
	MergeMode() models.BookMode
}

// Registry resolves adapters by exchange name. An adapter is resolved once
// per subscription and shared freely afterwards; all implementations are
// stateless and safe for concurrent use.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry covering every supported exchange. tokens
// is required by the Kucoin adapter for its endpoint round trip.
func NewRegistry(tokens TokenSource) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range []Adapter{
		NewBinance(),
		NewBitget(),
		NewKucoin(tokens),
		NewBybit(),
		NewCoinex(),
		NewParadex(),
		NewHyperliquid(),
	} {
		r.adapters[a.Name()] = a
	}
	return r
}

// Resolve returns the adapter for the named exchange.
func (r *Registry) Resolve(exchange string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(exchange))]
	if !ok {
		return nil, fmt.Errorf("unsupported exchange %q", exchange)
	}
	return a, nil
}

// Exchanges lists the registered exchange names.
func (r *Registry) Exchanges() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
