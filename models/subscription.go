package models

import (
	"fmt"
	"strings"
	"time"
)

// Subscription identifies one (exchange, symbol, kind) stream. It is the
// unit of connection lifecycle: at most one live connection and one
// canonical state object exist per key.
type Subscription struct {
	Exchange string
	Symbol   string
	Kind     Kind
}

// NewSubscription builds a normalized subscription key. Exchange names are
// lower-cased and symbols upper-cased so the same market never produces two
// keys.
func NewSubscription(exchange, symbol string, kind Kind) Subscription {
	return Subscription{
		Exchange: strings.ToLower(strings.TrimSpace(exchange)),
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Kind:     kind,
	}
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s:%s:%s", s.Exchange, s.Symbol, s.Kind)
}

// Status is the externally observable connection state of a subscription.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusConnecting    Status = "connecting"
	StatusOnline        Status = "online"
	StatusReconnectWait Status = "reconnect_wait"
	StatusError         Status = "error"
	StatusOffline       Status = "offline"
	StatusClosed        Status = "closed"
)

// ConnectionState is pushed to observers on every transition. Failure is
// always expressed as state, never as an error unwinding the consumer.
type ConnectionState struct {
	Status         Status
	Retries        int
	NextRetryDelay time.Duration
}
