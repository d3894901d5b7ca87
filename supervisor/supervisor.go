package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketfeed/adapter"
	"marketfeed/logger"
	"marketfeed/models"

	"github.com/gorilla/websocket"
)

const (
	defaultMaxRetries = 3
	defaultDelayUnit  = time.Second
	pingInterval      = 20 * time.Second
)

// FrameHandler receives every raw frame read from the exchange stream.
type FrameHandler func(raw []byte)

// StateHandler is notified on every connection state transition.
type StateHandler func(state models.ConnectionState)

// Options tunes the reconnect policy of a Supervisor.
type Options struct {
	MaxRetries int
	DelayUnit  time.Duration
	OnState    StateHandler
}

// Supervisor owns the websocket connection for a single subscription.
// It resolves the stream target through the exchange adapter, dials,
// subscribes, and forwards raw frames to the handler. When the
// connection drops it reconnects with a linearly growing delay, up to
// a bounded number of attempts.
type Supervisor struct {
	sub     models.Subscription
	adapter adapter.Adapter
	dialer  Dialer
	frames  FrameHandler
	onState StateHandler

	maxRetries int
	delayUnit  time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	closed  bool
	conn    Conn
	state   models.ConnectionState
	log     *logger.Log
}

// New creates a supervisor for one subscription. A nil dialer falls
// back to the production gorilla dialer.
func New(sub models.Subscription, adp adapter.Adapter, dialer Dialer, frames FrameHandler, opts Options) *Supervisor {
	if dialer == nil {
		dialer = NewWSDialer(0)
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	delayUnit := opts.DelayUnit
	if delayUnit <= 0 {
		delayUnit = defaultDelayUnit
	}
	return &Supervisor{
		sub:        sub,
		adapter:    adp,
		dialer:     dialer,
		frames:     frames,
		onState:    opts.OnState,
		maxRetries: maxRetries,
		delayUnit:  delayUnit,
		wg:         &sync.WaitGroup{},
		state:      models.ConnectionState{Status: models.StatusIdle},
		log:        logger.GetLogger(),
	}
}

// Start launches the connection loop. It returns an error if the
// supervisor is already running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already closed for %s", s.sub)
	}
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already running for %s", s.sub)
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.WithComponent(s.component()).WithFields(logger.Fields{
		"subscription": s.sub.String(),
	}).Info("starting stream supervisor")

	go s.run()
	return nil
}

// Stop cancels the connection loop and waits for it to finish. The
// final state is always Closed, regardless of what the loop was doing
// when the stop arrived. Stopping a supervisor that was never started
// still closes it, so a racing Start cannot open a stream afterwards.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.running = false
	cancel := s.cancel
	conn := s.conn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = models.ConnectionState{Status: models.StatusClosed}
	onState := s.onState
	state := s.state
	s.mu.Unlock()

	if onState != nil {
		onState(state)
	}
	s.log.WithComponent(s.component()).WithFields(logger.Fields{
		"subscription": s.sub.String(),
	}).Info("stream supervisor stopped")
}

// State returns the current connection state.
func (s *Supervisor) State() models.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) component() string {
	if s.sub.Kind == models.KindCandles {
		return "candle_supervisor"
	}
	return "book_supervisor"
}

// setState records a transition unless the supervisor has been closed
// or its context cancelled. Stop owns the Closed transition and nothing
// may follow it, including transitions from operations that were
// already in flight when the stop arrived.
func (s *Supervisor) setState(state models.ConnectionState) {
	s.mu.Lock()
	if s.closed || (s.ctx != nil && s.ctx.Err() != nil) {
		s.mu.Unlock()
		return
	}
	s.state = state
	onState := s.onState
	s.mu.Unlock()

	if onState != nil {
		onState(state)
	}
}

func (s *Supervisor) run() {
	defer s.wg.Done()

	log := s.log.WithComponent(s.component()).WithFields(logger.Fields{
		"subscription": s.sub.String(),
	})

	retries := 0
	for {
		if s.ctx.Err() != nil {
			return
		}

		s.setState(models.ConnectionState{Status: models.StatusConnecting, Retries: retries})

		target, err := s.adapter.StreamTarget(s.ctx, s.sub.Symbol, s.sub.Kind)
		if err != nil {
			// Target resolution failures are not transient: the
			// token broker rejected us or the symbol cannot be
			// mapped. Retrying would fail the same way.
			log.WithError(err).Error("failed to resolve stream target")
			s.setState(models.ConnectionState{Status: models.StatusError, Retries: retries})
			s.setState(models.ConnectionState{Status: models.StatusOffline, Retries: retries})
			return
		}

		conn, err := s.dialer.DialContext(s.ctx, target)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("failed to connect websocket")
			if !s.waitRetry(&retries, log) {
				return
			}
			continue
		}

		// A stop may have arrived while the dial was in flight. The
		// connection belongs to nobody then: discard it.
		if s.ctx.Err() != nil {
			conn.Close()
			return
		}

		if req := s.adapter.SubscribeRequest(s.sub.Symbol, s.sub.Kind); req != nil {
			if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
				conn.Close()
				log.WithError(err).Warn("failed to send subscribe request")
				if !s.waitRetry(&retries, log) {
					return
				}
				continue
			}
		}

		s.mu.Lock()
		if s.closed || s.ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.mu.Unlock()

		s.setState(models.ConnectionState{Status: models.StatusOnline})
		retries = 0
		log.Info("stream online")

		s.readLoop(conn, log)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}
		if !s.waitRetry(&retries, log) {
			return
		}
	}
}

// readLoop pumps frames until the connection fails or the context is
// cancelled. A keepalive ping is written on a fixed interval so idle
// streams are not dropped by intermediaries.
func (s *Supervisor) readLoop(conn Conn, log *logger.Entry) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-s.ctx.Done():
				// Unblocks the pending ReadMessage so the loop exits
				// even when the connection was registered after Stop
				// captured its snapshot.
				conn.Close()
				return
			case <-ticker.C:
				conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()
	defer close(done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if s.ctx.Err() == nil {
				log.WithError(err).Warn("websocket read error, reconnecting")
			}
			return
		}
		if s.ctx.Err() != nil {
			conn.Close()
			return
		}
		if s.sub.Kind == models.KindCandles {
			logger.IncrementCandleFrame(len(msg))
		} else {
			logger.IncrementBookFrame(len(msg))
		}
		if s.frames != nil {
			s.frames(msg)
		}
	}
}

// waitRetry advances the retry counter and sleeps for the backoff
// delay. It returns false when the retry budget is exhausted or the
// context was cancelled, in which case the loop must exit.
func (s *Supervisor) waitRetry(retries *int, log *logger.Entry) bool {
	*retries++
	if *retries > s.maxRetries {
		log.WithFields(logger.Fields{"retries": *retries - 1}).Error("retry budget exhausted, giving up")
		s.setState(models.ConnectionState{Status: models.StatusOffline, Retries: *retries - 1})
		return false
	}

	delay := time.Duration(*retries) * s.delayUnit
	logger.IncrementReconnect()
	log.WithFields(logger.Fields{
		"retry": *retries,
		"delay": delay.Milliseconds(),
	}).Warn("reconnecting after delay")
	s.setState(models.ConnectionState{
		Status:         models.StatusReconnectWait,
		Retries:        *retries,
		NextRetryDelay: delay,
	})

	select {
	case <-time.After(delay):
		return true
	case <-s.ctx.Done():
		return false
	}
}
