package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketfeed/adapter"
	"marketfeed/book"
	"marketfeed/candles"
	"marketfeed/logger"
	"marketfeed/metrics"
	"marketfeed/models"
	"marketfeed/supervisor"

	"github.com/google/uuid"
)

// HistorySource fetches historical candle payloads. The proxy client
// is the production implementation.
type HistorySource interface {
	Klines(ctx context.Context, exchange, symbol, interval string, limit int) ([]byte, error)
}

// Consumer receives normalized updates for one subscription. Any nil
// callback is skipped.
type Consumer struct {
	OnCandles func(sub models.Subscription, series []models.Candle)
	OnBook    func(sub models.Subscription, b models.OrderBook)
	OnState   func(sub models.Subscription, state models.ConnectionState)
}

// Config holds feed manager settings.
type Config struct {
	CandleInterval string
	CandleLimit    int
	BookDepth      int
	MaxRetries     int
	DelayUnit      time.Duration
	Dialer         supervisor.Dialer
}

// Manager multiplexes exchange streams across consumers. Each unique
// (exchange, symbol, kind) subscription is backed by exactly one
// supervised connection, shared by every consumer attached to it. The
// connection is closed when the last consumer detaches.
type Manager struct {
	registry *adapter.Registry
	history  HistorySource
	met      *metrics.Metrics
	cfg      Config

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	running bool
	feeds   map[models.Subscription]*feedState
	log     *logger.Log
}

type feedState struct {
	sub models.Subscription
	sup *supervisor.Supervisor
	adp adapter.Adapter

	mu        sync.RWMutex
	agg       *candles.Aggregator
	rec       *book.Reconstructor
	consumers map[string]Consumer
}

// NewManager creates a feed manager. The metrics handle may be nil.
func NewManager(registry *adapter.Registry, history HistorySource, met *metrics.Metrics, cfg Config) *Manager {
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "1m"
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 300
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = 15
	}
	return &Manager{
		registry: registry,
		history:  history,
		met:      met,
		cfg:      cfg,
		feeds:    make(map[models.Subscription]*feedState),
		log:      logger.GetLogger(),
	}
}

// Start makes the manager accept subscriptions.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("feed manager already running")
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.log.WithComponent("feed_manager").Info("feed manager started")
	return nil
}

// Stop detaches all consumers and closes every stream.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	feeds := make([]*feedState, 0, len(m.feeds))
	for _, fs := range m.feeds {
		feeds = append(feeds, fs)
	}
	m.feeds = make(map[models.Subscription]*feedState)
	cancel := m.cancel
	m.mu.Unlock()

	for _, fs := range feeds {
		fs.sup.Stop()
	}
	if cancel != nil {
		cancel()
	}
	m.met.SetActiveSubscriptions(0)
	m.log.WithComponent("feed_manager").Info("feed manager stopped")
}

// Subscribe attaches a consumer to a subscription, opening the
// underlying stream if this is the first consumer. It returns the
// consumer id used to detach later. If the feed already holds data,
// the consumer immediately receives the current snapshot.
func (m *Manager) Subscribe(sub models.Subscription, c Consumer) (string, error) {
	if !sub.Kind.Valid() {
		return "", fmt.Errorf("invalid subscription kind %q", sub.Kind)
	}
	adp, err := m.registry.Resolve(sub.Exchange)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return "", fmt.Errorf("feed manager is not running")
	}

	id := uuid.NewString()
	fs, ok := m.feeds[sub]
	if !ok {
		fs = m.newFeedState(sub, adp)
		m.feeds[sub] = fs
		m.met.SetActiveSubscriptions(len(m.feeds))
		m.mu.Unlock()

		fs.mu.Lock()
		fs.consumers[id] = c
		fs.mu.Unlock()

		go m.openFeed(fs)
	} else {
		m.mu.Unlock()

		fs.mu.Lock()
		fs.consumers[id] = c
		var series []models.Candle
		var snapshot models.OrderBook
		haveBook := false
		if fs.agg != nil && fs.agg.Len() > 0 {
			series = fs.agg.Series()
		}
		if fs.rec != nil {
			if b := fs.rec.Book(); len(b.Bids) > 0 || len(b.Asks) > 0 {
				snapshot = b
				haveBook = true
			}
		}
		fs.mu.Unlock()

		if series != nil && c.OnCandles != nil {
			c.OnCandles(sub, series)
		}
		if haveBook && c.OnBook != nil {
			c.OnBook(sub, snapshot)
		}
	}

	m.log.WithComponent("feed_manager").WithFields(logger.Fields{
		"subscription": sub.String(),
		"consumer":     id,
	}).Info("consumer attached")
	return id, nil
}

// Unsubscribe detaches a consumer. The stream is closed when no
// consumers remain.
func (m *Manager) Unsubscribe(sub models.Subscription, id string) {
	m.mu.Lock()
	fs, ok := m.feeds[sub]
	if !ok {
		m.mu.Unlock()
		return
	}

	fs.mu.Lock()
	delete(fs.consumers, id)
	remaining := len(fs.consumers)
	fs.mu.Unlock()

	if remaining > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.feeds, sub)
	m.met.SetActiveSubscriptions(len(m.feeds))
	m.mu.Unlock()

	fs.sup.Stop()
	m.log.WithComponent("feed_manager").WithFields(logger.Fields{
		"subscription": sub.String(),
	}).Info("last consumer detached, stream closed")
}

// State reports the connection state for a subscription.
func (m *Manager) State(sub models.Subscription) (models.ConnectionState, bool) {
	m.mu.RLock()
	fs, ok := m.feeds[sub]
	m.mu.RUnlock()
	if !ok {
		return models.ConnectionState{}, false
	}
	return fs.sup.State(), true
}

// Subscriptions lists the currently open subscriptions.
func (m *Manager) Subscriptions() []models.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Subscription, 0, len(m.feeds))
	for sub := range m.feeds {
		out = append(out, sub)
	}
	return out
}

func (m *Manager) newFeedState(sub models.Subscription, adp adapter.Adapter) *feedState {
	fs := &feedState{
		sub:       sub,
		adp:       adp,
		consumers: make(map[string]Consumer),
	}
	switch sub.Kind {
	case models.KindCandles:
		fs.agg = candles.New(m.cfg.CandleLimit)
	case models.KindBook:
		fs.rec = book.New(sub.Exchange, sub.Symbol, adp.MergeMode(), m.cfg.BookDepth)
	}

	fs.sup = supervisor.New(sub, adp, m.cfg.Dialer, func(raw []byte) {
		m.handleFrame(fs, raw)
	}, supervisor.Options{
		MaxRetries: m.cfg.MaxRetries,
		DelayUnit:  m.cfg.DelayUnit,
		OnState: func(state models.ConnectionState) {
			if state.Status == models.StatusReconnectWait {
				m.met.RecordReconnect(sub.Exchange)
			}
			fs.fanOutState(state)
		},
	})
	return fs
}

// openFeed bootstraps candle history and then starts the supervised
// stream. A bootstrap failure is not fatal: the series simply builds
// from live frames.
func (m *Manager) openFeed(fs *feedState) {
	if fs.sub.Kind == models.KindCandles && m.history != nil {
		m.bootstrap(fs)
	}
	// The last consumer may have detached while the bootstrap fetch was
	// in flight. Stop already closed the supervisor then and Start
	// refuses to open a stream for it.
	if err := fs.sup.Start(m.ctx); err != nil {
		m.log.WithComponent("feed_manager").WithError(err).WithFields(logger.Fields{
			"subscription": fs.sub.String(),
		}).Warn("stream supervisor not started")
	}
}

func (m *Manager) bootstrap(fs *feedState) {
	log := m.log.WithComponent("candle_feed").WithFields(logger.Fields{
		"subscription": fs.sub.String(),
	})

	start := time.Now()
	raw, err := m.history.Klines(m.ctx, fs.sub.Exchange, fs.sub.Symbol, m.cfg.CandleInterval, m.cfg.CandleLimit)
	if err != nil {
		log.WithError(err).Warn("history fetch failed, streaming from scratch")
		return
	}
	series, err := fs.adp.ParseHistory(raw)
	if err != nil {
		log.WithError(err).Warn("history parse failed, streaming from scratch")
		return
	}
	m.met.ObserveBootstrap(time.Since(start).Seconds())

	fs.mu.Lock()
	fs.agg.Bootstrap(series)
	snapshot := fs.agg.Series()
	fs.mu.Unlock()

	log.WithFields(logger.Fields{"candles": len(snapshot)}).Info("candle history bootstrapped")
	fs.fanOutCandles(snapshot)
}

func (m *Manager) handleFrame(fs *feedState, raw []byte) {
	switch fs.sub.Kind {
	case models.KindCandles:
		candle, ok := fs.adp.ParseCandleFrame(raw)
		if !ok {
			return
		}
		m.met.RecordFrame(fs.sub.Exchange, "candles")

		fs.mu.Lock()
		accepted := fs.agg.Apply(candle)
		var snapshot []models.Candle
		if accepted {
			snapshot = fs.agg.Series()
		}
		fs.mu.Unlock()

		if !accepted {
			m.met.RecordDrop(fs.sub.Exchange, "stale")
			logger.IncrementDroppedFrame()
			return
		}
		fs.fanOutCandles(snapshot)

	case models.KindBook:
		update, ok := fs.adp.ParseBookFrame(raw)
		if !ok {
			return
		}
		m.met.RecordFrame(fs.sub.Exchange, "book")

		fs.mu.Lock()
		changed := fs.rec.Apply(update)
		var snapshot models.OrderBook
		if changed {
			snapshot = fs.rec.Book()
		}
		fs.mu.Unlock()

		if !changed {
			return
		}
		fs.fanOutBook(snapshot)
	}
}

func (fs *feedState) fanOutCandles(series []models.Candle) {
	fs.mu.RLock()
	consumers := make([]Consumer, 0, len(fs.consumers))
	for _, c := range fs.consumers {
		consumers = append(consumers, c)
	}
	fs.mu.RUnlock()
	for _, c := range consumers {
		if c.OnCandles != nil {
			c.OnCandles(fs.sub, series)
		}
	}
}

func (fs *feedState) fanOutBook(b models.OrderBook) {
	fs.mu.RLock()
	consumers := make([]Consumer, 0, len(fs.consumers))
	for _, c := range fs.consumers {
		consumers = append(consumers, c)
	}
	fs.mu.RUnlock()
	for _, c := range consumers {
		if c.OnBook != nil {
			c.OnBook(fs.sub, b)
		}
	}
}

func (fs *feedState) fanOutState(state models.ConnectionState) {
	fs.mu.RLock()
	consumers := make([]Consumer, 0, len(fs.consumers))
	for _, c := range fs.consumers {
		consumers = append(consumers, c)
	}
	fs.mu.RUnlock()
	for _, c := range consumers {
		if c.OnState != nil {
			c.OnState(fs.sub, state)
		}
	}
}
