package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"marketfeed/feed"
	"marketfeed/logger"
	"marketfeed/metrics"
	"marketfeed/models"

	"github.com/gorilla/websocket"
)

const defaultDepth = 15

// Command is a client request on the gateway socket.
type Command struct {
	Action   string `json:"action"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

// BookPayload is the depth update pushed to gateway clients. Bids and
// asks are [price, size] pairs, best first.
type BookPayload struct {
	Exchange string      `json:"exchange"`
	Symbol   string      `json:"symbol"`
	Bids     [][]float64 `json:"b"`
	Asks     [][]float64 `json:"a"`
}

// errorFrame is returned when a command cannot be served.
type errorFrame struct {
	Error string `json:"error"`
}

// Server fans normalized order book updates out to websocket clients.
// Each client manages its own subscription set through subscribe and
// unsubscribe commands; the server shares upstream exchange streams
// across clients via the feed manager.
type Server struct {
	manager  *feed.Manager
	cache    *Cache
	met      *metrics.Metrics
	depth    int
	upgrader websocket.Upgrader
	log      *logger.Log

	mu      sync.Mutex
	clients int
}

// NewServer creates a gateway server. The cache and metrics handles
// may be nil.
func NewServer(manager *feed.Manager, cache *Cache, met *metrics.Metrics, depth int) *Server {
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Server{
		manager: manager,
		cache:   cache,
		met:     met,
		depth:   depth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.GetLogger(),
	}
}

// session is the per-client connection state.
type session struct {
	srv     *Server
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[models.Subscription]string
	log     *logger.Entry
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithComponent("gateway").WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess := &session{
		srv:  s,
		conn: conn,
		subs: make(map[models.Subscription]string),
		log: s.log.WithComponent("gateway").WithFields(logger.Fields{
			"remote": conn.RemoteAddr().String(),
		}),
	}

	s.mu.Lock()
	s.clients++
	s.met.SetGatewayClients(s.clients)
	s.mu.Unlock()
	sess.log.Info("gateway client connected")

	sess.readLoop(r.Context())

	sess.cleanup()
	s.mu.Lock()
	s.clients--
	s.met.SetGatewayClients(s.clients)
	s.mu.Unlock()
	sess.log.Info("gateway client disconnected")
}

func (sess *session) readLoop(ctx context.Context) {
	for {
		var cmd Command
		if err := sess.conn.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Action {
		case "subscribe":
			sess.subscribe(ctx, cmd)
		case "unsubscribe":
			sess.unsubscribe(cmd)
		default:
			sess.log.WithFields(logger.Fields{"action": cmd.Action}).Warn("unknown gateway command")
			sess.writeJSON(errorFrame{Error: "unknown action"})
		}
	}
}

func (sess *session) subscribe(ctx context.Context, cmd Command) {
	sub := models.NewSubscription(cmd.Exchange, cmd.Symbol, models.KindBook)
	if _, ok := sess.subs[sub]; ok {
		return
	}

	// Serve the last cached book right away so the client is not
	// staring at an empty ladder while the stream warms up.
	if sess.srv.cache != nil {
		if payload, ok := sess.srv.cache.Load(ctx, sub.Exchange, sub.Symbol); ok {
			sess.write(payload)
		}
	}

	id, err := sess.srv.manager.Subscribe(sub, feed.Consumer{
		OnBook: func(s models.Subscription, b models.OrderBook) {
			sess.pushBook(s, b)
		},
	})
	if err != nil {
		sess.log.WithError(err).WithFields(logger.Fields{
			"exchange": cmd.Exchange,
			"symbol":   cmd.Symbol,
		}).Warn("subscribe rejected")
		sess.writeJSON(errorFrame{Error: err.Error()})
		return
	}
	sess.subs[sub] = id
}

func (sess *session) unsubscribe(cmd Command) {
	sub := models.NewSubscription(cmd.Exchange, cmd.Symbol, models.KindBook)
	id, ok := sess.subs[sub]
	if !ok {
		return
	}
	delete(sess.subs, sub)
	sess.srv.manager.Unsubscribe(sub, id)
}

func (sess *session) cleanup() {
	for sub, id := range sess.subs {
		sess.srv.manager.Unsubscribe(sub, id)
	}
	sess.subs = make(map[models.Subscription]string)
	sess.conn.Close()
}

func (sess *session) pushBook(sub models.Subscription, b models.OrderBook) {
	payload := payloadFromBook(sub, b, sess.srv.depth)
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	sess.write(data)
	logger.IncrementGatewayPush(len(data))
	if sess.srv.cache != nil {
		sess.srv.cache.Store(context.Background(), sub.Exchange, sub.Symbol, data)
	}
}

func (sess *session) write(data []byte) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	sess.conn.WriteMessage(websocket.TextMessage, data)
}

func (sess *session) writeJSON(v interface{}) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	sess.conn.WriteJSON(v)
}

func payloadFromBook(sub models.Subscription, b models.OrderBook, depth int) BookPayload {
	return BookPayload{
		Exchange: sub.Exchange,
		Symbol:   sub.Symbol,
		Bids:     sidePairs(b.Bids, depth),
		Asks:     sidePairs(b.Asks, depth),
	}
}

func sidePairs(side models.BookSide, depth int) [][]float64 {
	if len(side) > depth {
		side = side[:depth]
	}
	out := make([][]float64, 0, len(side))
	for _, lvl := range side {
		out = append(out, []float64{lvl.Price, lvl.Size})
	}
	return out
}
