package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketfeed/models"
)

type fakeAdapter struct {
	target    string
	targetErr error
	subscribe []byte
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) StreamTarget(ctx context.Context, symbol string, kind models.Kind) (string, error) {
	return a.target, a.targetErr
}

func (a *fakeAdapter) SubscribeRequest(symbol string, kind models.Kind) []byte {
	return a.subscribe
}

func (a *fakeAdapter) ParseHistory(raw []byte) ([]models.Candle, error) { return nil, nil }

func (a *fakeAdapter) ParseCandleFrame(frame []byte) (models.Candle, bool) {
	return models.Candle{}, false
}

func (a *fakeAdapter) ParseBookFrame(frame []byte) (models.BookUpdate, bool) {
	return models.BookUpdate{}, false
}

func (a *fakeAdapter) MergeMode() models.BookMode { return models.BookModeReplace }

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed chan struct{}
	once   sync.Once
	writes [][]byte
}

func newFakeConn(frames ...[]byte) *fakeConn {
	return &fakeConn{frames: frames, closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if len(c.frames) > 0 {
		msg := c.frames[0]
		c.frames = c.frames[1:]
		c.mu.Unlock()
		return 1, msg, nil
	}
	c.mu.Unlock()
	<-c.closed
	return 0, nil, errors.New("connection closed")
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fails int
	dials int
}

func (d *fakeDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("dial refused")
	}
	if len(d.conns) == 0 {
		return nil, errors.New("dial refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// blockingDialer holds the dial until released, ignoring the context,
// so tests can resolve a dial after a stop has already been issued.
type blockingDialer struct {
	conn    *fakeConn
	release chan struct{}
	started chan struct{}
}

func (d *blockingDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	close(d.started)
	<-d.release
	return d.conn, nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []models.ConnectionState
}

func (r *stateRecorder) record(state models.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) snapshot() []models.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ConnectionState, len(r.states))
	copy(out, r.states)
	return out
}

func waitForStatus(t *testing.T, s *Supervisor, want models.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s, have %s", want, s.State().Status)
}

func testSub(kind models.Kind) models.Subscription {
	return models.NewSubscription("fake", "BTCUSDT", kind)
}

func TestConnectAndDeliverFrames(t *testing.T) {
	conn := newFakeConn([]byte("frame-1"), []byte("frame-2"))
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	adp := &fakeAdapter{target: "wss://fake", subscribe: []byte(`{"op":"subscribe"}`)}

	var mu sync.Mutex
	var got [][]byte
	sup := New(testSub(models.KindCandles), adp, dialer, func(raw []byte) {
		mu.Lock()
		got = append(got, raw)
		mu.Unlock()
	}, Options{DelayUnit: time.Millisecond})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	waitForStatus(t, sup, models.StatusOnline)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || string(got[0]) != "frame-1" || string(got[1]) != "frame-2" {
		t.Fatalf("unexpected frames: %v", got)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.writes) == 0 || string(conn.writes[0]) != `{"op":"subscribe"}` {
		t.Fatalf("subscribe request not sent: %v", conn.writes)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	dialer := &fakeDialer{}
	adp := &fakeAdapter{target: "wss://fake"}
	rec := &stateRecorder{}

	sup := New(testSub(models.KindBook), adp, dialer, nil, Options{
		MaxRetries: 3,
		DelayUnit:  time.Millisecond,
		OnState:    rec.record,
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStatus(t, sup, models.StatusOffline)
	sup.Stop()

	// Initial attempt plus three retries.
	if got := dialer.dialCount(); got != 4 {
		t.Fatalf("dial count = %d, want 4", got)
	}

	states := rec.snapshot()
	var delays []time.Duration
	for _, st := range states {
		if st.Status == models.StatusReconnectWait {
			delays = append(delays, st.NextRetryDelay)
		}
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}
	if fmt.Sprint(delays) != fmt.Sprint(want) {
		t.Fatalf("retry delays = %v, want %v", delays, want)
	}
}

func TestTargetResolutionFailure(t *testing.T) {
	dialer := &fakeDialer{}
	adp := &fakeAdapter{targetErr: errors.New("token broker unavailable")}
	rec := &stateRecorder{}

	sup := New(testSub(models.KindCandles), adp, dialer, nil, Options{
		DelayUnit: time.Millisecond,
		OnState:   rec.record,
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStatus(t, sup, models.StatusOffline)
	sup.Stop()

	if got := dialer.dialCount(); got != 0 {
		t.Fatalf("dialed %d times, want 0", got)
	}

	sawError := false
	for _, st := range rec.snapshot() {
		if st.Status == models.StatusError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected an Error transition before Offline: %v", rec.snapshot())
	}
}

func TestStopDuringReconnectWait(t *testing.T) {
	dialer := &fakeDialer{}
	adp := &fakeAdapter{target: "wss://fake"}

	sup := New(testSub(models.KindBook), adp, dialer, nil, Options{
		DelayUnit: time.Hour,
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStatus(t, sup, models.StatusReconnectWait)

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return while waiting on retry delay")
	}

	if got := sup.State().Status; got != models.StatusClosed {
		t.Fatalf("final status = %s, want %s", got, models.StatusClosed)
	}
}

func TestNoTransitionsAfterClosed(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	adp := &fakeAdapter{target: "wss://fake"}
	rec := &stateRecorder{}

	sup := New(testSub(models.KindCandles), adp, dialer, nil, Options{
		DelayUnit: time.Millisecond,
		OnState:   rec.record,
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStatus(t, sup, models.StatusOnline)
	sup.Stop()

	time.Sleep(20 * time.Millisecond)
	states := rec.snapshot()
	if len(states) == 0 || states[len(states)-1].Status != models.StatusClosed {
		t.Fatalf("last state = %v, want Closed", states)
	}
}

func TestStopDuringDialDiscardsConnection(t *testing.T) {
	conn := newFakeConn([]byte("frame"))
	dialer := &blockingDialer{
		conn:    conn,
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	adp := &fakeAdapter{target: "wss://fake", subscribe: []byte(`{"op":"subscribe"}`)}
	rec := &stateRecorder{}

	var mu sync.Mutex
	var frames int
	sup := New(testSub(models.KindCandles), adp, dialer, func(raw []byte) {
		mu.Lock()
		frames++
		mu.Unlock()
	}, Options{DelayUnit: time.Millisecond, OnState: rec.record})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-dialer.started

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(dialer.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return after the dial resolved")
	}

	select {
	case <-conn.closed:
	default:
		t.Fatalf("connection resolved after stop was not closed")
	}

	mu.Lock()
	defer mu.Unlock()
	if frames != 0 {
		t.Fatalf("frame handler invoked %d times after stop", frames)
	}
	for _, st := range rec.snapshot() {
		if st.Status == models.StatusOnline {
			t.Fatalf("went online after stop: %v", rec.snapshot())
		}
	}
	if got := sup.State().Status; got != models.StatusClosed {
		t.Fatalf("final status = %s, want %s", got, models.StatusClosed)
	}
}

func TestStartAfterStopRefused(t *testing.T) {
	dialer := &fakeDialer{}
	sup := New(testSub(models.KindBook), &fakeAdapter{target: "wss://fake"}, dialer, nil, Options{
		DelayUnit: time.Millisecond,
	})

	// Never started: a stop still closes it for good.
	sup.Stop()
	if got := sup.State().Status; got != models.StatusClosed {
		t.Fatalf("status after stop = %s, want %s", got, models.StatusClosed)
	}

	if err := sup.Start(context.Background()); err == nil {
		t.Fatalf("Start succeeded on a closed supervisor")
	}
	time.Sleep(20 * time.Millisecond)
	if got := dialer.dialCount(); got != 0 {
		t.Fatalf("dialed %d times after close, want 0", got)
	}
}

func TestRetriesResetAfterOnline(t *testing.T) {
	first := newFakeConn([]byte("frame"))
	dialer := &fakeDialer{fails: 1, conns: []*fakeConn{first}}
	adp := &fakeAdapter{target: "wss://fake"}
	rec := &stateRecorder{}

	sup := New(testSub(models.KindBook), adp, dialer, nil, Options{
		MaxRetries: 3,
		DelayUnit:  time.Millisecond,
		OnState:    rec.record,
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStatus(t, sup, models.StatusOnline)

	// Drop the live connection and let the reconnect cycle start over.
	first.Close()
	waitForStatus(t, sup, models.StatusOffline)
	sup.Stop()

	// One failed dial, one successful dial, then a fresh budget of
	// three retries after the drop.
	if got := dialer.dialCount(); got != 5 {
		t.Fatalf("dial count = %d, want 5", got)
	}

	for _, st := range rec.snapshot() {
		if st.Status == models.StatusReconnectWait && st.Retries > 3 {
			t.Fatalf("retry counter was not reset: %+v", st)
		}
	}
}
