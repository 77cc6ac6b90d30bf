package collector

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/service/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("conn closed")

type stubAdapter struct {
	exchange entity.ExchangeName
	auth     bool
}

func (a *stubAdapter) Exchange() entity.ExchangeName { return a.exchange }
func (a *stubAdapter) Endpoint() string              { return "stub://" + string(a.exchange) }
func (a *stubAdapter) RequiresAuth() bool            { return a.auth }

func (a *stubAdapter) BuildAuthFrame(entity.Credential) ([]byte, error) { return nil, nil }

func (a *stubAdapter) SubscribeFrames(instruments []entity.Instrument, _ entity.Credential) ([][]byte, error) {
	frames := make([][]byte, 0, len(instruments))
	for _, inst := range instruments {
		frames = append(frames, []byte("sub:"+inst.Symbol()))
	}
	return frames, nil
}

// ParseFrame understands "trade:<seq>" for BTC-USD.
func (a *stubAdapter) ParseFrame(raw []byte) ([]entity.AdapterMessage, error) {
	seq, err := strconv.ParseInt(strings.TrimPrefix(string(raw), "trade:"), 10, 64)
	if err != nil {
		return nil, &entity.ProtocolError{Exchange: a.exchange, Err: err}
	}

	return []entity.AdapterMessage{{
		Kind:     entity.MessageKindTrade,
		Symbol:   "BTC-USD",
		Sequence: null.IntFrom(seq),
		Price:    "100",
		Size:     "1",
		Side:     entity.SideBuy,
	}}, nil
}

func (a *stubAdapter) Instrument(symbol string) (entity.Instrument, bool) {
	inst, err := entity.ParseInstrument(a.exchange, symbol)
	return inst, err == nil
}

type stubConn struct {
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newStubConn(frames ...string) *stubConn {
	c := &stubConn{frames: make(chan []byte, len(frames)), done: make(chan struct{})}
	for _, frame := range frames {
		c.frames <- []byte(frame)
	}
	return c
}

func (c *stubConn) ReadMessage() ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		return nil, errConnClosed
	}
}

func (c *stubConn) WriteMessage([]byte) error { return nil }
func (c *stubConn) Ping() error                { return nil }
func (c *stubConn) SetKeepaliveHandler(func()) {}

func (c *stubConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

type stubDialer struct {
	dials atomic.Int32
	dial  func() (transport.Conn, error)
}

func (d *stubDialer) Dial(context.Context, string) (transport.Conn, error) {
	d.dials.Add(1)
	return d.dial()
}

func failingDialer() *stubDialer {
	return &stubDialer{dial: func() (transport.Conn, error) { return nil, errors.New("connection refused") }}
}

type stubCreds struct {
	err         error
	invalidated atomic.Int32
}

func (c *stubCreds) Credential(context.Context, entity.ExchangeName) (entity.Credential, error) {
	if c.err != nil {
		return entity.Credential{}, c.err
	}
	return entity.Credential{APIKey: "key"}, nil
}

func (c *stubCreds) Invalidate(entity.ExchangeName) {
	c.invalidated.Add(1)
}

type eventLog struct {
	mu     sync.Mutex
	events []entity.MarketEvent
	done   chan struct{}
}

func collect(events <-chan entity.MarketEvent) *eventLog {
	log := &eventLog{done: make(chan struct{})}
	go func() {
		defer close(log.done)
		for event := range events {
			log.mu.Lock()
			log.events = append(log.events, event)
			log.mu.Unlock()
		}
	}()
	return log
}

func (l *eventLog) count(match func(entity.MarketEvent) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, event := range l.events {
		if match(event) {
			n++
		}
	}
	return n
}

func fatalFor(exchange entity.ExchangeName) func(entity.MarketEvent) bool {
	return func(e entity.MarketEvent) bool {
		return e.Kind == entity.EventKindConnectionStatus && e.Exchange == exchange && e.Status.Fatal
	}
}

func tradesFor(exchange entity.ExchangeName) func(entity.MarketEvent) bool {
	return func(e entity.MarketEvent) bool {
		return e.Kind == entity.EventKindTrade && e.Exchange == exchange
	}
}

func fastSession(maxAttempts int) transport.SessionConfig {
	return transport.SessionConfig{
		HeartbeatTimeout: time.Minute,
		PingInterval:     time.Minute,
		Reconnect: transport.ReconnectPolicy{
			MaxAttempts: maxAttempts,
			Factor:      2,
			MinDelay:    time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
			Jitter:      time.Millisecond,
		},
	}
}

func healthOf(s *Supervisor, exchange entity.ExchangeName) LinkHealth {
	for _, h := range s.Health() {
		if h.Exchange == exchange {
			return h
		}
	}
	return LinkHealth{}
}

func btcUSD(exchange entity.ExchangeName) []entity.Instrument {
	return []entity.Instrument{entity.NewInstrument(exchange, "BTC", "USD")}
}

func TestSupervisor_ExhaustedLinkFailsAlone(t *testing.T) {
	good := entity.ExchangeName("good")
	bad := entity.ExchangeName("bad")

	goodDialer := &stubDialer{dial: func() (transport.Conn, error) { return newStubConn("trade:1", "trade:2"), nil }}
	badDialer := failingDialer()

	var transitions atomic.Int32
	sup := NewSupervisor(&stubCreds{}, NewOutput(256, OverflowBlock), WithStatusListener(func(entity.ExchangeName, entity.SessionState) {
		transitions.Add(1)
	}))
	log := collect(sup.Events())

	require.NoError(t, sup.Start(context.Background(), []LinkConfig{
		{Exchange: good, Adapter: &stubAdapter{exchange: good}, Dialer: goodDialer, Instruments: btcUSD(good), Session: fastSession(5)},
		{Exchange: bad, Adapter: &stubAdapter{exchange: bad}, Dialer: badDialer, Instruments: btcUSD(bad), Session: fastSession(5)},
	}))

	require.Eventually(t, func() bool { return log.count(fatalFor(bad)) == 1 }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return log.count(tradesFor(good)) == 2 && healthOf(sup, good).State == entity.SessionStateSubscribed
	}, 5*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, log.count(fatalFor(bad)))
	assert.Equal(t, 0, log.count(fatalFor(good)))
	assert.Equal(t, int32(6), badDialer.dials.Load())
	assert.Equal(t, int32(1), goodDialer.dials.Load())

	badHealth := healthOf(sup, bad)
	assert.True(t, badHealth.Failed)
	assert.Equal(t, entity.SessionStateClosed, badHealth.State)
	assert.Contains(t, badHealth.LastError, entity.ErrReconnectExhausted.Error())
	assert.False(t, healthOf(sup, good).Failed)
	assert.Positive(t, transitions.Load())

	sup.Stop()
	<-log.done
	assert.Equal(t, entity.SessionStateClosed, healthOf(sup, good).State)
}

func TestSupervisor_SharedGenerationSource(t *testing.T) {
	ex := entity.ExchangeName("seeded")
	dialer := &stubDialer{dial: func() (transport.Conn, error) { return newStubConn("trade:1"), nil }}

	sup := NewSupervisor(&stubCreds{}, NewOutput(64, OverflowBlock), WithGenerationSource(transport.NewGenerationSource(1000)))
	log := collect(sup.Events())

	require.NoError(t, sup.Start(context.Background(), []LinkConfig{
		{Exchange: ex, Adapter: &stubAdapter{exchange: ex}, Dialer: dialer, Instruments: btcUSD(ex), Session: fastSession(5)},
	}))
	require.Eventually(t, func() bool { return log.count(tradesFor(ex)) == 1 }, 5*time.Second, 5*time.Millisecond)

	sup.Stop()
	<-log.done

	for _, event := range log.events {
		if event.Kind == entity.EventKindTrade {
			assert.Equal(t, uint64(1001), event.Generation)
		}
	}
}

func TestSupervisor_RecreatesClosedSessions(t *testing.T) {
	ex := entity.ExchangeName("flaky")
	dialer := failingDialer()
	creds := &stubCreds{}

	sup := NewSupervisor(creds, NewOutput(256, OverflowBlock))
	log := collect(sup.Events())

	require.NoError(t, sup.Start(context.Background(), []LinkConfig{{
		Exchange:    ex,
		Adapter:     &stubAdapter{exchange: ex},
		Dialer:      dialer,
		Instruments: btcUSD(ex),
		Session:     fastSession(0),
		MaxRestarts: 2,
	}}))

	require.Eventually(t, func() bool { return log.count(fatalFor(ex)) == 1 }, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(3), dialer.dials.Load())
	assert.Equal(t, int32(2), creds.invalidated.Load())
	assert.Equal(t, 2, healthOf(sup, ex).Restarts)

	// a failed link can be revived by hand
	require.NoError(t, sup.Restart(ex))
	require.Eventually(t, func() bool { return log.count(fatalFor(ex)) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(6), dialer.dials.Load())

	assert.ErrorIs(t, sup.Restart("missing"), entity.ErrLinkNotFound)

	sup.Stop()
	<-log.done
	assert.ErrorIs(t, sup.Restart(ex), ErrSupervisorStopped)
}

func TestSupervisor_KeyMaterialFailsWithoutRestart(t *testing.T) {
	ex := entity.ExchangeCoinbase
	dialer := &stubDialer{dial: func() (transport.Conn, error) { return newStubConn(), nil }}
	creds := &stubCreds{err: &entity.CredentialError{Exchange: ex, Err: entity.ErrKeyMaterial}}

	sup := NewSupervisor(creds, NewOutput(64, OverflowBlock))
	log := collect(sup.Events())

	require.NoError(t, sup.Start(context.Background(), []LinkConfig{{
		Adapter:     &stubAdapter{exchange: ex, auth: true},
		Dialer:      dialer,
		Instruments: btcUSD(ex),
		Session:     fastSession(5),
		MaxRestarts: 5,
	}}))

	require.Eventually(t, func() bool { return log.count(fatalFor(ex)) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), dialer.dials.Load())
	assert.Equal(t, 0, healthOf(sup, ex).Restarts)

	sup.Stop()
	<-log.done

	log.mu.Lock()
	defer log.mu.Unlock()
	var fatal entity.MarketEvent
	for _, event := range log.events {
		if fatalFor(ex)(event) {
			fatal = event
		}
	}
	assert.True(t, fatal.Instrument.IsLink())
	assert.Contains(t, fatal.Status.Reason, entity.ErrKeyMaterial.Error())
}

func TestSupervisor_StartValidation(t *testing.T) {
	sup := NewSupervisor(&stubCreds{}, NewOutput(1, OverflowBlock))
	ex := entity.ExchangeName("dup")
	cfg := LinkConfig{Exchange: ex, Adapter: &stubAdapter{exchange: ex}, Dialer: failingDialer()}

	assert.Error(t, sup.Start(context.Background(), []LinkConfig{{Exchange: ex}}))
	assert.Error(t, sup.Start(context.Background(), []LinkConfig{cfg, cfg}))

	sup.Stop()
	_, open := <-sup.Events()
	assert.False(t, open)
	assert.ErrorIs(t, sup.Start(context.Background(), nil), ErrSupervisorStopped)
}
