package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/metrics"
	"github.com/krobus00/market-collector/internal/service/normalizer"
	"github.com/krobus00/market-collector/internal/service/transport"
	"github.com/sirupsen/logrus"
)

var ErrSupervisorStopped = errors.New("collector supervisor is stopped")

// LinkConfig describes one exchange link: the adapter, how to reach it and
// which instruments to subscribe.
type LinkConfig struct {
	Exchange    entity.ExchangeName
	Adapter     entity.Adapter
	Dialer      transport.Dialer
	Instruments []entity.Instrument
	Session     transport.SessionConfig
	// MaxRestarts bounds how often a closed session is recreated before the link fails.
	MaxRestarts int
}

type LinkHealth struct {
	Exchange   entity.ExchangeName    `json:"exchange"`
	State      entity.SessionState    `json:"state"`
	Generation uint64                 `json:"generation"`
	Restarts   int                    `json:"restarts"`
	Failed     bool                   `json:"failed"`
	LastError  string                 `json:"last_error,omitempty"`
	Stats      transport.SessionStats `json:"stats"`
}

// StatusListener is called on every session state transition of every link.
type StatusListener func(exchange entity.ExchangeName, state entity.SessionState)

type Option func(*Supervisor)

func WithStatusListener(listener StatusListener) Option {
	return func(s *Supervisor) {
		s.listeners = append(s.listeners, listener)
	}
}

func WithGenerationSource(gens *transport.GenerationSource) Option {
	return func(s *Supervisor) {
		s.gens = gens
	}
}

// Supervisor runs one link per exchange and multiplexes their events onto a
// single Output. A failing link never affects the others.
type Supervisor struct {
	creds     transport.CredentialSource
	output    *Output
	gens      *transport.GenerationSource
	listeners []StatusListener

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	links   map[entity.ExchangeName]*link
	order   []entity.ExchangeName
	started bool
	stopped bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

type link struct {
	cfg        LinkConfig
	normalizer *normalizer.Normalizer
	logger     *logrus.Entry

	mu         sync.RWMutex
	session    *transport.Session
	state      entity.SessionState
	generation uint64
	restarts   int
	failed     bool
	lastErr    error
}

func NewSupervisor(creds transport.CredentialSource, output *Output, opts ...Option) *Supervisor {
	s := &Supervisor{
		creds:  creds,
		output: output,
		links:  make(map[entity.ExchangeName]*link),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gens == nil {
		s.gens = &transport.GenerationSource{}
	}

	return s
}

// Start launches every link and returns immediately.
func (s *Supervisor) Start(ctx context.Context, configs []LinkConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSupervisorStopped
	}
	if s.started {
		return errors.New("collector supervisor already started")
	}

	links := make([]*link, 0, len(configs))
	seen := make(map[entity.ExchangeName]struct{}, len(configs))
	for _, cfg := range configs {
		if cfg.Adapter == nil || cfg.Dialer == nil {
			return fmt.Errorf("link %s: adapter and dialer are required", cfg.Exchange)
		}
		if cfg.Exchange == "" {
			cfg.Exchange = cfg.Adapter.Exchange()
		}
		if _, ok := seen[cfg.Exchange]; ok {
			return fmt.Errorf("link %s is configured twice", cfg.Exchange)
		}
		seen[cfg.Exchange] = struct{}{}

		links = append(links, &link{
			cfg:        cfg,
			normalizer: normalizer.New(cfg.Exchange),
			logger:     logrus.WithField("exchange", cfg.Exchange),
			state:      entity.SessionStateDisconnected,
		})
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	for _, l := range links {
		s.links[l.cfg.Exchange] = l
		s.order = append(s.order, l.cfg.Exchange)

		s.wg.Add(1)
		go s.runLink(l)
	}

	return nil
}

func (s *Supervisor) Events() <-chan entity.MarketEvent {
	return s.output.Events()
}

func (s *Supervisor) Health() []LinkHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LinkHealth, 0, len(s.order))
	for _, exchange := range s.order {
		out = append(out, s.links[exchange].health())
	}

	return out
}

// Restart revives a link that has permanently failed.
func (s *Supervisor) Restart(exchange entity.ExchangeName) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSupervisorStopped
	}

	l, ok := s.links[exchange]
	if !ok {
		return fmt.Errorf("%w: %s", entity.ErrLinkNotFound, exchange)
	}

	l.mu.Lock()
	if !l.failed {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", entity.ErrLinkNotFailed, exchange)
	}
	l.failed = false
	l.restarts = 0
	l.lastErr = nil
	l.mu.Unlock()

	l.logger.Info("restarting failed link")
	s.creds.Invalidate(exchange)

	s.wg.Add(1)
	go s.runLink(l)

	return nil
}

// Stop cancels every link, waits for them and closes the output. No event is
// published after Stop returns.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		s.output.Close()
	})
}

func (s *Supervisor) runLink(l *link) {
	defer s.wg.Done()

	ctx := s.ctx
	exchange := l.cfg.Exchange

	for {
		session := transport.NewSession(l.cfg.Adapter, l.cfg.Dialer, s.creds, s.gens, l.cfg.Session)
		session.Subscribe(l.cfg.Instruments...)
		l.setSession(session)

		errCh := make(chan error, 1)
		go func() {
			errCh <- session.Run(ctx)
		}()

		s.consume(ctx, l, session)
		err := <-errCh

		if ctx.Err() != nil || err == nil {
			return
		}

		l.mu.Lock()
		l.lastErr = err
		restarts := l.restarts
		l.mu.Unlock()

		if !errors.Is(err, entity.ErrKeyMaterial) && restarts < l.cfg.MaxRestarts {
			l.mu.Lock()
			l.restarts++
			restarts = l.restarts
			l.mu.Unlock()

			l.logger.WithError(err).WithField("restarts", restarts).Warn("recreating closed session")
			s.creds.Invalidate(exchange)
			continue
		}

		l.mu.Lock()
		l.failed = true
		l.mu.Unlock()

		l.logger.WithError(err).Error("exchange link failed permanently")
		s.publish(ctx, statusEvent(exchange, session.Generation(), entity.ConnectionStatus{
			State:   entity.SessionStateClosed,
			Fatal:   true,
			Reason:  err.Error(),
			Attempt: restarts,
		}, time.Now().UTC()))

		return
	}
}

// consume drains the session until its notification channel is closed.
func (s *Supervisor) consume(ctx context.Context, l *link, session *transport.Session) {
	for n := range session.Notifications() {
		if n.State != nil {
			s.handleState(ctx, l, n)
			continue
		}

		for _, msg := range n.Messages {
			instrument := l.instrument(msg)
			event, err := l.normalizer.NormalizeAt(msg, instrument, n.Generation, n.ReceivedAt)
			if err != nil {
				l.logger.WithError(err).Debug("dropping rejected event")
				continue
			}

			s.publish(ctx, event)
		}
	}
}

func (s *Supervisor) handleState(ctx context.Context, l *link, n transport.Notification) {
	change := n.State

	l.mu.Lock()
	l.state = change.To
	l.generation = change.Generation
	if change.Err != nil {
		l.lastErr = change.Err
	}
	l.mu.Unlock()

	for _, listener := range s.listeners {
		listener(change.Exchange, change.To)
	}

	switch change.To {
	case entity.SessionStateSubscribed, entity.SessionStateDegraded, entity.SessionStateClosed:
	default:
		return
	}

	status := entity.ConnectionStatus{State: change.To, Attempt: change.Attempt}
	if change.Err != nil {
		status.Reason = change.Err.Error()
	}
	s.publish(ctx, statusEvent(l.cfg.Exchange, change.Generation, status, n.ReceivedAt))
}

func (s *Supervisor) publish(ctx context.Context, event entity.MarketEvent) {
	if err := s.output.Publish(ctx, event); err != nil {
		return
	}
	metrics.IncEventEmitted(string(event.Exchange), string(event.Kind))
}

func statusEvent(exchange entity.ExchangeName, generation uint64, status entity.ConnectionStatus, at time.Time) entity.MarketEvent {
	return entity.MarketEvent{
		ID:         uuid.NewString(),
		Kind:       entity.EventKindConnectionStatus,
		Exchange:   exchange,
		Instrument: entity.LinkInstrument(exchange),
		Generation: generation,
		EventTime:  at,
		ReceivedAt: at,
		Status:     &status,
	}
}

func (l *link) setSession(session *transport.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.session = session
}

// instrument resolves the exchange symbol of a message. Messages without a
// symbol belong to the link itself.
func (l *link) instrument(msg entity.AdapterMessage) entity.Instrument {
	if msg.Symbol == "" {
		if msg.Kind == entity.MessageKindHeartbeat {
			return entity.LinkInstrument(l.cfg.Exchange)
		}
		return entity.Instrument{}
	}

	instrument, ok := l.cfg.Adapter.Instrument(msg.Symbol)
	if !ok {
		return entity.Instrument{}
	}

	return instrument
}

func (l *link) health() LinkHealth {
	l.mu.RLock()
	defer l.mu.RUnlock()

	h := LinkHealth{
		Exchange:   l.cfg.Exchange,
		State:      l.state,
		Generation: l.generation,
		Restarts:   l.restarts,
		Failed:     l.failed,
	}
	if l.lastErr != nil {
		h.LastError = l.lastErr.Error()
	}
	if l.session != nil {
		h.Stats = l.session.Stats()
	}

	return h
}
