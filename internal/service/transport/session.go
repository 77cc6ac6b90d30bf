package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/metrics"
	"github.com/krobus00/market-collector/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	defaultSessionHeartbeatTimeout = 30 * time.Second
	defaultSessionPingInterval     = 10 * time.Second
	defaultMaxAuthFailures         = 3
	defaultNotificationBuffer      = 256
	defaultInboundBuffer           = 64
)

var ErrSessionRunning = errors.New("session is already running")

type ReconnectPolicy struct {
	MaxAttempts int
	Factor      float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

type SessionConfig struct {
	HeartbeatTimeout   time.Duration
	PingInterval       time.Duration
	Reconnect          ReconnectPolicy
	MaxAuthFailures    int
	NotificationBuffer int
}

// CredentialSource is satisfied by credential.Provider.
type CredentialSource interface {
	Credential(ctx context.Context, exchange entity.ExchangeName) (entity.Credential, error)
	Invalidate(exchange entity.ExchangeName)
}

type StateChange struct {
	Exchange   entity.ExchangeName
	From       entity.SessionState
	To         entity.SessionState
	Generation uint64
	Attempt    int
	Err        error
}

// Notification carries either parsed messages of one frame or a state change.
type Notification struct {
	Generation uint64
	ReceivedAt time.Time
	Messages   []entity.AdapterMessage
	State      *StateChange
}

type SessionStats struct {
	Frames          uint64 `json:"frames"`
	StaleFrames     uint64 `json:"stale_frames"`
	ProtocolErrors  uint64 `json:"protocol_errors"`
	UnknownMessages uint64 `json:"unknown_messages"`
	Reconnects      uint64 `json:"reconnects"`
}

type inboundFrame struct {
	generation uint64
	data       []byte
	err        error
	receivedAt time.Time
}

// Session owns the lifecycle of one exchange connection: dial, authenticate,
// subscribe, watch keepalives and reconnect with backoff until it is closed.
type Session struct {
	adapter  entity.Adapter
	dialer   Dialer
	creds    CredentialSource
	gens     *GenerationSource
	cfg      SessionConfig
	exchange entity.ExchangeName
	rng      *rand.Rand
	logger   *logrus.Entry

	mu         sync.RWMutex
	state      entity.SessionState
	generation uint64
	subs       map[string]entity.Instrument
	subOrder   []string

	subSignal     chan struct{}
	keepalive     chan uint64
	inbound       chan inboundFrame
	notifications chan Notification
	done          chan struct{}
	running       atomic.Bool

	frames          atomic.Uint64
	staleFrames     atomic.Uint64
	protocolErrors  atomic.Uint64
	unknownMessages atomic.Uint64
	reconnects      atomic.Uint64
}

func NewSession(adapter entity.Adapter, dialer Dialer, creds CredentialSource, gens *GenerationSource, cfg SessionConfig) *Session {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultSessionHeartbeatTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultSessionPingInterval
	}
	if cfg.MaxAuthFailures <= 0 {
		cfg.MaxAuthFailures = defaultMaxAuthFailures
	}
	if cfg.NotificationBuffer <= 0 {
		cfg.NotificationBuffer = defaultNotificationBuffer
	}
	if cfg.Reconnect.Factor < 1 {
		cfg.Reconnect.Factor = 2
	}
	if cfg.Reconnect.MaxDelay < cfg.Reconnect.MinDelay {
		cfg.Reconnect.MaxDelay = cfg.Reconnect.MinDelay
	}
	if gens == nil {
		gens = &GenerationSource{}
	}

	exchange := adapter.Exchange()
	return &Session{
		adapter:       adapter,
		dialer:        dialer,
		creds:         creds,
		gens:          gens,
		cfg:           cfg,
		exchange:      exchange,
		rng:           util.NewRand(),
		logger:        logrus.WithField("exchange", exchange),
		state:         entity.SessionStateDisconnected,
		subs:          make(map[string]entity.Instrument),
		subSignal:     make(chan struct{}, 1),
		keepalive:     make(chan uint64, 8),
		inbound:       make(chan inboundFrame, defaultInboundBuffer),
		notifications: make(chan Notification, cfg.NotificationBuffer),
		done:          make(chan struct{}),
	}
}

// Subscribe adds instruments to the active set. Instruments already in the set
// are ignored; new ones are sent right away when the session is live and on
// every later reconnect.
func (s *Session) Subscribe(instruments ...entity.Instrument) {
	s.mu.Lock()
	added := false
	for _, inst := range instruments {
		key := inst.Key()
		if _, ok := s.subs[key]; ok {
			continue
		}
		s.subs[key] = inst
		s.subOrder = append(s.subOrder, key)
		added = true
	}
	s.mu.Unlock()

	if !added {
		return
	}

	select {
	case s.subSignal <- struct{}{}:
	default:
	}
}

func (s *Session) Subscriptions() []entity.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Instrument, 0, len(s.subOrder))
	for _, key := range s.subOrder {
		out = append(out, s.subs[key])
	}

	return out
}

// Notifications must be drained until it is closed, which happens when Run returns.
func (s *Session) Notifications() <-chan Notification {
	return s.notifications
}

func (s *Session) Exchange() entity.ExchangeName {
	return s.exchange
}

func (s *Session) State() entity.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.generation
}

func (s *Session) Stats() SessionStats {
	return SessionStats{
		Frames:          s.frames.Load(),
		StaleFrames:     s.staleFrames.Load(),
		ProtocolErrors:  s.protocolErrors.Load(),
		UnknownMessages: s.unknownMessages.Load(),
		Reconnects:      s.reconnects.Load(),
	}
}

// Run blocks until the session is closed. It returns nil when ctx is cancelled
// and the terminal error otherwise. A session runs at most once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}

	defer close(s.notifications)
	defer close(s.done)

	return s.loop(ctx)
}

func (s *Session) loop(ctx context.Context) error {
	failures := 0
	authFailures := 0

	for {
		if ctx.Err() != nil {
			s.setState(entity.SessionStateClosed, failures, nil)
			return nil
		}

		gen := s.gens.Next()
		s.mu.Lock()
		s.generation = gen
		s.mu.Unlock()
		s.setState(entity.SessionStateConnecting, failures, nil)

		conn, err := s.dialer.Dial(ctx, s.adapter.Endpoint())
		if err != nil {
			if ctx.Err() != nil {
				s.setState(entity.SessionStateClosed, failures, nil)
				return nil
			}

			if stop, terminal := s.backoff(ctx, &failures, &entity.TransportError{Exchange: s.exchange, Op: "dial", Err: err}); stop {
				return terminal
			}
			continue
		}

		err = s.serve(ctx, conn, gen, &failures, &authFailures)
		_ = conn.Close()

		if ctx.Err() != nil {
			s.setState(entity.SessionStateClosed, failures, nil)
			return nil
		}

		var credErr *entity.CredentialError
		if errors.As(err, &credErr) {
			s.setState(entity.SessionStateClosed, failures, err)
			return err
		}

		if errors.Is(err, entity.ErrAuthRejected) {
			s.creds.Invalidate(s.exchange)
			authFailures++
			if authFailures > s.cfg.MaxAuthFailures {
				err = &entity.CredentialError{
					Exchange: s.exchange,
					Err:      fmt.Errorf("%d consecutive rejections: %w", authFailures, entity.ErrAuthRejected),
				}
				s.setState(entity.SessionStateClosed, failures, err)
				return err
			}
		}

		if stop, terminal := s.backoff(ctx, &failures, err); stop {
			return terminal
		}
	}
}

// backoff degrades the session and waits before the next dial. It reports
// stop=true once attempts are exhausted or ctx is done.
func (s *Session) backoff(ctx context.Context, failures *int, cause error) (bool, error) {
	*failures++
	if *failures > s.cfg.Reconnect.MaxAttempts {
		err := fmt.Errorf("%w after %d attempts: %w", entity.ErrReconnectExhausted, *failures-1, cause)
		s.setState(entity.SessionStateClosed, *failures, err)
		return true, err
	}

	s.setState(entity.SessionStateDegraded, *failures, cause)
	s.reconnects.Add(1)
	metrics.IncReconnect(string(s.exchange))

	policy := s.cfg.Reconnect
	wait := util.BackoffWithJitter(*failures-1, policy.Factor, policy.MinDelay, policy.MaxDelay, policy.Jitter, s.rng)
	s.logger.WithFields(logrus.Fields{
		"retry_in": wait.String(),
		"attempt":  *failures,
	}).WithError(cause).Warn("reconnecting exchange session")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		s.setState(entity.SessionStateClosed, *failures, nil)
		return true, nil
	}
}

// serve authenticates, subscribes and pumps frames of one connection until it fails.
func (s *Session) serve(ctx context.Context, conn Conn, gen uint64, failures, authFailures *int) error {
	conn.SetKeepaliveHandler(func() {
		select {
		case s.keepalive <- gen:
		default:
		}
	})
	go s.readLoop(conn, gen)

	s.setState(entity.SessionStateAuthenticating, *failures, nil)
	if s.adapter.RequiresAuth() {
		cred, err := s.creds.Credential(ctx, s.exchange)
		if err != nil {
			return err
		}

		frame, err := s.adapter.BuildAuthFrame(cred)
		if err != nil {
			return &entity.CredentialError{Exchange: s.exchange, Err: err}
		}
		if frame != nil {
			if err := conn.WriteMessage(frame); err != nil {
				return &entity.TransportError{Exchange: s.exchange, Op: "auth", Err: err}
			}
		}
	}

	sent := make(map[string]struct{})
	if err := s.subscribePending(ctx, conn, sent); err != nil {
		return err
	}
	s.setState(entity.SessionStateSubscribed, *failures, nil)

	heartbeat := time.NewTimer(s.cfg.HeartbeatTimeout)
	defer heartbeat.Stop()
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			return &entity.TransportError{Exchange: s.exchange, Op: "heartbeat", Err: entity.ErrHeartbeatTimeout}
		case <-ping.C:
			if err := conn.Ping(); err != nil {
				return &entity.TransportError{Exchange: s.exchange, Op: "ping", Err: err}
			}
		case keepaliveGen := <-s.keepalive:
			if keepaliveGen == gen {
				resetTimer(heartbeat, s.cfg.HeartbeatTimeout)
			}
		case <-s.subSignal:
			if err := s.subscribePending(ctx, conn, sent); err != nil {
				return err
			}
		case frame := <-s.inbound:
			if frame.generation != gen {
				s.staleFrames.Add(1)
				metrics.IncStaleFrame(string(s.exchange))
				continue
			}
			if frame.err != nil {
				return &entity.TransportError{Exchange: s.exchange, Op: "read", Err: frame.err}
			}

			resetTimer(heartbeat, s.cfg.HeartbeatTimeout)
			*failures = 0
			s.frames.Add(1)

			messages, err := s.handleFrame(frame.data)
			if err != nil {
				return err
			}
			if len(messages) > 0 {
				*authFailures = 0
			} else {
				continue
			}

			select {
			case s.notifications <- Notification{Generation: gen, ReceivedAt: frame.receivedAt, Messages: messages}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handleFrame parses one frame and keeps only messages meant for the normalizer.
func (s *Session) handleFrame(data []byte) ([]entity.AdapterMessage, error) {
	messages, err := s.adapter.ParseFrame(data)
	if err != nil {
		s.recordProtocolError(err)
		return nil, nil
	}

	forward := messages[:0]
	for _, msg := range messages {
		switch msg.Kind {
		case entity.MessageKindError:
			if msg.AuthFailure {
				return nil, fmt.Errorf("%w: %s", entity.ErrAuthRejected, msg.Reason)
			}
			s.logger.WithField("reason", msg.Reason).Warn("exchange reported an error")
		case entity.MessageKindSubscribed:
			s.logger.WithField("symbol", msg.Symbol).Debug("subscription acknowledged")
		default:
			forward = append(forward, msg)
		}
	}

	return forward, nil
}

func (s *Session) subscribePending(ctx context.Context, conn Conn, sent map[string]struct{}) error {
	s.mu.RLock()
	pending := make([]entity.Instrument, 0)
	for _, key := range s.subOrder {
		if _, ok := sent[key]; ok {
			continue
		}
		pending = append(pending, s.subs[key])
	}
	s.mu.RUnlock()

	if len(pending) == 0 {
		return nil
	}

	var cred entity.Credential
	if s.adapter.RequiresAuth() {
		var err error
		cred, err = s.creds.Credential(ctx, s.exchange)
		if err != nil {
			return err
		}
	}

	frames, err := s.adapter.SubscribeFrames(pending, cred)
	if err != nil {
		return &entity.ProtocolError{Exchange: s.exchange, MessageType: "subscribe", Err: err}
	}

	for _, frame := range frames {
		if err := conn.WriteMessage(frame); err != nil {
			return &entity.TransportError{Exchange: s.exchange, Op: "subscribe", Err: err}
		}
	}

	symbols := make([]string, 0, len(pending))
	for _, inst := range pending {
		sent[inst.Key()] = struct{}{}
		symbols = append(symbols, inst.Symbol())
	}
	s.logger.WithField("instruments", symbols).Info("subscribed")

	return nil
}

func (s *Session) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		select {
		case s.inbound <- inboundFrame{generation: gen, data: data, err: err, receivedAt: time.Now().UTC()}:
		case <-s.done:
			return
		}

		if err != nil {
			return
		}
	}
}

func (s *Session) recordProtocolError(err error) {
	var protoErr *entity.ProtocolError
	if errors.As(err, &protoErr) && protoErr.Unknown {
		s.unknownMessages.Add(1)
		metrics.IncUnknownMessage(string(s.exchange), protoErr.MessageType)
		s.logger.WithField("type", protoErr.MessageType).Debug("skipping unknown message")
		return
	}

	s.protocolErrors.Add(1)
	metrics.IncProtocolError(string(s.exchange))
	s.logger.WithError(err).Warn("dropping malformed frame")
}

func (s *Session) setState(to entity.SessionState, attempt int, cause error) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	gen := s.generation
	s.mu.Unlock()

	metrics.SetSessionState(string(s.exchange), to.Gauge())

	logger := s.logger.WithFields(logrus.Fields{
		"from":       from,
		"state":      to,
		"generation": gen,
	})
	if cause != nil {
		logger = logger.WithError(cause)
	}
	logger.Info("session state changed")

	s.notifications <- Notification{
		Generation: gen,
		ReceivedAt: time.Now().UTC(),
		State: &StateChange{
			Exchange:   s.exchange,
			From:       from,
			To:         to,
			Generation: gen,
			Attempt:    attempt,
			Err:        cause,
		},
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
