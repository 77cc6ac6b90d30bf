package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-collector/internal/entity"
	"golang.org/x/time/rate"
)

const (
	PollOpSubscribe   = "subscribe"
	PollOpUnsubscribe = "unsubscribe"
)

const defaultPollInterval = time.Second

var errPollConnClosed = errors.New("poll connection closed")

// PollCommand is the frame a REST adapter writes to register polled topics.
type PollCommand struct {
	Op     string   `json:"op"`
	Topics []string `json:"topics"`
}

func PollSubscribeFrame(topics ...string) ([]byte, error) {
	return json.Marshal(PollCommand{Op: PollOpSubscribe, Topics: topics})
}

// PollDialer presents a polled REST API as a frame stream. Every registered
// topic is polled once per interval, paced by a shared rate limiter.
type PollDialer struct {
	Poller   entity.Poller
	Interval time.Duration
	Limiter  *rate.Limiter
}

func NewPollDialer(poller entity.Poller, interval time.Duration, requestsPerSecond float64) *PollDialer {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &PollDialer{
		Poller:   poller,
		Interval: interval,
		Limiter:  rate.NewLimiter(limit, burst),
	}
}

func (d *PollDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	if d.Poller == nil {
		return nil, errors.New("poll dialer has no poller")
	}

	limiter := d.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	interval := d.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	connCtx, cancel := context.WithCancel(ctx)
	return &pollConn{
		ctx:      connCtx,
		cancel:   cancel,
		poller:   d.Poller,
		interval: interval,
		limiter:  limiter,
		topicSet: make(map[string]struct{}),
	}, nil
}

type pollConn struct {
	ctx      context.Context
	cancel   context.CancelFunc
	poller   entity.Poller
	interval time.Duration
	limiter  *rate.Limiter

	mu       sync.Mutex
	topics   []string
	topicSet map[string]struct{}

	// reader goroutine only
	next      int
	lastRound time.Time
}

func (c *pollConn) ReadMessage() ([]byte, error) {
	for {
		topic, roundStart, ok := c.nextTopic()
		if !ok {
			if err := c.sleep(c.interval); err != nil {
				return nil, err
			}
			continue
		}

		if roundStart {
			if err := c.sleep(time.Until(c.lastRound.Add(c.interval))); err != nil {
				return nil, err
			}
			c.lastRound = time.Now()
		}

		if err := c.limiter.Wait(c.ctx); err != nil {
			return nil, errPollConnClosed
		}

		data, err := c.poller.Poll(c.ctx, topic)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil, errPollConnClosed
			}
			return nil, fmt.Errorf("poll %s: %w", topic, err)
		}

		return data, nil
	}
}

func (c *pollConn) WriteMessage(data []byte) error {
	var cmd PollCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode poll command: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch cmd.Op {
	case PollOpSubscribe:
		for _, topic := range cmd.Topics {
			if _, ok := c.topicSet[topic]; ok {
				continue
			}
			c.topicSet[topic] = struct{}{}
			c.topics = append(c.topics, topic)
		}
	case PollOpUnsubscribe:
		for _, topic := range cmd.Topics {
			delete(c.topicSet, topic)
		}
		kept := c.topics[:0]
		for _, topic := range c.topics {
			if _, ok := c.topicSet[topic]; ok {
				kept = append(kept, topic)
			}
		}
		c.topics = kept
	default:
		return fmt.Errorf("unsupported poll op %q", cmd.Op)
	}

	return nil
}

// Ping is a no-op; every successful poll already proves liveness.
func (c *pollConn) Ping() error {
	return c.ctx.Err()
}

func (c *pollConn) SetKeepaliveHandler(func()) {}

func (c *pollConn) Close() error {
	c.cancel()
	return nil
}

func (c *pollConn) nextTopic() (topic string, roundStart bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.topics) == 0 {
		return "", false, false
	}

	if c.next >= len(c.topics) {
		c.next = 0
	}

	roundStart = c.next == 0
	topic = c.topics[c.next]
	c.next++

	return topic, roundStart, true
}

func (c *pollConn) sleep(d time.Duration) error {
	if d <= 0 {
		if c.ctx.Err() != nil {
			return errPollConnClosed
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return errPollConnClosed
	case <-timer.C:
		return nil
	}
}
