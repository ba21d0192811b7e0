package heartbeat

import (
	"context"
	"sync"
	"time"
)

const DefaultInterval = 10 * time.Second

type Action int

const (
	// None means the peer answered recently enough.
	None Action = iota
	// SendPing means the caller should ping the peer now.
	SendPing
	// Timeout means the previous ping went unanswered for a whole interval.
	Timeout
)

func (a Action) String() string {
	switch a {
	case SendPing:
		return "SendPing"
	case Timeout:
		return "Timeout"
	default:
		return "None"
	}
}

// Monitor tracks when a peer last said anything and whether the last ping
// is still waiting for its pong. It is transport agnostic: the caller
// decides how a ping is sent and what a timeout closes.
type Monitor struct {
	interval     time.Duration
	now          func() time.Time
	mu           sync.Mutex
	lastResponse time.Time
	ponged       bool
}

type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

func NewMonitor(interval time.Duration, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := &Monitor{
		interval: interval,
		now:      time.Now,
		ponged:   true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Observe records that the peer sent something.
func (m *Monitor) Observe() {
	m.mu.Lock()
	m.lastResponse = m.now()
	m.mu.Unlock()
}

// Pong records a reply to our ping.
func (m *Monitor) Pong() {
	m.mu.Lock()
	m.lastResponse = m.now()
	m.ponged = true
	m.mu.Unlock()
}

// Check evaluates one tick. Nothing happens while the peer has been heard
// from within the interval.
func (m *Monitor) Check() Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastResponse.IsZero() && m.now().Sub(m.lastResponse) <= m.interval {
		return None
	}

	if !m.ponged {
		return Timeout
	}

	m.ponged = false
	return SendPing
}

// Run checks once per interval until ctx is done, the ping function fails
// or the peer times out. onTimeout is called at most once.
func (m *Monitor) Run(ctx context.Context, ping func() error, onTimeout func()) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch m.Check() {
			case SendPing:
				if err := ping(); err != nil {
					return
				}
			case Timeout:
				onTimeout()
				return
			}
		}
	}
}
