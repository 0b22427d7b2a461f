package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	Advance(d time.Duration)
	Reset()
}

// Config controls how a clock derives time.
//
// A zero Epoch follows the wall clock. A non-zero Epoch freezes the clock at that
// instant so that only Advance and Step move it. Step is added after every Now.
type Config struct {
	Epoch time.Time
	Step  time.Duration
}

var DefaultConfig = Config{}

type clock struct {
	mu    sync.Mutex
	epoch time.Time
	step  time.Duration
	delta time.Duration
	last  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := c.epoch
	if base.IsZero() {
		base = time.Now()
	}
	now := base.Add(c.delta)
	c.delta += c.step
	// never hand out an instant earlier than a previous one
	if now.Before(c.last) {
		now = c.last
	}
	c.last = now
	return now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delta += d
}

func (c *clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delta = 0
	c.last = time.Time{}
}

func Make(config ...Config) Clock {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &clock{
		epoch: cfg.Epoch,
		step:  max(0, cfg.Step),
	}
}
