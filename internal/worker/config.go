package worker

import (
	"time"

	"github.com/rs/zerolog"

	"qaworker/internal/backend"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultInboxSize       = 64
	defaultMaxInactiveTime = 60 * time.Second
)

// Config encapsulates all tunables for Worker construction.
type Config struct {
	// ID names the worker in logs, status and kill requests. Generated when empty.
	ID      string
	Backend backend.Backend
	Logger  *zerolog.Logger
	// InboxSize is the buffer of the inbound message channel.
	InboxSize int
	// MaxInactiveTime is the idle period after which the worker asks to be torn
	// down. Zero selects the default; negative disables the check.
	MaxInactiveTime time.Duration
	Publisher       EventPublisher
}

func (c Config) withDefaults() Config {
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	if c.MaxInactiveTime == 0 {
		c.MaxInactiveTime = defaultMaxInactiveTime
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return c
}

// idleCheckInterval is how often the receive loop checks for inactivity.
func (c Config) idleCheckInterval() time.Duration {
	if c.MaxInactiveTime <= 0 {
		return 0
	}
	if d := c.MaxInactiveTime / 2; d > 0 {
		return d
	}
	return c.MaxInactiveTime
}
