package pool

import (
	"time"

	"github.com/rs/zerolog"

	"qaworker/internal/backend"
	"qaworker/internal/worker"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultWorkers     = 1
	defaultMaxResident = 16
	defaultLoadTimeout = 2 * time.Minute
)

// Config encapsulates all tunables for Pool construction.
type Config struct {
	// Workers bounds the number of live workers.
	Workers int
	// MaxResident bounds placements across all workers. The least recently
	// used placement is unloaded when the bound is exceeded.
	MaxResident int
	// LoadTimeout bounds how long a caller waits on a load ack.
	LoadTimeout time.Duration
	// NewBackend builds the backend for each spawned worker.
	NewBackend func() (backend.Backend, error)
	// Worker is the template for spawned workers. ID, Backend and Logger are
	// filled in per worker.
	Worker    worker.Config
	Logger    *zerolog.Logger
	Publisher worker.EventPublisher
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxResident <= 0 {
		c.MaxResident = defaultMaxResident
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = defaultLoadTimeout
	}
	return c
}
