package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var ErrConfig = errors.New("invalid config")

// Config is the server tuning surface
type Config struct {
	Addr string // host:port to listen on

	ReadTimeout  time.Duration // bound of one read, 0 = disabled
	WriteTimeout time.Duration // bound of one write, 0 = disabled

	IdleTimeout time.Duration // silence window before eviction, 0 = no idle wheel
	Tick        time.Duration // idle wheel resolution
	EvictGrace  time.Duration // flush time given to evicted conn, 0 = one tick

	MaxConns     int   // 0 = unlimited
	MaxBodyBytes int64 // 0 = protocol.DefaultMaxBody
	ReusePort    bool

	// StrictDefault answers 400 instead of 404 when no handler is installed
	StrictDefault bool

	Logger zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":7070",
		ReadTimeout:  0,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		Tick:         time.Second,
		Logger:       zerolog.Nop(),
	}
}

func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: empty address", ErrConfig)
	case c.ReadTimeout < 0, c.WriteTimeout < 0, c.IdleTimeout < 0, c.EvictGrace < 0:
		return fmt.Errorf("%w: negative timeout", ErrConfig)
	case c.IdleTimeout > 0 && c.Tick <= 0:
		return fmt.Errorf("%w: idle wheel needs positive tick", ErrConfig)
	case c.MaxConns < 0, c.MaxBodyBytes < 0:
		return fmt.Errorf("%w: negative limit", ErrConfig)
	}
	return nil
}

// idle window in ticks, rounded up, wheel raises it to its minimum
func (c *Config) window() int {
	return int((c.IdleTimeout + c.Tick - 1) / c.Tick)
}

func (c *Config) grace() time.Duration {
	if c.EvictGrace > 0 {
		return c.EvictGrace
	}
	return c.Tick
}
