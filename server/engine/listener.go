// listening socket and accept loop
// only low level socket functional, sessions are built by the caller
package engine

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

type ListenConfig struct {
	ReusePort bool
	MaxConns  int // 0 = unlimited
}

// Listen creates tcp listener on addr with socket options set before bind
func Listen(ctx context.Context, addr string, cfg ListenConfig) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlFunc(cfg.ReusePort)}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}
	return ln, nil
}

// callback that makes session for a fresh conn
type NewSessionFunc func(conn net.Conn) *Session

// Accept runs accept loop until listener is closed or ctx is done.
// failed accept is logged and skipped, it never stops the loop
func Accept(ctx context.Context, ln net.Listener, newSession NewSessionFunc, log zerolog.Logger) error {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay *= 2
			}
			delay = min(delay, maxAcceptDelay)
			log.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		setNoDelay(conn)
		newSession(conn).Start()
	}
}
