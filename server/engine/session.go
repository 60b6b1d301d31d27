// session lifecycle: read loop, bounded i/o steps and shutdown
// engine works only w bytes, no HTTP logic
package engine

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrTimeout = errors.New("engine: i/o timeout")
	ErrClosed  = errors.New("engine: session closed")
)

// protocol layer above the session, so we need interface to use them
type Protocol interface {
	// OnData gets every chunk read from the conn, false means session must be shut down
	OnData(s *Session, b []byte) bool
	// OnClose is called exactly once when session goes down
	OnClose(s *Session)
}

type Options struct {
	ReadTimeout  time.Duration // 0 = disabled
	WriteTimeout time.Duration // 0 = disabled
	Logger       zerolog.Logger
}

var sessionID atomic.Uint64

// session is one accepted conn, it owns the stream and the outbound queue
type Session struct {
	id    uint64
	conn  net.Conn
	proto Protocol
	log   zerolog.Logger

	rto, wto time.Duration

	ip   string
	port int

	mu       sync.Mutex
	queue    [][]byte    // outbound buffers in enqueue order
	writing  bool        // writer goroutine is draining queue
	flushEnd bool        // close when queue is drained
	grace    *time.Timer // hard close of an evicted session

	closed atomic.Bool
	idle   atomic.Pointer[Entry] // handle to idle wheel entry, may be nil
}

func NewSession(conn net.Conn, proto Protocol, opts Options) *Session {
	s := &Session{
		id:    sessionID.Add(1),
		conn:  conn,
		proto: proto,
		rto:   opts.ReadTimeout,
		wto:   opts.WriteTimeout,
	}
	s.cacheRemote()
	s.log = opts.Logger.With().Uint64("session", s.id).Str("peer", s.ip).Logger()
	return s
}

func (s *Session) cacheRemote() {
	addr := s.conn.RemoteAddr()
	if addr == nil {
		return
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		s.ip = addr.String()
		return
	}
	s.ip = host
	s.port, _ = strconv.Atoi(port)
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) RemoteIP() string { return s.ip }

func (s *Session) RemotePort() int { return s.port }

func (s *Session) Closed() bool { return s.closed.Load() }

func (s *Session) Logger() *zerolog.Logger { return &s.log }

// SetIdleEntry attaches the wheel handle, every successful read refreshes it
func (s *Session) SetIdleEntry(e *Entry) {
	s.idle.Store(e)
}

// Start runs the read loop, should be called once per conn
func (s *Session) Start() {
	go s.readLoop()
}

func (s *Session) readLoop() {
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	for {
		n, err := s.read(buf)
		if err != nil {
			if !errors.Is(err, ErrTimeout) && !s.closed.Load() {
				s.log.Debug().Err(err).Msg("read failed")
			}
			s.Shutdown()
			return
		}

		if e := s.idle.Load(); e != nil {
			e.Refresh()
		}

		if !s.proto.OnData(s, buf[:n]) {
			s.Shutdown()
			return
		}

		// graceful close requested, writer will finish the job
		if s.closing() {
			return
		}
	}
}

func (s *Session) read(buf []byte) (int, error) {
	var n int
	err := s.bounded(s.rto, func() error {
		var err error
		n, err = s.conn.Read(buf)
		return err
	})
	return n, err
}

// bounded races op against a deadline timer, first one wins:
// timer started right before op and cancelled right after it,
// if Stop reports the timer already fired, op is a timeout even if it returned
func (s *Session) bounded(d time.Duration, op func() error) error {
	if d <= 0 {
		return op()
	}

	t := time.AfterFunc(d, func() {
		s.log.Debug().Dur("after", d).Msg("timeout")
		s.Shutdown()
	})
	err := op()
	if !t.Stop() {
		return ErrTimeout
	}
	return err
}

func (s *Session) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushEnd
}

// CloseAfterFlush stops the session after all queued buffers are written
func (s *Session) CloseAfterFlush() {
	s.mu.Lock()
	s.flushEnd = true
	idle := !s.writing && len(s.queue) == 0
	s.mu.Unlock()

	if idle {
		s.Shutdown()
	}
}

// Evict is called by idle wheel, pending output gets grace to flush before hard close
func (s *Session) Evict(grace time.Duration) {
	if s.closed.Load() {
		return
	}
	s.log.Debug().Msg("idle eviction")

	s.CloseAfterFlush()
	if s.closed.Load() {
		return // nothing was pending
	}
	if grace <= 0 {
		s.Shutdown()
		return
	}

	s.mu.Lock()
	if !s.closed.Load() && s.grace == nil {
		s.grace = time.AfterFunc(grace, s.Shutdown)
	}
	s.mu.Unlock()
}

// Shutdown is idempotent and safe from read, write, timer or wheel goroutines
func (s *Session) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.proto.OnClose(s)
	_ = s.conn.Close()

	s.mu.Lock()
	s.queue = nil
	if s.grace != nil {
		s.grace.Stop()
	}
	s.mu.Unlock()
}
