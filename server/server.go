package server

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/s00inx/wheelhttp/server/engine"
	"github.com/s00inx/wheelhttp/server/protocol"
	"github.com/s00inx/wheelhttp/server/router"
)

// New(cfg, h)     - Инициализация сервера, idle wheel и реестра сессий
// Run(ctx)        - Запуск listener, accept loop и idle wheel
// Addr()          - Адрес, на котором слушает сервер (после Ready)
// Close()         - Остановка: listener закрывается, все сессии гасятся

// Handler gets parsed request and fills the response, it must be synchronous.
// (*router.Router).Serve fits this signature
type Handler func(req *protocol.Request, resp *protocol.Response)

type Server struct {
	cfg     Config
	handler Handler
	log     zerolog.Logger

	sessions *engine.Registry
	wheel    *engine.Wheel // nil when idle timeout is disabled

	mu     sync.Mutex
	ln     net.Listener
	cancel context.CancelFunc
	ready  chan struct{}
}

// New makes server, nil handler means every request gets the default policy
func New(cfg Config, h Handler) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		handler:  h,
		log:      cfg.Logger.With().Str("component", "server").Logger(),
		sessions: engine.NewRegistry(),
		ready:    make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		s.wheel = engine.NewWheel(cfg.window(), cfg.grace(), cfg.Logger)
	}
	return s, nil
}

// Ready is closed once the listener is bound
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Sessions returns number of live sessions
func (s *Server) Sessions() int {
	return s.sessions.Len()
}

// Run serves until ctx is done or Close is called, it should be called once
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := engine.Listen(ctx, s.cfg.Addr, engine.ListenConfig{
		ReusePort: s.cfg.ReusePort,
		MaxConns:  s.cfg.MaxConns,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.cancel = cancel
	s.mu.Unlock()
	close(s.ready)

	s.log.Info().Str("addr", ln.Addr().String()).
		Dur("read_timeout", s.cfg.ReadTimeout).
		Dur("write_timeout", s.cfg.WriteTimeout).
		Dur("idle_timeout", s.cfg.IdleTimeout).
		Msg("listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return engine.Accept(gctx, ln, s.newSession, s.log)
	})
	if s.wheel != nil {
		g.Go(func() error {
			return s.wheel.Run(gctx, s.cfg.Tick)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		s.sessions.ShutdownAll()
		return nil
	})

	err = g.Wait()
	// accept loop is gone, catch sessions accepted during stop
	s.sessions.ShutdownAll()
	s.log.Info().Msg("stopped")
	return err
}

// Close stops a running server
func (s *Server) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Server) newSession(c net.Conn) *engine.Session {
	proto := &conn{
		srv:    s,
		parser: protocol.NewParser(s.cfg.MaxBodyBytes),
	}
	sess := engine.NewSession(c, proto, engine.Options{
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		Logger:       s.cfg.Logger,
	})
	s.sessions.Add(sess)

	if s.wheel != nil {
		sess.SetIdleEntry(s.wheel.Register(sess))
	}
	sess.Logger().Debug().Msg("session opened")
	return sess
}

// default policy when no handler is installed
func (s *Server) noHandler(resp *protocol.Response) {
	if s.cfg.StrictDefault {
		router.ResponseError(resp)
		return
	}
	resp.SetStatusCode(protocol.StatusNotFound)
	resp.SetBodyString(bodyNoHandler)
	resp.SetCloseConnection(true)
}
