package router

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/s00inx/wheelhttp/server/protocol"
)

// pool for contexts, handlers are synchronous so ctx is free right after Serve
var ctxPool = sync.Pool{
	New: func() any {
		return &Context{}
	},
}

// Router maps exact url to handler
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      zerolog.Logger
}

// init a new router
func New(log zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// Handle links url and handler, last registered wins
func (r *Router) Handle(url string, h Handler) {
	r.mu.Lock()
	r.handlers[url] = h
	r.mu.Unlock()
}

// Route finds handler for the exact request target, query included
func (r *Router) Route(url string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[url]
}

// Serve dispatches parsed request, miss gives 404 and closes the conn
func (r *Router) Serve(req *protocol.Request, resp *protocol.Response) {
	r.log.Debug().Str("method", req.Method).Str("url", req.URL).Str("peer", req.PeerIP).Msg("request")

	h := r.Route(req.URL)
	if h == nil {
		NotFound(resp)
		return
	}

	c := ctxPool.Get().(*Context)
	c.Reset(req, resp)
	h(c)
	c.Reset(nil, nil)
	ctxPool.Put(c)
}
