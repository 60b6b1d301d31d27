// buffer pools and live session registry
package engine

import (
	"sync"
)

const (
	readBufSize = 4 << 10 // fixed capacity of one read
)

var (
	// bufPool for read loop buffers, every session gets one only while its read loop runs
	bufPool = sync.Pool{
		New: func() any {
			return make([]byte, readBufSize)
		},
	}
)

// registry of live sessions, so server can stop all of them
type Registry struct {
	mu sync.Mutex
	m  map[uint64]*Session
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[uint64]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.m[s.id] = s
	r.mu.Unlock()
}

func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	delete(r.m, s.id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// ShutdownAll closes every registered session, sessions remove themselves in OnClose
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.m))
	for _, s := range r.m {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Shutdown()
	}
}
