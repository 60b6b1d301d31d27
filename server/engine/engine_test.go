package engine

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// we need mock protocol to test only session logic
type mockProto struct {
	closes atomic.Int32
	data   chan []byte
	reject bool
}

func newMockProto() *mockProto {
	return &mockProto{data: make(chan []byte, 64)}
}

func (m *mockProto) OnData(s *Session, b []byte) bool {
	m.data <- append([]byte(nil), b...)
	return !m.reject
}

func (m *mockProto) OnClose(s *Session) {
	m.closes.Add(1)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newPipeSession(opts Options) (*Session, *mockProto, net.Conn) {
	srv, cli := net.Pipe()
	p := newMockProto()
	opts.Logger = zerolog.Nop()
	return NewSession(srv, p, opts), p, cli
}

func TestShutdownIdempotent(t *testing.T) {
	s, p, cli := newPipeSession(Options{})
	defer cli.Close()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Shutdown()
		}()
	}
	wg.Wait()
	s.Shutdown()

	if got := p.closes.Load(); got != 1 {
		t.Fatalf("close callback ran %d times, want 1", got)
	}
	if !s.Closed() {
		t.Fatal("session should be closed")
	}
	if err := s.Write([]byte("late")); err != ErrClosed {
		t.Fatalf("write after shutdown: got %v, want ErrClosed", err)
	}
}

func TestWriteOrder(t *testing.T) {
	s, _, cli := newPipeSession(Options{WriteTimeout: time.Second})
	defer cli.Close()

	// pipe writes block until read, so all buffers below are enqueued before any drain completes
	var want bytes.Buffer
	for i := range 50 {
		b := []byte(strings.Repeat(string(rune('a'+i%26)), i+1))
		want.Write(b)
		if err := s.Write(b); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	got := make([]byte, want.Len())
	if _, err := io.ReadFull(cli, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("bytes out of order:\n got %q\nwant %q", got, want.Bytes())
	}

	waitFor(t, "writer to go idle", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.writing
	})
}

func TestReadLoop(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		reject    bool
		send      string
		wantData  bool
		wantClose bool
	}{
		{"data delivered", Options{}, false, "ping", true, false},
		{"on data failure shuts down", Options{}, true, "ping", true, true},
		{"read timeout shuts down", Options{ReadTimeout: 30 * time.Millisecond}, false, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, p, cli := newPipeSession(tt.opts)
			defer cli.Close()
			defer s.Shutdown()
			p.reject = tt.reject
			s.Start()

			if tt.send != "" {
				if _, err := cli.Write([]byte(tt.send)); err != nil {
					t.Fatalf("client write: %v", err)
				}
			}

			if tt.wantData {
				select {
				case b := <-p.data:
					if string(b) != tt.send {
						t.Errorf("got %q, want %q", b, tt.send)
					}
				case <-time.After(time.Second):
					t.Fatal("no data delivered")
				}
			}

			if tt.wantClose {
				waitFor(t, "shutdown", s.Closed)
				if got := p.closes.Load(); got != 1 {
					t.Errorf("close callback ran %d times, want 1", got)
				}
			} else if s.Closed() {
				t.Error("session closed unexpectedly")
			}
		})
	}
}

func TestWriteTimeout(t *testing.T) {
	s, p, cli := newPipeSession(Options{WriteTimeout: 30 * time.Millisecond})
	defer cli.Close()

	// nobody reads the pipe, so write can't complete
	if err := s.Write([]byte("stuck")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "write timeout shutdown", s.Closed)
	if got := p.closes.Load(); got != 1 {
		t.Fatalf("close callback ran %d times, want 1", got)
	}
}

func TestBoundedStep(t *testing.T) {
	s, _, cli := newPipeSession(Options{})
	defer cli.Close()

	if err := s.bounded(time.Second, func() error { return nil }); err != nil {
		t.Fatalf("fast op: %v", err)
	}
	if s.Closed() {
		t.Fatal("cancelled timer must not shut down the session")
	}

	err := s.bounded(10*time.Millisecond, func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	if err != ErrTimeout {
		t.Fatalf("slow op: got %v, want ErrTimeout", err)
	}
	if !s.Closed() {
		t.Fatal("fired timer must shut down the session")
	}
}

func TestCloseAfterFlush(t *testing.T) {
	s, p, cli := newPipeSession(Options{WriteTimeout: time.Second})
	defer cli.Close()

	s.Write([]byte("HTTP/1.1 200 OK\r\n"))
	s.Write([]byte("bye"))
	s.CloseAfterFlush()

	if s.Closed() {
		t.Fatal("session closed before queue was drained")
	}

	got, err := io.ReadAll(cli)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "HTTP/1.1 200 OK\r\nbye" {
		t.Fatalf("got %q", got)
	}
	waitFor(t, "shutdown", s.Closed)
	if p.closes.Load() != 1 {
		t.Fatal("close callback should run once")
	}
}

func TestCloseAfterFlushIdle(t *testing.T) {
	s, _, cli := newPipeSession(Options{})
	defer cli.Close()

	s.CloseAfterFlush()
	if !s.Closed() {
		t.Fatal("session with empty queue should close at once")
	}
}

func TestEvictGrace(t *testing.T) {
	s, p, cli := newPipeSession(Options{})
	defer cli.Close()

	// nobody reads, so only the grace timer can finish the session
	s.Write([]byte("pending"))
	s.Evict(30 * time.Millisecond)
	if s.Closed() {
		t.Fatal("evicted session closed before grace period")
	}
	waitFor(t, "hard close after grace", s.Closed)
	if p.closes.Load() != 1 {
		t.Fatal("close callback should run once")
	}
}

func TestEvictIdleSession(t *testing.T) {
	s, p, cli := newPipeSession(Options{})
	defer cli.Close()

	s.Evict(time.Hour)
	if !s.Closed() {
		t.Fatal("idle session should close on eviction")
	}
	s.mu.Lock()
	armed := s.grace != nil
	s.mu.Unlock()
	if armed {
		t.Fatal("grace timer armed for a closed session")
	}
	if p.closes.Load() != 1 {
		t.Fatal("close callback should run once")
	}
}

func TestEvictTimerStoppedOnFlush(t *testing.T) {
	s, _, cli := newPipeSession(Options{})
	defer cli.Close()

	s.Write([]byte("pending"))
	s.Evict(time.Hour)

	s.mu.Lock()
	timer := s.grace
	s.mu.Unlock()
	if timer == nil {
		t.Fatal("grace timer should be armed while output is pending")
	}

	// reader drains the queue, session closes before grace ends
	go io.Copy(io.Discard, cli)
	waitFor(t, "close after flush", s.Closed)
	if timer.Stop() {
		t.Fatal("grace timer still pending after shutdown")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var sessions []*Session
	for range 3 {
		s, _, cli := newPipeSession(Options{})
		defer cli.Close()
		r.Add(s)
		sessions = append(sessions, s)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}

	r.Remove(sessions[0])
	r.ShutdownAll()
	for i, s := range sessions[1:] {
		if !s.Closed() {
			t.Errorf("session %d not closed", i+1)
		}
	}
	if sessions[0].Closed() {
		t.Error("removed session must not be touched")
	}
}

func TestAcceptLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := Listen(ctx, "127.0.0.1:0", ListenConfig{ReusePort: true})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	p := newMockProto()
	done := make(chan error, 1)
	go func() {
		done <- Accept(ctx, ln, func(c net.Conn) *Session {
			return NewSession(c, p, Options{Logger: zerolog.Nop()})
		}, zerolog.Nop())
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte("hello"))

	select {
	case b := <-p.data:
		if string(b) != "hello" {
			t.Errorf("got %q", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accepted session got no data")
	}

	ln.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("accept loop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop did not stop after listener close")
	}
}

func BenchmarkSessionWrite(b *testing.B) {
	srv, cli := net.Pipe()
	s := NewSession(srv, newMockProto(), Options{Logger: zerolog.Nop()})
	defer s.Shutdown()
	go io.Copy(io.Discard, cli)

	payload := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: Keep-Alive\r\n\r\nOK")

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		if err := s.Write(payload); err != nil {
			b.Fatal(err)
		}
	}
}
