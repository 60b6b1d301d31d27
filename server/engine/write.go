package engine

// Write puts b to the outbound queue.
// only one writer drains the queue, so enqueue while writer is active just appends
func (s *Session) Write(b []byte) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrClosed
	}

	s.queue = append(s.queue, b)
	if s.writing {
		s.mu.Unlock()
		return nil
	}
	s.writing = true
	s.mu.Unlock()

	go s.drain()
	return nil
}

// pop front buffer and write it whole, any error stops draining and kills the session
func (s *Session) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.closed.Load() {
			s.writing = false
			end := s.flushEnd
			s.mu.Unlock()

			if end {
				s.Shutdown()
			}
			return
		}

		b := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		err := s.bounded(s.wto, func() error {
			_, err := s.conn.Write(b) // net.Conn writes all of b or returns error
			return err
		})
		if err != nil {
			s.log.Debug().Err(err).Msg("write failed")
			s.Shutdown()

			s.mu.Lock()
			s.writing = false
			s.mu.Unlock()
			return
		}
	}
}

// Pending returns number of buffers waiting in the queue
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
