package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/s00inx/wheelhttp/server/engine"
	"github.com/s00inx/wheelhttp/server/protocol"
	"github.com/s00inx/wheelhttp/server/router"
)

const (
	bodyNoHandler = "{\"code\": -1, \"message\": \"Not Found\"}\n"
	bodyTooLarge  = "{\"code\": 1, \"message\": \"Too Large\"}\n"
	bodyInternal  = "{\"code\": 1, \"message\": \"Internal Error\"}\n"
)

// conn is HTTP protocol on top of one engine session:
// bytes -> parser -> handler -> response bytes -> session queue
type conn struct {
	srv    *Server
	parser *protocol.Parser
}

func (c *conn) OnData(s *engine.Session, b []byte) bool {
	for len(b) > 0 {
		n, err := c.parser.Feed(b)
		if err != nil {
			s.Logger().Debug().Err(err).Msg("bad request")
			c.fail(s, err)
			return true
		}
		b = b[n:]

		if !c.parser.Complete() {
			return true
		}

		keepAlive, err := c.serve(s)
		if err != nil {
			return false // session is already closed
		}
		if !keepAlive {
			s.CloseAfterFlush()
			return true
		}
		c.parser.Reset()
	}
	return true
}

func (c *conn) OnClose(s *engine.Session) {
	c.srv.sessions.Remove(s)
	s.Logger().Debug().Msg("session closed")
}

// serve one complete request, returns whether conn stays open
func (c *conn) serve(s *engine.Session) (bool, error) {
	req := c.parser.Request()
	req.PeerIP, req.PeerPort = s.RemoteIP(), s.RemotePort()

	closeReq := strings.EqualFold(req.Header("Connection"), "close")
	resp := protocol.NewResponse(closeReq)

	c.dispatch(s, req, resp)
	if closeReq {
		// handler can't keep alive what client asked to close
		resp.SetCloseConnection(true)
	}

	if err := s.Write(resp.Bytes()); err != nil {
		return false, err
	}
	return !resp.CloseConnection(), nil
}

func (c *conn) dispatch(s *engine.Session, req *protocol.Request, resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger().Error().Str("url", req.URL).Str("panic", fmt.Sprint(r)).Msg("handler panic")
			*resp = *protocol.NewResponse(true)
			resp.SetStatusCode(500)
			resp.SetBodyString(bodyInternal)
		}
	}()

	if c.srv.handler == nil {
		c.srv.noHandler(resp)
		return
	}
	c.srv.handler(req, resp)
}

// best effort error response, conn is closing anyway
func (c *conn) fail(s *engine.Session, err error) {
	resp := protocol.NewResponse(true)
	if errors.Is(err, protocol.ErrTooLarge) {
		resp.SetStatusCode(protocol.StatusTooLarge)
		resp.SetBodyString(bodyTooLarge)
	} else {
		router.ResponseError(resp)
	}

	_ = s.Write(resp.Bytes())
	s.CloseAfterFlush()
}
