// context is Response builder + Request !
package router

import (
	"strings"

	"github.com/s00inx/wheelhttp/server/protocol"
)

type Context struct {
	Req  *protocol.Request
	Resp *protocol.Response
}

// Reset binds pooled context to new request/response pair
func (c *Context) Reset(req *protocol.Request, resp *protocol.Response) {
	c.Req = req
	c.Resp = resp
}

// !! Context as abstraction upon Request (getters)
// get Request method
func (c *Context) Method() string {
	return c.Req.Method
}

// get full request target
func (c *Context) URL() string {
	return c.Req.URL
}

// get Request path w/o query
func (c *Context) Path() string {
	path, _, _ := strings.Cut(c.Req.URL, "?")
	return path
}

func (c *Context) Query() string {
	_, q, _ := strings.Cut(c.Req.URL, "?")
	return q
}

func (c *Context) QueryGet(key string) string {
	q := c.Query()
	for len(q) > 0 {
		var pair string
		pair, q, _ = strings.Cut(q, "&")

		before, after, ok := strings.Cut(pair, "=")
		if ok && before == key {
			return after
		}
	}
	return ""
}

func (c *Context) Protocol() string {
	return c.Req.Proto
}

func (c *Context) Headers() map[string]string {
	return c.Req.Headers
}

func (c *Context) Header(key string) string {
	return c.Req.Header(key)
}

func (c *Context) Body() []byte {
	return c.Req.Body
}

func (c *Context) PeerIP() string {
	return c.Req.PeerIP
}

func (c *Context) PeerPort() int {
	return c.Req.PeerPort
}
