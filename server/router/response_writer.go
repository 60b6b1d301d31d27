package router

import (
	"encoding/json"
	"strconv"

	"github.com/s00inx/wheelhttp/server/protocol"
)

// ! Context as Response builder (setters)
func (c *Context) SetCode(code int) {
	c.Resp.SetStatusCode(code)
}

func (c *Context) SetHeader(key, val string) {
	c.Resp.AddHeader(key, val)
}

func (c *Context) SetHeaderInt(key string, val int) {
	c.Resp.AddHeader(key, strconv.Itoa(val))
}

func (c *Context) SetContentType(ct string) {
	c.Resp.SetContentType(ct)
}

// Close marks the conn to be closed after this response
func (c *Context) Close() {
	c.Resp.SetCloseConnection(true)
}

// Send sets code and raw body
func (c *Context) Send(code int, body []byte) {
	c.Resp.SetStatusCode(code)
	c.Resp.SetBody(body)
}

func (c *Context) String(code int, s string) {
	c.SetContentType("text/plain; charset=utf-8")
	c.Resp.SetStatusCode(code)
	c.Resp.SetBodyString(s)
}

// JSON encodes v as body, encoding failure turns into 500
func (c *Context) JSON(code int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		c.Resp.SetStatusCode(500)
		c.Resp.SetBody(nil)
		return err
	}
	c.SetContentType("application/json")
	c.Resp.SetStatusCode(code)
	c.Resp.SetBody(b)
	return nil
}

func (c *Context) Redirect(location string) {
	c.SetHeader("Location", location)
	c.Resp.SetStatusCode(protocol.StatusMovedPermanently)
	c.Resp.SetBody(nil)
}
