package router

import (
	"github.com/s00inx/wheelhttp/server/protocol"
)

// handler func signature, it works only with context.
// handler is synchronous and should be fast, it runs on the conn read goroutine
type Handler func(c *Context)

// fixed json bodies for default responses
const (
	bodyOK        = "{\"code\": 0, \"message\": \"\"}\n"
	bodyBadMethod = "{\"code\": 1, \"message\": \"Bad Method\"}\n"
	bodyNotFound  = "{\"code\": 1, \"message\": \"Not Found\"}\n"
)

// ResponseOk fills resp w generic success
func ResponseOk(resp *protocol.Response) {
	resp.SetStatusCode(protocol.StatusOK)
	resp.SetBodyString(bodyOK)
}

// ResponseError fills resp w 400 and closes the conn after it
func ResponseError(resp *protocol.Response) {
	resp.SetStatusCode(protocol.StatusBadRequest)
	resp.SetBodyString(bodyBadMethod)
	resp.SetCloseConnection(true)
}

// NotFound fills resp w 404 and closes the conn after it
func NotFound(resp *protocol.Response) {
	resp.SetStatusCode(protocol.StatusNotFound)
	resp.SetBodyString(bodyNotFound)
	resp.SetCloseConnection(true)
}
