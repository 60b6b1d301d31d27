package protocol

import (
	"maps"
	"slices"
)

// lookup table for reason phrases
// i use flat list instead of map bc codes is fixed
var statusTable = [512]string{
	// 1xx
	100: "Continue",
	101: "Switching Protocols",

	// 2xx
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",

	// 3xx
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",

	// 4xx
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Payload Too Large",

	// 5xx
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

const (
	StatusOK               = 200
	StatusMovedPermanently = 301
	StatusBadRequest       = 400
	StatusNotFound         = 404
	StatusTooLarge         = 413
)

// StatusText returns reason phrase for code or "" if code is unknown
func StatusText(code int) string {
	if code < 0 || code >= len(statusTable) {
		return ""
	}
	return statusTable[code]
}

// for fast access
var (
	proto     = []byte("HTTP/1.1 ")
	crlf      = []byte("\r\n")
	colon     = []byte(": ")
	connClose = []byte("Connection: close\r\n")
	connAlive = []byte("Connection: Keep-Alive\r\n")
	clenKey   = []byte("Content-Length: ")
)

// Response is built by handler and serialized once
type Response struct {
	code    int
	message string
	headers map[string]string
	body    []byte
	close   bool
}

// NewResponse makes response, close is the initial keep-alive decision
func NewResponse(close bool) *Response {
	return &Response{close: close}
}

func (r *Response) SetStatusCode(code int)      { r.code = code }
func (r *Response) SetStatusMessage(msg string) { r.message = msg }
func (r *Response) SetCloseConnection(on bool)  { r.close = on }
func (r *Response) CloseConnection() bool       { return r.close }
func (r *Response) SetContentType(ct string)    { r.AddHeader("Content-Type", ct) }
func (r *Response) SetBody(body []byte)         { r.body = body }
func (r *Response) SetBodyString(body string)   { r.body = []byte(body) }
func (r *Response) Body() []byte                { return r.body }
func (r *Response) Header(name string) string   { return r.headers[name] }

// StatusCode returns code, unset code means 200
func (r *Response) StatusCode() int {
	if r.code == 0 {
		return StatusOK
	}
	return r.code
}

// AddHeader sets header, same key overwrites
func (r *Response) AddHeader(key, value string) {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
}

// AppendTo serializes response into dst:
// status line, framing (close or length + keep-alive), headers sorted by key, blank line, body
func (r *Response) AppendTo(dst []byte) []byte {
	code := r.StatusCode()
	msg := r.message
	if msg == "" {
		msg = StatusText(code)
	}

	dst = append(dst, proto...)
	dst = AppendUint(dst, uint(code))
	dst = append(dst, ' ')
	dst = append(dst, msg...)
	dst = append(dst, crlf...)

	if r.close {
		dst = append(dst, connClose...)
	} else {
		dst = append(dst, clenKey...)
		dst = AppendUint(dst, uint(len(r.body)))
		dst = append(dst, crlf...)
		dst = append(dst, connAlive...)
	}

	for _, k := range slices.Sorted(maps.Keys(r.headers)) {
		dst = append(dst, k...)
		dst = append(dst, colon...)
		dst = append(dst, r.headers[k]...)
		dst = append(dst, crlf...)
	}

	dst = append(dst, crlf...)
	return append(dst, r.body...)
}

// Bytes returns serialized response
func (r *Response) Bytes() []byte {
	return r.AppendTo(make([]byte, 0, 128+len(r.body)))
}

// helper func to append int to buf w/o strconv allocs,
// n should be uint bc / 10 (and % 10) for uints is faster
func AppendUint(dst []byte, n uint) []byte {
	if n == 0 {
		return append(dst, '0')
	}

	var tmp [20]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte(n%10) + '0'
		n /= 10
	}
	return append(dst, tmp[i:]...)
}
