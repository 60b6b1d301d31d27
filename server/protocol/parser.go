// incremental HTTP/1.x request parser
// only parser logic, it can be fed w any fragments of the stream (down to 1 byte)
// and gives the same result as parsing the whole message at once
package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	MaxHeaderBytes  = 64 << 10 // request line + header block
	DefaultMaxBody  = 4 << 20
	maxMethodLength = 16
	maxVersionBytes = 8 // HTTP/x.y
	maxBodyPrealloc = 64 << 10
)

// state of the request state machine
type state uint8

const (
	stMethod state = iota
	stURL
	stVersion
	stVersionLF
	stLineStart // start of header line or empty line
	stName
	stValueStart // skip OWS before value
	stValue
	stValueLF
	stHeadersLF
	stBody
	stChunkSize
	stChunkExt
	stChunkSizeLF
	stChunkData
	stChunkDataCR
	stChunkDataLF
	stTrailerStart
	stTrailer
	stTrailerLF
	stDone
)

// two-bit header state: pending pair is committed to the map only when
// a new name starts after a value was seen, or when the header block ends
const (
	hasName uint8 = 1 << iota
	hasValue
)

// known request methods
var methods = map[string]struct{}{
	"GET":     {},
	"HEAD":    {},
	"POST":    {},
	"PUT":     {},
	"PATCH":   {},
	"DELETE":  {},
	"OPTIONS": {},
	"CONNECT": {},
	"TRACE":   {},
}

// Request is the parse result.
// headers map and body are valid until next Reset
type Request struct {
	Method  string
	URL     string
	Proto   string
	Headers map[string]string // case-sensitive names, last write wins
	Body    []byte

	PeerIP   string
	PeerPort int
}

// Header returns header value or "" if there is no such header
func (r *Request) Header(name string) string {
	return r.Headers[name]
}

// Parser is a per-conn state machine, no shared state between instances
type Parser struct {
	req Request

	st      state
	err     error
	done    bool
	head    int    // bytes of request line + headers seen
	tok     []byte // method / url / version accumulation
	maxBody int64

	hstate uint8
	name   []byte
	value  []byte

	contentLen int64 // -1 = not set
	chunked    bool
	remain     int64 // body or chunk bytes left
}

// NewParser makes parser, maxBody <= 0 means DefaultMaxBody
func NewParser(maxBody int64) *Parser {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	p := &Parser{maxBody: maxBody}
	p.req.Headers = make(map[string]string)
	p.Reset()
	return p
}

// Reset restores pre-parse state, so the same parser handles next message on keep-alive conn
func (p *Parser) Reset() {
	p.req.Method = ""
	p.req.URL = ""
	p.req.Proto = ""
	p.req.Body = nil
	clear(p.req.Headers)

	p.st = stMethod
	p.err = nil
	p.done = false
	p.head = 0
	p.tok = p.tok[:0]

	p.hstate = 0
	p.name = p.name[:0]
	p.value = p.value[:0]

	p.contentLen = -1
	p.chunked = false
	p.remain = 0
}

// Complete reports whether a whole message was parsed
func (p *Parser) Complete() bool { return p.done }

func (p *Parser) Request() *Request { return &p.req }

func (p *Parser) Method() string { return p.req.Method }

func (p *Parser) URL() string { return p.req.URL }

func (p *Parser) Body() []byte { return p.req.Body }

func (p *Parser) Headers() map[string]string { return p.req.Headers }

func (p *Parser) Header(name string) string { return p.req.Headers[name] }

func (p *Parser) Err() error { return p.err }

// Feed consumes b and returns how many bytes belong to current message.
// it stops right after a complete message, the rest of b is the next (pipelined) one.
// error is sticky until Reset
func (p *Parser) Feed(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if p.done {
		return 0, nil
	}

	n, err := p.feed(b)
	if err != nil {
		p.err = err
	}
	return n, err
}

func (p *Parser) feed(b []byte) (int, error) {
	i := 0
	for i < len(b) && !p.done {
		if p.st < stBody {
			if p.head++; p.head > MaxHeaderBytes {
				return i, fmt.Errorf("%w: header block over %d bytes", ErrTooLarge, MaxHeaderBytes)
			}
		}

		c := b[i]
		switch p.st {
		case stMethod:
			switch {
			case (c == '\r' || c == '\n') && len(p.tok) == 0:
				// empty lines before request line are ignored
			case c == ' ':
				m := string(p.tok)
				if _, ok := methods[m]; !ok {
					return i, fmt.Errorf("%w: unknown method %q", ErrInvalid, m)
				}
				p.req.Method = m
				p.tok = p.tok[:0]
				p.st = stURL
			case c >= 'A' && c <= 'Z' && len(p.tok) < maxMethodLength:
				p.tok = append(p.tok, c)
			default:
				return i, fmt.Errorf("%w: bad method", ErrInvalid)
			}
			i++

		case stURL:
			j := i
			for j < len(b) && isURLChar(b[j]) {
				j++
			}
			p.head += j - i - 1
			if p.head > MaxHeaderBytes {
				return j, fmt.Errorf("%w: url too long", ErrTooLarge)
			}
			p.tok = append(p.tok, b[i:j]...)
			if j == len(b) {
				return j, nil
			}
			if b[j] != ' ' || len(p.tok) == 0 {
				return j, fmt.Errorf("%w: bad url", ErrInvalid)
			}
			p.req.URL = string(p.tok)
			p.tok = p.tok[:0]
			p.st = stVersion
			p.head++ // delimiter
			i = j + 1

		case stVersion:
			if c == '\r' {
				if !validVersion(p.tok) {
					return i, fmt.Errorf("%w: bad version %q", ErrInvalid, p.tok)
				}
				p.req.Proto = string(p.tok)
				p.tok = p.tok[:0]
				p.st = stVersionLF
			} else if len(p.tok) < maxVersionBytes {
				p.tok = append(p.tok, c)
			} else {
				return i, fmt.Errorf("%w: bad version", ErrInvalid)
			}
			i++

		case stVersionLF, stValueLF:
			if c != '\n' {
				return i, fmt.Errorf("%w: expected LF", ErrInvalid)
			}
			p.st = stLineStart
			i++

		case stLineStart:
			switch {
			case c == '\r':
				p.st = stHeadersLF
				i++
			case isToken(c):
				p.head-- // no consume, name state counts it
				p.st = stName
			default:
				return i, fmt.Errorf("%w: bad header line", ErrInvalid)
			}

		case stName:
			j := i
			for j < len(b) && isToken(b[j]) {
				j++
			}
			p.head += j - i - 1
			if j > i {
				p.onHeaderName(b[i:j])
			}
			if j == len(b) {
				return j, p.checkHead()
			}
			if b[j] != ':' {
				return j, fmt.Errorf("%w: bad header name", ErrInvalid)
			}
			// value is observed from here, even when it turns out to be empty
			p.onHeaderValue(nil)
			p.st = stValueStart
			p.head++
			i = j + 1
			if err := p.checkHead(); err != nil {
				return i, err
			}

		case stValueStart:
			switch c {
			case ' ', '\t':
				i++
			case '\r':
				p.st = stValueLF
				i++
			default:
				p.head--
				p.st = stValue
			}

		case stValue:
			j := i
			for j < len(b) && b[j] != '\r' {
				if b[j] == '\n' || (b[j] < ' ' && b[j] != '\t') || b[j] == 0x7f {
					return j, fmt.Errorf("%w: bad header value", ErrInvalid)
				}
				j++
			}
			p.head += j - i - 1
			if j > i {
				p.onHeaderValue(b[i:j])
			}
			if j == len(b) {
				return j, p.checkHead()
			}
			p.st = stValueLF
			p.head++
			i = j + 1
			if err := p.checkHead(); err != nil {
				return i, err
			}

		case stHeadersLF:
			if c != '\n' {
				return i, fmt.Errorf("%w: expected LF", ErrInvalid)
			}
			i++
			if err := p.onHeadersComplete(); err != nil {
				return i, err
			}

		case stBody:
			n := min(int64(len(b)-i), p.remain)
			p.req.Body = append(p.req.Body, b[i:i+int(n)]...)
			p.remain -= n
			i += int(n)
			if p.remain == 0 {
				p.onComplete()
			}

		case stChunkSize:
			switch {
			case unhex(c) >= 0:
				// next digit multiplies by 16, check before the shift can overflow
				if p.remain > p.maxBody>>4 {
					return i, fmt.Errorf("%w: chunk too large", ErrTooLarge)
				}
				p.remain = p.remain<<4 | int64(unhex(c))
				p.tok = append(p.tok, c)
			case (c == ';' || c == ' ' || c == '\t') && len(p.tok) > 0:
				p.st = stChunkExt
			case c == '\r' && len(p.tok) > 0:
				p.st = stChunkSizeLF
			default:
				return i, fmt.Errorf("%w: bad chunk size", ErrInvalid)
			}
			i++

		case stChunkExt:
			if c == '\r' {
				p.st = stChunkSizeLF
			}
			i++

		case stChunkSizeLF:
			if c != '\n' {
				return i, fmt.Errorf("%w: expected LF", ErrInvalid)
			}
			p.tok = p.tok[:0]
			i++
			if p.remain < 0 {
				return i, fmt.Errorf("%w: bad chunk size", ErrInvalid)
			}
			if p.remain == 0 {
				p.st = stTrailerStart
				break
			}
			if int64(len(p.req.Body))+p.remain > p.maxBody {
				return i, fmt.Errorf("%w: body over %d bytes", ErrTooLarge, p.maxBody)
			}
			p.st = stChunkData

		case stChunkData:
			n := min(int64(len(b)-i), p.remain)
			p.req.Body = append(p.req.Body, b[i:i+int(n)]...)
			p.remain -= n
			i += int(n)
			if p.remain == 0 {
				p.st = stChunkDataCR
			}

		case stChunkDataCR:
			if c != '\r' {
				return i, fmt.Errorf("%w: expected CR after chunk", ErrInvalid)
			}
			p.st = stChunkDataLF
			i++

		case stChunkDataLF:
			if c != '\n' {
				return i, fmt.Errorf("%w: expected LF after chunk", ErrInvalid)
			}
			p.st = stChunkSize
			i++

		case stTrailerStart:
			if c == '\r' {
				p.st = stTrailerLF
			} else {
				p.st = stTrailer // trailer fields are skipped
			}
			i++

		case stTrailer:
			if c == '\n' {
				p.st = stTrailerStart
			}
			i++

		case stTrailerLF:
			if c != '\n' {
				return i, fmt.Errorf("%w: expected LF", ErrInvalid)
			}
			i++
			p.onComplete()
		}
	}
	return i, nil
}

func (p *Parser) checkHead() error {
	if p.head > MaxHeaderBytes {
		return fmt.Errorf("%w: header block over %d bytes", ErrTooLarge, MaxHeaderBytes)
	}
	return nil
}

// name fragment: if a value was already seen, pending pair is complete
func (p *Parser) onHeaderName(b []byte) {
	if p.hstate&hasValue != 0 {
		p.commitHeader()
	}
	p.name = append(p.name, b...)
	p.hstate |= hasName
}

// value fragment, may be empty
func (p *Parser) onHeaderValue(b []byte) {
	p.value = append(p.value, b...)
	p.hstate |= hasValue
}

func (p *Parser) commitHeader() {
	name := string(p.name)
	value := string(bytes.TrimRight(p.value, " \t"))
	p.req.Headers[name] = value

	switch {
	case strings.EqualFold(name, "Content-Length"):
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && isDigits(value) {
			p.contentLen = n
		} else {
			p.contentLen = -2 // reported in onHeadersComplete
		}
	case strings.EqualFold(name, "Transfer-Encoding"):
		p.chunked = hasChunked(value)
	}

	p.name = p.name[:0]
	p.value = p.value[:0]
	p.hstate = 0
}

func (p *Parser) onHeadersComplete() error {
	if p.hstate&hasName != 0 {
		p.commitHeader()
	}

	switch {
	case p.chunked:
		p.st = stChunkSize
		p.remain = 0
	case p.contentLen == -2:
		return fmt.Errorf("%w: bad Content-Length", ErrInvalid)
	case p.contentLen > p.maxBody:
		return fmt.Errorf("%w: body over %d bytes", ErrTooLarge, p.maxBody)
	case p.contentLen > 0:
		p.st = stBody
		p.remain = p.contentLen
		p.req.Body = make([]byte, 0, min(p.contentLen, maxBodyPrealloc))
	default:
		// no Content-Length means request has NO body
		p.onComplete()
	}
	return nil
}

func (p *Parser) onComplete() {
	p.st = stDone
	p.done = true
}

func validVersion(v []byte) bool {
	return len(v) == 8 && bytes.HasPrefix(v, []byte("HTTP/1.")) && v[7] >= '0' && v[7] <= '9'
}

func isURLChar(c byte) bool {
	return c > ' ' && c != 0x7f
}

// token chars from RFC 9110
func isToken(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// ParseInt alone takes a sign
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// chunked must be the last coding
func hasChunked(v string) bool {
	const c = "chunked"
	v = strings.TrimSpace(v)
	return len(v) >= len(c) && strings.EqualFold(v[len(v)-len(c):], c)
}
