package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Fragment is one read-sized piece of a scripted response, made available
// Delay after the previous fragment (or after the request, for the first).
type Fragment struct {
	Delay time.Duration
	Data  []byte
}

// Script describes how one mock connection behaves.
type Script struct {
	ConnectErr error
	Fragments  []Fragment
	// Hold keeps the connection open after the last fragment, which looks
	// like a stalled server to the reader.
	Hold bool
}

// Responder builds a Script from the full request bytes.
type Responder func(request []byte) Script

// Mock hands out scripted connections. Scripts are consumed in order; the
// last one is reused once they run out. If Respond is set it takes
// precedence over the static scripts for connections that connect.
type Mock struct {
	Respond Responder

	mu       sync.Mutex
	scripts  []Script
	next     int
	connects []time.Time
	requests [][]byte
	closes   int
}

func NewMock(scripts ...Script) *Mock {
	return &Mock{scripts: scripts}
}

// Dial satisfies Dialer.
func (m *Mock) Dial() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Script
	if len(m.scripts) > 0 {
		idx := min(m.next, len(m.scripts)-1)
		s = m.scripts[idx]
		m.next++
	}
	return &MockConn{mock: m, script: s}
}

func (m *Mock) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connects)
}

func (m *Mock) ConnectTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.connects...)
}

func (m *Mock) Requests() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.requests))
	for i, r := range m.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

func (m *Mock) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// MockConn is a single scripted connection.
type MockConn struct {
	mock   *Mock
	script Script

	mu        sync.Mutex
	connected bool
	request   bytes.Buffer
	sentAt    time.Time
	released  int
	pending   []byte
	frags     []Fragment
}

func (c *MockConn) Connect(ctx context.Context, host string, port int) error {
	c.mock.mu.Lock()
	c.mock.connects = append(c.mock.connects, time.Now())
	c.mock.mu.Unlock()
	if c.script.ConnectErr != nil {
		return fmt.Errorf("error connecting to %s:%d: %w", host, port, c.script.ConnectErr)
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// release moves fragments whose time has come into pending. Caller holds c.mu.
func (c *MockConn) release() {
	if c.sentAt.IsZero() {
		return
	}
	if len(c.pending) > 0 {
		return
	}
	var due time.Duration
	for i := 0; i <= c.released && i < len(c.frags); i++ {
		due += c.frags[i].Delay
	}
	if c.released < len(c.frags) && time.Since(c.sentAt) >= due {
		c.pending = c.frags[c.released].Data
		c.released++
	}
}

func (c *MockConn) drained() bool {
	return !c.sentAt.IsZero() && c.released >= len(c.frags) && len(c.pending) == 0
}

func (c *MockConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return false
	}
	c.release()
	return !(c.drained() && !c.script.Hold)
}

// Available reports the size of the current fragment only, so the reader
// sees the same fragment boundaries the script declares.
func (c *MockConn) Available() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0
	}
	c.release()
	return len(c.pending)
}

func (c *MockConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, ErrNotConnected
	}
	c.release()
	if len(c.pending) == 0 {
		if c.drained() && !c.script.Hold {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *MockConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, ErrNotConnected
	}
	c.request.Write(p)
	if c.sentAt.IsZero() && bytes.HasSuffix(c.request.Bytes(), []byte("\r\n\r\n")) {
		c.sentAt = time.Now()
		req := append([]byte(nil), c.request.Bytes()...)
		c.mock.mu.Lock()
		c.mock.requests = append(c.mock.requests, req)
		respond := c.mock.Respond
		c.mock.mu.Unlock()
		c.frags = c.script.Fragments
		if respond != nil {
			s := respond(req)
			c.frags, c.script.Hold = s.Fragments, s.Hold
		}
	}
	return len(p), nil
}

func (c *MockConn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	return nil
}

func (c *MockConn) Close() error {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()
	if wasConnected {
		c.mock.mu.Lock()
		c.mock.closes++
		c.mock.mu.Unlock()
	}
	return nil
}

var rangeHeaderRegex = regexp.MustCompile(`(?m)^Range: bytes=(\d+)-(\d+)\r$`)

// ServeRange returns a Responder that answers ranged GETs for resource the
// way an HTTP/1.1 server would: 206 with the inclusive range clipped to the
// resource, or 416 once the start is past the end. Bodies are split into
// fragments of at most fragSize bytes.
func ServeRange(resource []byte, fragSize int) Responder {
	return func(request []byte) Script {
		m := rangeHeaderRegex.FindSubmatch(request)
		if m == nil {
			return Script{Fragments: []Fragment{{Data: []byte("HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")}}}
		}
		start, _ := strconv.ParseInt(string(m[1]), 10, 64)
		end, _ := strconv.ParseInt(string(m[2]), 10, 64)
		size := int64(len(resource))
		if start >= size {
			return Script{Fragments: []Fragment{{Data: []byte(fmt.Sprintf(
				"HTTP/1.1 416 Range Not Satisfiable\r\nContent-Range: bytes */%d\r\nConnection: close\r\n\r\n", size))}}}
		}
		end = min(end, size-1)
		body := resource[start : end+1]
		raw := fmt.Appendf(nil, "HTTP/1.1 206 Partial Content\r\nContent-Range: bytes %d-%d/%d\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
			start, end, size, len(body))
		raw = append(raw, body...)
		return Script{Fragments: Split(raw, fragSize)}
	}
}

// Split cuts data into zero-delay fragments of at most size bytes.
func Split(data []byte, size int) []Fragment {
	if size <= 0 {
		size = len(data)
	}
	var out []Fragment
	for len(data) > 0 {
		n := min(size, len(data))
		out = append(out, Fragment{Data: data[:n]})
		data = data[n:]
	}
	return out
}
