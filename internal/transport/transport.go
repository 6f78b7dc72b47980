package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Transport is a byte-stream connection polled by the download loop.
// Read never blocks: it returns whatever is buffered, possibly nothing.
type Transport interface {
	Connect(ctx context.Context, host string, port int) error
	Connected() bool
	Available() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// Dialer returns a fresh, unconnected Transport for one attempt.
type Dialer func() Transport

var ErrNotConnected = errors.New("transport not connected")

const (
	defaultDialTimeout = 10 * time.Second
	readScratchSize    = 4096
	maxBuffered        = 256 * 1024
)

// TCP implements Transport over a net.Conn. A background reader fills an
// internal buffer so Available and Read can be polled without blocking.
type TCP struct {
	DialTimeout time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	conn   net.Conn
	buf    []byte
	eof    bool
	closed bool
	done   chan struct{}
}

func NewTCP() *TCP {
	t := &TCP{DialTimeout: defaultDialTimeout}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// TCPDialer is the default Dialer.
func TCPDialer() Transport {
	return NewTCP()
}

func (t *TCP) Connect(ctx context.Context, host string, port int) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return errors.New("transport already connected")
	}
	t.mu.Unlock()

	dialer := net.Dialer{Timeout: t.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("error connecting to %s:%d: %w", host, port, err)
	}
	log.Debug().Str("op", "transport/tcp").Msgf("Connected to %s", conn.RemoteAddr())

	t.mu.Lock()
	t.conn = conn
	t.buf = t.buf[:0]
	t.eof = false
	t.closed = false
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go t.pump(conn, done)
	return nil
}

func (t *TCP) pump(conn net.Conn, done chan struct{}) {
	defer close(done)
	scratch := make([]byte, readScratchSize)
	for {
		n, err := conn.Read(scratch)
		t.mu.Lock()
		if n > 0 {
			t.buf = append(t.buf, scratch[:n]...)
		}
		if err != nil {
			if err != io.EOF && !t.closed {
				log.Debug().Str("op", "transport/tcp").Err(err).Msg("Read loop ended")
			}
			t.eof = true
			t.mu.Unlock()
			return
		}
		for len(t.buf) >= maxBuffered && !t.closed {
			t.cond.Wait()
		}
		stop := t.closed
		t.mu.Unlock()
		if stop {
			return
		}
	}
}

// Connected reports true while the socket is open or unread bytes remain.
func (t *TCP) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return false
	}
	return !t.eof || len(t.buf) > 0
}

func (t *TCP) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

func (t *TCP) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return 0, ErrNotConnected
	}
	if len(t.buf) == 0 {
		if t.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, t.buf)
	t.buf = t.buf[:copy(t.buf, t.buf[n:])]
	t.cond.Broadcast()
	return n, nil
}

func (t *TCP) Write(p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return conn.Write(p)
}

// Flush discards any input that has not been read yet.
func (t *TCP) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = t.buf[:0]
	t.cond.Broadcast()
	return nil
}

func (t *TCP) Close() error {
	t.mu.Lock()
	conn, done := t.conn, t.done
	if conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.cond.Broadcast()
	t.mu.Unlock()

	err := conn.Close()
	<-done

	t.mu.Lock()
	t.conn = nil
	t.buf = t.buf[:0]
	t.mu.Unlock()
	return err
}
