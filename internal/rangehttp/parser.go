package rangehttp

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangepull/internal/sink"
	"github.com/tanq16/rangepull/internal/transport"
)

const (
	maxStatusLine = 256
	readBufSize   = 4096
)

var headerDelimiter = []byte("\r\n\r\n")

var readBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, readBufSize)
		return &b
	},
}

// Signal is what a single fragment tells the receive loop.
type Signal int

const (
	SignalContinue Signal = iota
	SignalEndOfResource
	SignalMalformed
)

// Cursor is the per-attempt parse state. A new one is made for every
// attempt so nothing from a failed attempt leaks into the next.
type Cursor struct {
	Status      int
	HeadersDone bool
	BodyBytes   int64
	Received    int64

	statusLine []byte
	tail       [3]byte
	tailLen    int
}

func NewCursor() *Cursor {
	return &Cursor{Status: NoStatus}
}

// Parser splits a response into status, discarded headers and body.
type Parser struct {
	cursor *Cursor
	body   sink.Sink
}

func NewParser(body sink.Sink) *Parser {
	return &Parser{cursor: NewCursor(), body: body}
}

func (p *Parser) Cursor() *Cursor {
	return p.cursor
}

// Feed consumes one fragment. The returned error comes from the body sink
// and is not a parse failure.
func (p *Parser) Feed(frag []byte) (Signal, error) {
	c := p.cursor
	c.Received += int64(len(frag))
	if c.Status == NoStatus {
		if sig := c.captureStatus(frag); sig != SignalContinue {
			return sig, nil
		}
	}
	if !c.HeadersDone {
		off := c.findDelimiter(frag)
		if off < 0 {
			return SignalContinue, nil
		}
		c.HeadersDone = true
		frag = frag[off:]
	}
	if len(frag) == 0 {
		return SignalContinue, nil
	}
	if err := p.body.Accept(frag); err != nil {
		return SignalContinue, err
	}
	c.BodyBytes += int64(len(frag))
	return SignalContinue, nil
}

func (c *Cursor) captureStatus(frag []byte) Signal {
	part := frag
	if i := bytes.IndexByte(part, '\n'); i >= 0 {
		part = part[:i+1]
	}
	if room := maxStatusLine - len(c.statusLine); len(part) > room {
		part = part[:room]
	}
	c.statusLine = append(c.statusLine, part...)

	code, done := parseStatusLine(c.statusLine)
	switch {
	case done && code > 0:
		c.Status = code
		c.statusLine = nil
		if code == StatusRangeNotSatisfiable {
			return SignalEndOfResource
		}
	case done, len(c.statusLine) >= maxStatusLine:
		return SignalMalformed
	}
	return SignalContinue
}

// finishStatus settles a status line cut short by the end of the stream,
// treating the disconnect as the end of the line.
func (c *Cursor) finishStatus() Signal {
	if c.Status != NoStatus || len(c.statusLine) == 0 {
		return SignalContinue
	}
	code, _ := parseStatusLine(append(c.statusLine, '\n'))
	if code <= 0 {
		return SignalMalformed
	}
	c.Status = code
	c.statusLine = nil
	if code == StatusRangeNotSatisfiable {
		return SignalEndOfResource
	}
	return SignalContinue
}

// parseStatusLine returns the three digit token following the protocol
// version. done is false while more bytes could still change the answer;
// done with a zero code means the line is malformed.
func parseStatusLine(line []byte) (code int, done bool) {
	complete := false
	if end := bytes.IndexAny(line, "\r\n"); end >= 0 {
		line, complete = line[:end], true
	}
	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		return 0, complete
	}
	if !bytes.HasPrefix(line[:sp], []byte("HTTP/")) {
		return 0, true
	}
	rest := bytes.TrimLeft(line[sp:], " ")
	end := bytes.IndexByte(rest, ' ')
	if end < 0 {
		if !complete {
			return 0, false
		}
		end = len(rest)
	}
	token := rest[:end]
	if len(token) != 3 {
		return 0, true
	}
	n, err := strconv.Atoi(string(token))
	if err != nil || n < 100 {
		return 0, true
	}
	return n, true
}

// findDelimiter returns the offset in frag just past the header delimiter,
// or -1. The last three bytes seen are carried so a delimiter split across
// fragments is still found.
func (c *Cursor) findDelimiter(frag []byte) int {
	var scratch [6]byte
	joined := append(scratch[:0], c.tail[:c.tailLen]...)
	joined = append(joined, frag[:min(3, len(frag))]...)
	if i := bytes.Index(joined, headerDelimiter); i >= 0 {
		return i + len(headerDelimiter) - c.tailLen
	}
	if i := bytes.Index(frag, headerDelimiter); i >= 0 {
		return i + len(headerDelimiter)
	}
	if len(frag) >= 3 {
		c.tailLen = copy(c.tail[:], frag[len(frag)-3:])
		return -1
	}
	joined = append(scratch[:0], c.tail[:c.tailLen]...)
	joined = append(joined, frag...)
	c.tailLen = copy(c.tail[:], joined[max(0, len(joined)-3):])
	return -1
}

type Outcome int

const (
	OutcomeTransient Outcome = iota
	OutcomeStatus
	OutcomeEndOfResource
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStatus:
		return "status"
	case OutcomeEndOfResource:
		return "end-of-resource"
	default:
		return "transient-failure"
	}
}

// Result is the outcome of one attempt. Err names the cause of a
// transient failure.
type Result struct {
	Outcome   Outcome
	Status    int
	Err       error
	BodyBytes int64
}

type waitConfig struct {
	initial time.Duration
	read    time.Duration
	yield   func()
}

// poll yields once and reports context cancellation.
func (w waitConfig) poll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.yield()
	return nil
}

// Receive runs the parser against t until the server finishes, stalls or
// signals end of resource. The transport is flushed and closed before
// returning in every case. The returned error is fatal (context or sink);
// transient problems are reported through Result.
func (p *Parser) Receive(ctx context.Context, t transport.Transport, w waitConfig, logger zerolog.Logger) (Result, error) {
	defer func() {
		t.Flush()
		t.Close()
		logger.Debug().Str("op", "rangehttp/parser").Msg("Connection closed")
	}()

	logger.Debug().Str("op", "rangehttp/parser").Msg("Waiting for response")
	started := time.Now()
	for t.Connected() && t.Available() == 0 && time.Since(started) < w.initial {
		if err := w.poll(ctx); err != nil {
			return Result{}, err
		}
	}
	if t.Available() == 0 {
		logger.Error().Str("op", "rangehttp/parser").Msg("No/empty response")
		return Result{Outcome: OutcomeTransient, Status: NoStatus, Err: ErrEmptyResponse}, nil
	}

	bufp := readBufPool.Get().(*[]byte)
	defer readBufPool.Put(bufp)
	buf := *bufp

	c := p.cursor
	lastRead := time.Now()
	for {
		avail := t.Available()
		if avail > 0 {
			n, err := t.Read(buf[:min(avail, len(buf))])
			if err != nil && n == 0 {
				logger.Debug().Str("op", "rangehttp/parser").Err(err).Msg("Read failed")
				break
			}
			if n > 0 {
				lastRead = time.Now()
				logger.Debug().Str("op", "rangehttp/parser").Msgf("Bytes available: %d", n)
				sig, err := p.Feed(buf[:n])
				if err != nil {
					return Result{}, fmt.Errorf("error delivering body: %w", err)
				}
				switch sig {
				case SignalEndOfResource:
					logger.Debug().Str("op", "rangehttp/parser").Msg("Range not satisfiable, resource complete")
					return Result{Outcome: OutcomeEndOfResource, Status: c.Status}, nil
				case SignalMalformed:
					logger.Error().Str("op", "rangehttp/parser").Msg("Malformed status line")
					return Result{Outcome: OutcomeTransient, Status: NoStatus, Err: ErrMalformedStatus}, nil
				}
			}
		} else if !t.Connected() {
			break
		} else if time.Since(lastRead) >= w.read {
			logger.Error().Str("op", "rangehttp/parser").Msgf("No data for %s, abandoning attempt", w.read)
			return Result{Outcome: OutcomeTransient, Status: NoStatus, Err: ErrStalled}, nil
		}
		if err := w.poll(ctx); err != nil {
			return Result{}, err
		}
	}

	logger.Debug().Str("op", "rangehttp/parser").Msgf("Bytes read: %d (body %d)", c.Received, c.BodyBytes)
	if c.finishStatus() == SignalEndOfResource {
		logger.Debug().Str("op", "rangehttp/parser").Msg("Range not satisfiable, resource complete")
		return Result{Outcome: OutcomeEndOfResource, Status: c.Status}, nil
	}
	switch {
	case c.Status == NoStatus:
		return Result{Outcome: OutcomeTransient, Status: NoStatus, Err: ErrMalformedStatus}, nil
	case !c.HeadersDone:
		return Result{Outcome: OutcomeTransient, Status: NoStatus, Err: ErrNoBody}, nil
	}
	return Result{Outcome: OutcomeStatus, Status: c.Status, BodyBytes: c.BodyBytes}, nil
}
