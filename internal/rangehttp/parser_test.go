package rangehttp

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangepull/internal/sink"
	"github.com/tanq16/rangepull/internal/transport"
)

func collector(buf *bytes.Buffer) sink.Sink {
	return sink.AcceptFunc(func(p []byte) error {
		buf.Write(p)
		return nil
	})
}

func TestParseStatusLine(t *testing.T) {
	tests := []struct {
		line     string
		wantCode int
		wantDone bool
	}{
		{"HTTP/1.1 206 Partial Content\r\n", 206, true},
		{"HTTP/1.0 416 Requested Range Not Satisfiable\r\n", 416, true},
		{"HTTP/1.1  200  OK\r\n", 200, true},
		{"HTTP/1.1 404\r\n", 404, true},
		{"HTTP/1.1 206 ", 206, true},
		{"HTTP/1.1 20", 0, false},
		{"HTTP/1.", 0, false},
		{"HTTP/1.1 2x6 OK\r\n", 0, true},
		{"HTTP/1.1 2066 OK\r\n", 0, true},
		{"HTTP/1.1 099 OK\r\n", 0, true},
		{"GARBAGE\r\n", 0, true},
		{"ICY 200 OK\r\n", 0, true},
		{"HTTP/1.1\r\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			code, done := parseStatusLine([]byte(tt.line))
			if code != tt.wantCode || done != tt.wantDone {
				t.Errorf("parseStatusLine(%q) = (%d, %v), want (%d, %v)", tt.line, code, done, tt.wantCode, tt.wantDone)
			}
		})
	}
}

func TestParserFeed_EverySplitPoint(t *testing.T) {
	raw := []byte("HTTP/1.1 206 Partial Content\r\nContent-Range: bytes 0-9/20\r\nConnection: close\r\n\r\n0123456789")

	for i := 1; i < len(raw); i++ {
		var got bytes.Buffer
		p := NewParser(collector(&got))
		for _, frag := range [][]byte{raw[:i], raw[i:]} {
			sig, err := p.Feed(frag)
			if err != nil || sig != SignalContinue {
				t.Fatalf("split %d: Feed() = (%v, %v)", i, sig, err)
			}
		}
		c := p.Cursor()
		if c.Status != 206 {
			t.Errorf("split %d: status = %d, want 206", i, c.Status)
		}
		if !c.HeadersDone {
			t.Errorf("split %d: headers not done", i)
		}
		if got.String() != "0123456789" {
			t.Errorf("split %d: body = %q", i, got.String())
		}
		if c.BodyBytes != 10 || c.Received != int64(len(raw)) {
			t.Errorf("split %d: body bytes = %d, received = %d", i, c.BodyBytes, c.Received)
		}
	}
}

func TestParserFeed_ByteAtATime(t *testing.T) {
	raw := []byte("HTTP/1.1 206 Partial Content\r\nX-A: b\r\n\r\n\r\nbody")
	var got bytes.Buffer
	p := NewParser(collector(&got))
	for i := range raw {
		if _, err := p.Feed(raw[i : i+1]); err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
	}
	// Only the first delimiter ends the headers; the rest is body.
	if got.String() != "\r\nbody" {
		t.Errorf("body = %q, want %q", got.String(), "\r\nbody")
	}
}

func TestParserFeed_StraddledDelimiter(t *testing.T) {
	var got bytes.Buffer
	p := NewParser(collector(&got))
	p.Feed([]byte("HTTP/1.1 206 Partial Content\r\nX: y\r\n\r"))
	if p.Cursor().HeadersDone {
		t.Fatal("headers done before the delimiter completed")
	}
	p.Feed([]byte("\nBODY"))
	if got.String() != "BODY" {
		t.Errorf("body = %q, want BODY", got.String())
	}
}

func TestParserFeed_RangeNotSatisfiable(t *testing.T) {
	var got bytes.Buffer
	p := NewParser(collector(&got))
	sig, err := p.Feed([]byte("HTTP/1.1 416 Range Not Satisfiable\r\n\r\nignored"))
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if sig != SignalEndOfResource {
		t.Errorf("signal = %v, want end of resource", sig)
	}
	if got.Len() != 0 {
		t.Errorf("body delivered for 416: %q", got.String())
	}
}

func TestParserFeed_Malformed(t *testing.T) {
	inputs := []string{
		"GARBAGE\r\n\r\n",
		"HTTP/1.1 abc OK\r\n\r\n",
		string(bytes.Repeat([]byte("x"), maxStatusLine+10)),
	}
	for _, in := range inputs {
		p := NewParser(collector(new(bytes.Buffer)))
		sig, _ := p.Feed([]byte(in))
		if sig != SignalMalformed {
			t.Errorf("Feed(%.20q) signal = %v, want malformed", in, sig)
		}
	}
}

func TestParserFeed_SinkError(t *testing.T) {
	boom := errors.New("disk full")
	p := NewParser(sink.AcceptFunc(func([]byte) error { return boom }))
	_, err := p.Feed([]byte("HTTP/1.1 206 OK\r\n\r\ndata"))
	if !errors.Is(err, boom) {
		t.Errorf("Feed() error = %v, want %v", err, boom)
	}
}

func receive(t *testing.T, script transport.Script, w waitConfig) (Result, string, *transport.Mock, error) {
	t.Helper()
	m := transport.NewMock(script)
	conn := m.Dial()
	if err := conn.Connect(testContext(t), "h", 80); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	var got bytes.Buffer
	res, err := NewParser(collector(&got)).Receive(testContext(t), conn, w, zerolog.Nop())
	return res, got.String(), m, err
}

func testWait() waitConfig {
	return waitConfig{initial: 200 * time.Millisecond, read: 50 * time.Millisecond, yield: runtime.Gosched}
}

func TestReceive_Complete(t *testing.T) {
	script := transport.Script{Fragments: transport.Split([]byte("HTTP/1.1 206 Partial Content\r\nA: b\r\n\r\nhello world"), 4)}
	res, body, m, err := receive(t, script, testWait())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if res.Outcome != OutcomeStatus || res.Status != 206 || res.BodyBytes != 11 {
		t.Errorf("Receive() = %+v", res)
	}
	if body != "hello world" {
		t.Errorf("body = %q", body)
	}
	if m.Closes() != 1 {
		t.Errorf("closes = %d, want 1", m.Closes())
	}
}

func TestReceive_EmptyResponse(t *testing.T) {
	// Server closes without sending anything.
	res, _, _, err := receive(t, transport.Script{}, testWait())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if res.Outcome != OutcomeTransient || !errors.Is(res.Err, ErrEmptyResponse) {
		t.Errorf("Receive() = %+v, want empty response", res)
	}
}

func TestReceive_InitialTimeout(t *testing.T) {
	w := testWait()
	started := time.Now()
	res, _, _, err := receive(t, transport.Script{Hold: true}, w)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !errors.Is(res.Err, ErrEmptyResponse) {
		t.Errorf("Receive() = %+v, want empty response", res)
	}
	if elapsed := time.Since(started); elapsed < w.initial {
		t.Errorf("gave up after %s, want at least %s", elapsed, w.initial)
	}
}

func TestReceive_Stalled(t *testing.T) {
	script := transport.Script{
		Fragments: []transport.Fragment{{Data: []byte("HTTP/1.1 206 Partial Content\r\n\r\nab")}},
		Hold:      true,
	}
	res, _, m, err := receive(t, script, testWait())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if res.Outcome != OutcomeTransient || !errors.Is(res.Err, ErrStalled) || res.Status != NoStatus {
		t.Errorf("Receive() = %+v, want stalled", res)
	}
	if m.Closes() != 1 {
		t.Errorf("closes = %d, want 1", m.Closes())
	}
}

func TestReceive_DelayedFragmentWithinReadTimeout(t *testing.T) {
	script := transport.Script{Fragments: []transport.Fragment{
		{Data: []byte("HTTP/1.1 206 Partial Content\r\n\r\n")},
		{Delay: 20 * time.Millisecond, Data: []byte("late")},
	}}
	res, body, _, err := receive(t, script, testWait())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if res.Outcome != OutcomeStatus || body != "late" {
		t.Errorf("Receive() = %+v, body %q", res, body)
	}
}

func TestReceive_NoDelimiter(t *testing.T) {
	script := transport.Script{Fragments: []transport.Fragment{{Data: []byte("HTTP/1.1 206 Partial Content\r\nA: b\r\n")}}}
	res, _, _, err := receive(t, script, testWait())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !errors.Is(res.Err, ErrNoBody) {
		t.Errorf("Receive() = %+v, want no body", res)
	}
}

func TestReceive_EndOfResource(t *testing.T) {
	script := transport.Script{Fragments: []transport.Fragment{{Data: []byte("HTTP/1.1 416 Range Not Satisfiable\r\n\r\n")}}, Hold: true}
	res, _, m, err := receive(t, script, testWait())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if res.Outcome != OutcomeEndOfResource || res.Status != 416 {
		t.Errorf("Receive() = %+v, want end of resource", res)
	}
	if m.Closes() != 1 {
		t.Errorf("closes = %d, want 1", m.Closes())
	}
}

func TestReceive_StatusCutByDisconnect(t *testing.T) {
	tests := []struct {
		raw     string
		outcome Outcome
		status  int
		cause   error
	}{
		{"HTTP/1.1 416", OutcomeEndOfResource, 416, nil},
		{"HTTP/1.1 206", OutcomeTransient, NoStatus, ErrNoBody},
		{"HTTP/1.1 2", OutcomeTransient, NoStatus, ErrMalformedStatus},
	}
	for _, tt := range tests {
		script := transport.Script{Fragments: []transport.Fragment{{Data: []byte(tt.raw)}}}
		res, _, m, err := receive(t, script, testWait())
		if err != nil {
			t.Fatalf("%q: Receive() error = %v", tt.raw, err)
		}
		if res.Outcome != tt.outcome || res.Status != tt.status {
			t.Errorf("%q: Receive() = %+v, want %s/%d", tt.raw, res, tt.outcome, tt.status)
		}
		if tt.cause != nil && !errors.Is(res.Err, tt.cause) {
			t.Errorf("%q: cause = %v, want %v", tt.raw, res.Err, tt.cause)
		}
		if m.Closes() != 1 {
			t.Errorf("%q: closes = %d, want 1", tt.raw, m.Closes())
		}
	}
}

func TestReceive_ContextCancelled(t *testing.T) {
	m := transport.NewMock(transport.Script{Hold: true})
	conn := m.Dial()
	conn.Connect(testContext(t), "h", 80)
	conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()
	_, err := NewParser(collector(new(bytes.Buffer))).Receive(ctx, conn, testWait(), zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Receive() error = %v, want context.Canceled", err)
	}
}
