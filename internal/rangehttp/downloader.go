package rangehttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangepull/internal/sink"
	"github.com/tanq16/rangepull/internal/transport"
	"github.com/tanq16/rangepull/internal/utils"
)

var stagePool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// Downloader pulls a resource one range window at a time over a fresh
// connection per attempt.
type Downloader struct {
	cfg     Config
	dial    transport.Dialer
	yield   func()
	onChunk func(win ChunkWindow, n int64)
	onRetry func(attempt int, cause error)
	log     zerolog.Logger
}

type Option func(*Downloader)

func WithDialer(dial transport.Dialer) Option {
	return func(d *Downloader) {
		d.dial = dial
	}
}

// WithYield sets the hook called once per poll iteration of every wait.
func WithYield(yield func()) Option {
	return func(d *Downloader) {
		d.yield = yield
	}
}

// WithChunkHook registers a callback run after each chunk is committed.
func WithChunkHook(fn func(win ChunkWindow, n int64)) Option {
	return func(d *Downloader) {
		d.onChunk = fn
	}
}

// WithRetryHook registers a callback run before each backoff.
func WithRetryHook(fn func(attempt int, cause error)) Option {
	return func(d *Downloader) {
		d.onRetry = fn
	}
}

func New(cfg Config, opts ...Option) *Downloader {
	cfg = cfg.withDefaults()
	d := &Downloader{
		cfg:  cfg,
		dial: transport.TCPDialer,
		log:  utils.GetLogger("rangehttp", cfg.LogLevel),
	}
	poll := cfg.PollInterval
	d.yield = func() { time.Sleep(poll) }
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Downloader) Config() Config {
	return d.cfg
}

// Download runs the chunk loop until the server answers 416, a chunk ends
// with a status other than 206, retries run out, or ctx is cancelled.
// resp always holds the status of the last attempt.
func (d *Downloader) Download(ctx context.Context, req DownloadRequest, resp *DownloadResponse, s sink.Sink) (Stats, error) {
	started := time.Now()
	win := ChunkWindow{Start: 0, Size: d.cfg.ChunkSize}
	retry := RetryState{MaxAttempts: d.cfg.MaxAttempts, Backoff: d.cfg.Backoff}
	var stats Stats
	resp.Status = NoStatus

	done := func(err error) (Stats, error) {
		stats.Elapsed = time.Since(started)
		return stats, err
	}

	for {
		res, body, err := d.attempt(ctx, req, win, s)
		if err != nil {
			releaseStage(body)
			return done(err)
		}
		resp.Status = res.Status

		switch res.Outcome {
		case OutcomeEndOfResource:
			releaseStage(body)
			d.log.Info().Str("op", "rangehttp/download").Msgf("Download complete after %d chunks (%d bytes)", stats.Chunks, stats.Bytes)
			return done(nil)

		case OutcomeStatus:
			err := d.commit(body, s)
			releaseStage(body)
			if err != nil {
				return done(err)
			}
			n := res.BodyBytes
			retry.Reset()
			stats.Chunks++
			stats.Bytes += n
			if d.onChunk != nil {
				d.onChunk(win, n)
			}
			finished := win
			win = win.Next()
			if res.Status == StatusPartialContent {
				continue
			}
			if res.Status >= 200 && res.Status < 300 {
				d.log.Info().Str("op", "rangehttp/download").Msgf("Server answered %d instead of 206, treating response as complete", res.Status)
				return done(nil)
			}
			d.log.Error().Str("op", "rangehttp/download").Msgf("Unexpected status %d", res.Status)
			return done(&StatusError{Status: res.Status, Start: finished.Start})

		default:
			releaseStage(body)
			stats.Retries++
			if retry.Fail() {
				d.log.Error().Str("op", "rangehttp/download").Err(res.Err).Msg("Giving up after max retries")
				return done(fmt.Errorf("%w: %w", ErrRetriesExhausted, res.Err))
			}
			d.log.Info().Str("op", "rangehttp/download").Err(res.Err).Msgf("Last connection failed, retrying (attempt %d/%d)", retry.Attempts, retry.MaxAttempts)
			if d.onRetry != nil {
				d.onRetry(retry.Attempts, res.Err)
			}
			if err := d.sleep(ctx, retry.Backoff); err != nil {
				return done(err)
			}
		}
	}
}

// attempt performs one SEND/AWAIT round. In staged mode the returned
// buffer holds the chunk body; the caller must release it.
func (d *Downloader) attempt(ctx context.Context, req DownloadRequest, win ChunkWindow, s sink.Sink) (Result, *bytes.Buffer, error) {
	t := d.dial()
	if err := t.Connect(ctx, req.dialHost(), req.port()); err != nil {
		t.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, nil, ctxErr
		}
		d.log.Debug().Str("op", "rangehttp/download").Err(err).Msg("Connection failed")
		return Result{Outcome: OutcomeTransient, Status: NoStatus, Err: fmt.Errorf("%w: %v", ErrConnect, err)}, nil, nil
	}
	d.log.Debug().Str("op", "rangehttp/download").Msgf("Connected to %s:%d", req.dialHost(), req.port())

	opts := BuildOptions{LegacyRangeEnd: d.cfg.LegacyRangeEnd, BareNameOnly: d.cfg.BareNameOnly, UpperHost: d.cfg.UpperHost}
	if err := sendRequest(t, req, win, opts, d.log); err != nil {
		t.Close()
		return Result{Outcome: OutcomeTransient, Status: NoStatus, Err: fmt.Errorf("%w: %v", ErrConnect, err)}, nil, nil
	}

	var body *bytes.Buffer
	target := s
	if d.cfg.Delivery == DeliverStaged {
		body = stagePool.Get().(*bytes.Buffer)
		body.Reset()
		target = d.stager(body, s, stageLimit(win, opts.LegacyRangeEnd))
	} else if target == nil {
		target = sink.AcceptFunc(func([]byte) error { return nil })
	}

	w := waitConfig{initial: d.cfg.InitialTimeout, read: d.cfg.ReadTimeout, yield: d.yield}
	res, err := NewParser(target).Receive(ctx, t, w, d.log)
	return res, body, err
}

// stageLimit is the most body bytes a well-behaved server sends for win.
func stageLimit(win ChunkWindow, legacyEnd bool) int64 {
	if legacyEnd {
		return win.Size + 1
	}
	return win.Size
}

// stager buffers a chunk body up to limit bytes. A response that runs past
// the limit (a server ignoring Range) has the staged bytes flushed and the
// rest of the attempt forwarded to s in spans of at most limit bytes.
func (d *Downloader) stager(body *bytes.Buffer, s sink.Sink, limit int64) sink.Sink {
	overflow := false
	return sink.AcceptFunc(func(p []byte) error {
		if !overflow && int64(body.Len()+len(p)) <= limit {
			_, err := body.Write(p)
			return err
		}
		if !overflow {
			overflow = true
			d.log.Info().Str("op", "rangehttp/download").Msgf("Response exceeds the %d byte window, forwarding body as it arrives", limit)
			if err := acceptSpans(s, body.Bytes(), limit); err != nil {
				return err
			}
			body.Reset()
		}
		return acceptSpans(s, p, limit)
	})
}

func acceptSpans(s sink.Sink, p []byte, span int64) error {
	if s == nil {
		return nil
	}
	for len(p) > 0 {
		n := min(int64(len(p)), span)
		if err := s.Accept(p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// commit hands a staged chunk to the sink. In stream mode the bytes were
// already delivered and body is nil.
func (d *Downloader) commit(body *bytes.Buffer, s sink.Sink) error {
	if body == nil || body.Len() == 0 || s == nil {
		return nil
	}
	if err := s.Accept(body.Bytes()); err != nil {
		return fmt.Errorf("error delivering body: %w", err)
	}
	return nil
}

func releaseStage(body *bytes.Buffer) {
	if body != nil {
		stagePool.Put(body)
	}
}

// sleep waits for dur while yielding, like every other wait in the loop.
func (d *Downloader) sleep(ctx context.Context, dur time.Duration) error {
	deadline := time.Now().Add(dur)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.yield()
	}
	return ctx.Err()
}

// IsTransient reports whether err is one of the retryable causes.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnect) || errors.Is(err, ErrEmptyResponse) ||
		errors.Is(err, ErrStalled) || errors.Is(err, ErrMalformedStatus) || errors.Is(err, ErrNoBody)
}
