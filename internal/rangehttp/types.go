package rangehttp

import (
	"net/netip"
	"strconv"
	"time"

	"github.com/tanq16/rangepull/internal/utils"
)

const (
	DefaultChunkSize      = 900
	DefaultMaxAttempts    = 3
	DefaultBackoff        = 500 * time.Millisecond
	DefaultInitialTimeout = 5000 * time.Millisecond
	DefaultReadTimeout    = 5000 * time.Millisecond
	DefaultPollInterval   = time.Millisecond
	DefaultPort           = 80

	// NoStatus means no valid status line was observed.
	NoStatus = -1

	StatusPartialContent      = 206
	StatusRangeNotSatisfiable = 416
)

// Header is a caller-supplied request header. NoValue headers carry only
// a name.
type Header struct {
	Name    string
	Value   string
	NoValue bool
}

func StringHeader(name, value string) Header {
	return Header{Name: name, Value: value}
}

func IntHeader(name string, value int64) Header {
	return Header{Name: name, Value: strconv.FormatInt(value, 10)}
}

func NameOnlyHeader(name string) Header {
	return Header{Name: name, NoValue: true}
}

// DownloadRequest identifies the remote resource. When Addr is valid the
// connection goes to that address and no Host header is sent.
type DownloadRequest struct {
	Host    string
	Addr    netip.Addr
	Port    int
	Path    string
	Headers []Header
}

func (r DownloadRequest) port() int {
	if r.Port == 0 {
		return DefaultPort
	}
	return r.Port
}

func (r DownloadRequest) dialHost() string {
	if r.Addr.IsValid() {
		return r.Addr.String()
	}
	return r.Host
}

func (r DownloadRequest) byName() bool {
	return !r.Addr.IsValid() && r.Host != ""
}

// DownloadResponse holds the status of the most recent chunk attempt.
type DownloadResponse struct {
	Status int
}

type ChunkWindow struct {
	Start int64
	Size  int64
}

func (w ChunkWindow) Next() ChunkWindow {
	return ChunkWindow{Start: w.Start + w.Size, Size: w.Size}
}

type RetryState struct {
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration
}

func (r *RetryState) Reset() {
	r.Attempts = 0
}

// Fail records a transient failure and reports whether the session is out
// of attempts.
func (r *RetryState) Fail() bool {
	r.Attempts++
	return r.Attempts > r.MaxAttempts
}

// Delivery selects when body bytes reach the sink.
type Delivery int

const (
	// DeliverStaged holds a chunk's body until the chunk succeeds, so a
	// retried chunk never writes bytes twice.
	DeliverStaged Delivery = iota
	// DeliverStream forwards body bytes as soon as they arrive.
	DeliverStream
)

type Config struct {
	ChunkSize      int64
	LogLevel       utils.LogLevel
	MaxAttempts    int
	Backoff        time.Duration
	InitialTimeout time.Duration
	ReadTimeout    time.Duration
	PollInterval   time.Duration
	Delivery       Delivery
	LegacyRangeEnd bool
	BareNameOnly   bool
	UpperHost      bool
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:      DefaultChunkSize,
		LogLevel:       utils.LogNone,
		MaxAttempts:    DefaultMaxAttempts,
		Backoff:        DefaultBackoff,
		InitialTimeout: DefaultInitialTimeout,
		ReadTimeout:    DefaultReadTimeout,
		PollInterval:   DefaultPollInterval,
		Delivery:       DeliverStaged,
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.InitialTimeout <= 0 {
		c.InitialTimeout = DefaultInitialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Stats summarizes a finished download.
type Stats struct {
	Chunks  int
	Bytes   int64
	Retries int
	Elapsed time.Duration
}
