package sink

import (
	"fmt"
	"os"
	"sync/atomic"
)

// Sink accepts body bytes in arrival order. Implementations must not
// retain p after Accept returns.
type Sink interface {
	Accept(p []byte) error
}

// Func adapts a handler with a typed context value to Sink.
type Func[T any] struct {
	Handler func(p []byte, ctx T) error
	Context T
}

func NewFunc[T any](ctx T, handler func(p []byte, ctx T) error) *Func[T] {
	return &Func[T]{Handler: handler, Context: ctx}
}

func (f *Func[T]) Accept(p []byte) error {
	if f.Handler == nil {
		return nil
	}
	return f.Handler(p, f.Context)
}

// AcceptFunc adapts a plain function to Sink.
type AcceptFunc func(p []byte) error

func (f AcceptFunc) Accept(p []byte) error {
	return f(p)
}

// File appends to an open file. It only owns the file when created by
// CreateFile.
type File struct {
	f     *os.File
	owned bool
}

func NewFile(f *os.File) *File {
	return &File{f: f}
}

// CreateFile opens path for writing, truncating any previous content.
func CreateFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating output file: %v", err)
	}
	return &File{f: f, owned: true}, nil
}

func (s *File) Accept(p []byte) error {
	if _, err := s.f.Write(p); err != nil {
		return fmt.Errorf("error writing to output file: %v", err)
	}
	return nil
}

// Close syncs and closes the file if the sink owns it.
func (s *File) Close() error {
	if !s.owned {
		return nil
	}
	s.f.Sync()
	return s.f.Close()
}

// Progress counts bytes passing through to Next and reports the running
// total after each span.
type Progress struct {
	Next     Sink
	OnUpdate func(total int64)
	total    atomic.Int64
}

func (p *Progress) Accept(b []byte) error {
	if err := p.Next.Accept(b); err != nil {
		return err
	}
	total := p.total.Add(int64(len(b)))
	if p.OnUpdate != nil {
		p.OnUpdate(total)
	}
	return nil
}

func (p *Progress) Total() int64 {
	return p.total.Load()
}
