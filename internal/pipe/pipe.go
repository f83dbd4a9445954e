// Package pipe provides a bounded byte-pipe connecting a blocking
// producer (e.g. an archive writer running on its own goroutine) to a
// blocking consumer, guarded by a mutex+condition rather than an
// unbounded channel so a slow consumer applies real backpressure to
// the producer.
//
// It translates original_source/tplbuild/sync_to_async_pipe.py's
// SyncToAsyncPipe. Go has no sync/async split: both Write and Read
// simply block on the same sync.Cond, which is simpler than the
// original's future-based waiter but preserves its invariants (ring
// buffer, single-reader, close drains then returns io.EOF).
package pipe

import (
	"io"
	"sync"

	"github.com/msg555/tplbuild/internal/tplerr"
)

// Pipe is a fixed-capacity ring buffer safe for one concurrent writer
// and one concurrent reader (concurrent readers are rejected).
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf     []byte
	pos     int
	size    int
	closed  bool
	reading bool
}

// New creates a Pipe with the given buffer capacity.
func New(capacity int) *Pipe {
	p := &Pipe{buf: make([]byte, capacity)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Write writes data to the pipe, blocking while the buffer is full.
// Write after Close returns an error; it never silently drops data.
func (p *Pipe) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	for written < len(data) {
		for p.size == len(p.buf) && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			return written, tplerr.New(tplerr.KindInternal, "write to closed pipe")
		}

		writeOffset := (p.pos + p.size) % len(p.buf)
		amt := len(data) - written
		if room := len(p.buf) - p.size; amt > room {
			amt = room
		}
		if untilWrap := len(p.buf) - writeOffset; amt > untilWrap {
			amt = untilWrap
		}

		copy(p.buf[writeOffset:writeOffset+amt], data[written:written+amt])
		p.size += amt
		written += amt
		p.cond.Broadcast()
	}
	return written, nil
}

// Read returns the next chunk of buffered data, blocking if the buffer
// is empty and the pipe is not yet closed. It returns io.EOF once the
// pipe is closed and drained. Only one goroutine may call Read at a
// time.
func (p *Pipe) Read() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reading {
		return nil, tplerr.New(tplerr.KindInternal, "concurrent read from pipe")
	}
	p.reading = true
	defer func() { p.reading = false }()

	for p.size == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.size == 0 {
		return nil, io.EOF
	}

	amt := p.size
	if untilWrap := len(p.buf) - p.pos; amt > untilWrap {
		amt = untilWrap
	}
	result := make([]byte, amt)
	copy(result, p.buf[p.pos:p.pos+amt])
	p.pos = (p.pos + amt) % len(p.buf)
	p.size -= amt
	p.cond.Broadcast()
	return result, nil
}

// reader adapts Pipe's chunked Read to io.Reader, buffering the tail of
// a chunk that doesn't fit the caller's slice.
type reader struct {
	p        *Pipe
	leftover []byte
}

// NewReader returns an io.Reader view of p, for callers (e.g.
// exec.Cmd.Stdin) that need the standard Read(p []byte) shape.
func (p *Pipe) NewReader() io.Reader {
	return &reader{p: p}
}

func (r *reader) Read(buf []byte) (int, error) {
	if len(r.leftover) == 0 {
		chunk, err := r.p.Read()
		if err != nil {
			return 0, err
		}
		r.leftover = chunk
	}
	n := copy(buf, r.leftover)
	r.leftover = r.leftover[n:]
	return n, nil
}

// Close marks the pipe closed. Blocked writers return an error;
// blocked readers drain remaining buffered data and then see io.EOF.
// Safe to call more than once.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}
