// Package atio implements the AT line buffer/reader (spec.md C1) and
// writer (C2): refilling from the RFCOMM stream, splitting
// concatenated AT frames, and formatting one outgoing frame with
// EINTR-transparent retry.
package atio

import (
	"errors"
	"io"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bluetalk/hfpd/internal/atframe"
	"github.com/bluetalk/hfpd/internal/hfperr"
)

// BufSize is the maximum AT frame payload this reader refills at
// once. The open question in spec.md §9 is resolved here: the
// backing array is allocated at BufSize+1 so a NUL terminator (kept
// for parity with the C original's string-based parser, and useful
// when logging raw bytes) never writes past the slice.
const BufSize = 2048

// rawReader is implemented by stream types backed by a real file
// descriptor (an open RFCOMM device via github.com/pkg/term, or a
// pseudo-terminal in tests). When a stream satisfies it, Reader uses
// golang.org/x/sys/unix directly so EINTR is handled exactly as
// spec.md §4.1 requires rather than relying on however the standard
// library happens to treat the descriptor.
type rawReader interface {
	Fd() uintptr
}

// Reader holds the fixed byte buffer and cursor described in
// spec.md §3. cursor == -1 is the "buffer drained" sentinel: the next
// ReadFrame must refill from the stream before parsing again.
type Reader struct {
	buf    [BufSize + 1]byte
	filled int
	cursor int
}

// NewReader returns a Reader with the cursor at the drained sentinel.
func NewReader() *Reader {
	return &Reader{cursor: -1}
}

// ReadFrame returns the next AT frame from src, refilling from the
// stream only when the buffer has been fully drained. It guarantees
// that all frames delivered in a single socket read are parsed
// before the next blocking read (spec.md §4.1 "Guarantee").
func (r *Reader) ReadFrame(src io.Reader) (atframe.Frame, error) {
	if r.cursor < 0 {
		if err := r.refill(src); err != nil {
			return atframe.Frame{}, err
		}
	}

	data := r.buf[r.cursor:r.filled]

	f, tail, err := atframe.Parse(data)
	if err != nil {
		if errors.Is(err, atframe.ErrIncomplete) {
			// No full frame in the remaining bytes: treat as a bad
			// message per spec.md §4.1 rather than attempt
			// cross-read reassembly (out of scope: the AT grammar is
			// assumed to deliver whole frames per read).
			r.cursor = -1
			return atframe.Frame{}, hfperr.New(hfperr.BadMessage, err)
		}
		// A full line was present but didn't parse: drop just that
		// line (spec.md §7 BAD_MESSAGE policy — "drop bytes, clear
		// reader cursor, continue") and leave the cursor positioned
		// at whatever tail remains, so the next ReadFrame makes
		// progress instead of re-parsing the same bad line forever.
		if len(tail) == 0 {
			r.cursor = -1
		} else {
			r.cursor = r.filled - len(tail)
		}
		return atframe.Frame{}, hfperr.New(hfperr.BadMessage, err)
	}

	if len(tail) == 0 {
		r.cursor = -1
	} else {
		r.cursor = r.filled - len(tail)
	}

	return f, nil
}

// Pending reports whether unparsed bytes remain from a prior refill,
// i.e. whether the next ReadFrame would return without blocking on
// src. The event loop uses this to skip polling per spec.md §4.6 step
// 2 ("if reader has unparsed bytes buffered, skip polling").
func (r *Reader) Pending() bool {
	return r.cursor >= 0
}

func (r *Reader) refill(src io.Reader) error {
	n, err := readRetryingEINTR(src, r.buf[:BufSize])
	if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
		return hfperr.New(hfperr.ConnReset, io.EOF)
	}
	if err != nil {
		return hfperr.New(hfperr.IOError, err)
	}

	r.buf[n] = 0 // NUL-terminate for parity with the original string-based parser.
	r.filled = n
	r.cursor = 0

	return nil
}

func readRetryingEINTR(src io.Reader, buf []byte) (int, error) {
	if rr, ok := src.(rawReader); ok {
		fd := int(rr.Fd())
		for {
			n, err := unix.Read(fd, buf)
			if err == nil {
				return n, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, err
		}
	}

	for {
		n, err := src.Read(buf)
		if err == nil || n > 0 {
			return n, err
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return n, err
	}
}
