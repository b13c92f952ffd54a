package atio

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"github.com/bluetalk/hfpd/internal/atframe"
	"github.com/bluetalk/hfpd/internal/hfperr"
)

// rawWriter mirrors rawReader for the write side.
type rawWriter interface {
	Fd() uintptr
}

// WriteFrame formats f and sends it to dst in one write, retrying
// transparently on EINTR. Short writes are treated as fatal: frames
// are always smaller than BufSize and RFCOMM is message-preserving
// here, so a short write indicates something has gone wrong with the
// underlying stream (spec.md §4.2).
func WriteFrame(dst io.Writer, f atframe.Frame) error {
	buf := atframe.Build(f)

	n, err := writeRetryingEINTR(dst, buf)
	if err != nil {
		return hfperr.New(hfperr.IOError, err)
	}
	if n != len(buf) {
		return hfperr.New(hfperr.IOError, errors.New("atio: short write"))
	}

	return nil
}

func writeRetryingEINTR(dst io.Writer, buf []byte) (int, error) {
	if rw, ok := dst.(rawWriter); ok {
		fd := int(rw.Fd())
		for {
			n, err := unix.Write(fd, buf)
			if err != nil {
				if errors.Is(err, unix.EINTR) {
					continue
				}
				return 0, err
			}
			return n, nil
		}
	}

	for {
		n, err := dst.Write(buf)
		if err != nil {
			if n == 0 && errors.Is(err, unix.EINTR) {
				continue
			}
			return n, err
		}
		return n, nil
	}
}
