// Package engine implements the event loop (spec.md C6) that
// multiplexes the RFCOMM stream, an internal signal channel and an
// optional external AT-handler stream, driving the SLC state machine
// and the per-command handler dispatch in internal/dispatch.
//
// The teacher's tnc_listen_thread (cmd/samoyed-appserver/agwlib.go)
// multiplexes a TCP socket with a reconnect loop inside one goroutine;
// this engine generalises the same "one goroutine per blocking
// source, fan into a select" shape to three sources instead of one,
// using channels in place of poll(2) — the idiomatic Go translation
// of spec.md §4.6's three-descriptor wait.
package engine

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/bluetalk/hfpd/internal/atframe"
	"github.com/bluetalk/hfpd/internal/atio"
	"github.com/bluetalk/hfpd/internal/dispatch"
	"github.com/bluetalk/hfpd/internal/hfperr"
	"github.com/bluetalk/hfpd/internal/slc"
)

// Signal is a one-byte signal code delivered over the internal signal
// channel (spec.md §6 "sig_fd delivers one-byte signal codes").
type Signal int

const (
	// SetVolume is posted by the audio sibling after it writes new
	// mic/speaker gains directly into the shared transport.
	SetVolume Signal = iota
)

// Engine runs one RFCOMM session's event loop.
type Engine struct {
	Conn   *dispatch.Conn
	Driver *slc.Driver

	// BT is the RFCOMM byte stream (bt_fd). Run does not close it
	// itself; closing it from the Cleanup hook (as cmd/hfpd does) is
	// what unblocks a pending blocking read in the reader goroutine.
	BT io.ReadWriter

	// Handler is the optional external AT-handler stream (handler_fd).
	// Nil means none is attached.
	Handler io.ReadWriteCloser

	// Sig delivers signal codes; nil means no signal source (tests may
	// leave it nil and simply never send).
	Sig <-chan Signal

	// Timeout is the SLC_TIMEOUT tunable (spec.md §6, default 10s).
	Timeout time.Duration

	// Cleanup is the engine-shutdown hook (spec.md §4.7 "destruction is
	// gated on engine shutdown via the cleanup hook"). May be nil.
	Cleanup func()

	done chan struct{}
}

// New returns an Engine with spec.md-default tunables.
func New(conn *dispatch.Conn, driver *slc.Driver, bt io.ReadWriter, sig <-chan Signal) *Engine {
	return &Engine{
		Conn:    conn,
		Driver:  driver,
		BT:      bt,
		Sig:     sig,
		Timeout: slc.DefaultTimeout,
		done:    make(chan struct{}),
	}
}

type readResult struct {
	frame atframe.Frame
	err   error
}

type handlerResult struct {
	data []byte
	err  error
}

// Run executes the event loop until the session terminates (spec.md
// §7: CONN_RESET/NOT_SUPPORTED/TIMED_OUT), the context is cancelled,
// or an unrecoverable I/O error occurs. It always calls the cleanup
// hook before returning (spec.md §4.7/§5 "a cleanup hook invokes
// transport teardown").
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer func() {
		if e.Handler != nil {
			_ = e.Handler.Close()
		}
		if e.Cleanup != nil {
			e.Cleanup()
		}
	}()

	frames := make(chan readResult)
	go e.readLoop(frames)

	var handlerCh chan handlerResult
	if e.Handler != nil {
		handlerCh = make(chan handlerResult)
		go e.handlerReadLoop(e.Handler, handlerCh)
	}

	cachedMic := e.Conn.Transport.MicGain()
	cachedSpk := e.Conn.Transport.SpkGain()

	for {
		// Step 1: run the SLC driver; it may install an Expectation
		// and tells us whether to arm SLC_TIMEOUT or wait indefinitely.
		waiting, err := e.Driver.Tick(e.Conn, false)
		if err != nil {
			return err
		}

		var timeoutCh <-chan time.Time
		if waiting {
			timeoutCh = time.After(e.Timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-frames:
			if err := e.dispatchFrame(res); err != nil {
				if hfperr.Terminal(err) {
					return err
				}
				e.Conn.Log.Warn("AT frame error", "err", err)
			}

		case sig, ok := <-e.Sig:
			if ok {
				e.handleSignal(sig, &cachedMic, &cachedSpk)
			}

		case hr := <-handlerCh:
			if hr.err != nil {
				e.Conn.Log.Warn("external AT handler closed", "err", hr.err)
				_ = e.Handler.Close()
				e.Handler = nil
				handlerCh = nil
				continue
			}
			if err := e.Conn.Write(atframe.Frame{Type: atframe.RAW, Value: string(hr.data)}); err != nil {
				e.Conn.Log.Warn("relaying external handler bytes", "err", err)
			}

		case <-timeoutCh:
			if _, err := e.Driver.Tick(e.Conn, true); err != nil {
				return err
			}
		}
	}
}

// dispatchFrame implements spec.md §4.6 step 5's bt_fd POLLIN branch.
func (e *Engine) dispatchFrame(res readResult) error {
	if res.err != nil {
		return res.err
	}

	c := e.Conn
	f := res.frame

	c.Log.Debug("rx frame", c.FrameLogFields(f)...)

	matchedExpected := false
	var handler dispatch.HandlerFunc
	if c.Expected.Matches(f) {
		handler = c.Expected.Handler
		c.Expected = nil
		matchedExpected = true
	} else {
		handler = dispatch.GetHandler(f)
	}

	if !matchedExpected && e.Handler != nil {
		if _, err := e.Handler.Write(atframe.Build(f)); err != nil {
			c.Log.Warn("forwarding frame to external handler", "err", err)
		}
	}

	if handler != nil {
		return handler(c, f)
	}

	if e.Handler == nil {
		if f.Type != atframe.RESP {
			return c.Write(atframe.Frame{Type: atframe.RESP, Value: "ERROR"})
		}
		c.Log.Warn("unrecognised response", "command", f.Command, "value", f.Value)
	}

	return nil
}

// handleSignal implements spec.md §4.6 step 5's sig_fd branch: compare
// cached gains to the shared transport and emit unsolicited +VGM/+VGS
// for whichever changed.
func (e *Engine) handleSignal(sig Signal, cachedMic, cachedSpk *int) {
	if sig != SetVolume {
		return
	}

	tp := e.Conn.Transport
	if mg := tp.MicGain(); mg != *cachedMic {
		*cachedMic = mg
		if err := e.Conn.Write(atframe.Frame{Type: atframe.RESP, Command: "+VGM", Value: strconv.Itoa(mg)}); err != nil {
			e.Conn.Log.Warn("emitting +VGM", "err", err)
		}
	}
	if sg := tp.SpkGain(); sg != *cachedSpk {
		*cachedSpk = sg
		if err := e.Conn.Write(atframe.Frame{Type: atframe.RESP, Command: "+VGS", Value: strconv.Itoa(sg)}); err != nil {
			e.Conn.Log.Warn("emitting +VGS", "err", err)
		}
	}
}

// readLoop owns the single blocking read (spec.md §5 "the single
// blocking read inside the reader refill"), repeatedly draining
// whatever the buffer already holds before blocking again.
func (e *Engine) readLoop(out chan<- readResult) {
	r := atio.NewReader()
	for {
		f, err := r.ReadFrame(e.BT)
		select {
		case out <- readResult{f, err}:
		case <-e.done:
			return
		}
		if err != nil && hfperr.Terminal(err) {
			return
		}
	}
}

func (e *Engine) handlerReadLoop(h io.Reader, out chan<- handlerResult) {
	buf := make([]byte, atio.BufSize)
	for {
		n, err := h.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- handlerResult{data: data}:
			case <-e.done:
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("external AT handler stream closed")
			}
			select {
			case out <- handlerResult{err: err}:
			case <-e.done:
			}
			return
		}
	}
}
