// Package indicator drives an optional GPIO line high while the HFP
// call or callsetup indicator is active (SPEC_FULL.md DOMAIN STACK),
// mirroring the teacher's ptt.go pattern of toggling a GPIO line off
// a protocol-level event rather than polling it.
package indicator

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/bluetalk/hfpd/internal/transport"
)

// line is the subset of *gpiocdev.Line this package depends on, so
// tests can substitute a mock without real hardware (mirrors the
// teacher's gpiod_line test-double seam).
type line interface {
	SetValue(v int) error
	Close() error
}

// Watcher is a transport.Sink that drives a GPIO line from the shared
// call/callsetup indicator state. The zero value is not usable;
// construct with Open.
type Watcher struct {
	mu     sync.Mutex
	line   line
	tp     *transport.Transport
	active bool
}

// Open requests chip/offset as an output line, initially low, and
// returns a Watcher ready to register as a transport.Sink.
func Open(chip string, offset int, tp *transport.Transport) (*Watcher, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("indicator: requesting %s line %d: %w", chip, offset, err)
	}
	return &Watcher{line: l, tp: tp}, nil
}

// newWithLine is the test seam: builds a Watcher around an already-
// constructed line (real or mock) without touching hardware.
func newWithLine(l line, tp *transport.Transport) *Watcher {
	return &Watcher{line: l, tp: tp}
}

// Notify implements transport.Sink. It only reacts to CallActivity;
// every other property bit is ignored. Must not block, per the Sink
// contract, so it never retries a failed GPIO write.
func (w *Watcher) Notify(props transport.Property) {
	if props&transport.CallActivity == 0 {
		return
	}

	want := w.tp.Indicator(transport.IndCall) != 0 || w.tp.Indicator(transport.IndCallSetup) != 0

	w.mu.Lock()
	defer w.mu.Unlock()
	if want == w.active {
		return
	}
	v := 0
	if want {
		v = 1
	}
	if err := w.line.SetValue(v); err != nil {
		return
	}
	w.active = want
}

// Close releases the underlying GPIO line, driving it low first so
// the indicator doesn't latch on past the daemon's lifetime.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.line.SetValue(0)
	return w.line.Close()
}
