// Package dispatch implements the handler registry (spec.md C3) and
// the per-command handlers (C4) for both HFP roles.
package dispatch

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"

	"github.com/bluetalk/hfpd/internal/atframe"
	"github.com/bluetalk/hfpd/internal/atio"
	"github.com/bluetalk/hfpd/internal/hfpstate"
	"github.com/bluetalk/hfpd/internal/transport"
)

// Features bitmask constants from the HFP specification (spec.md §6).
const (
	FeatCodecNegotiation uint32 = 0x200
)

// Expectation is the one-shot "expected next" slot the SLC driver
// installs before sending a command (spec.md §4.5, Design Notes
// "Dispatch table vs dynamic expectation"). It takes precedence over
// the static registry and is cleared once consumed.
type Expectation struct {
	Type    atframe.Type
	Command string
	Handler HandlerFunc
}

// Matches reports whether f is the reply this expectation was
// installed for.
func (e *Expectation) Matches(f atframe.Frame) bool {
	return e != nil && e.Type == f.Type && e.Command == f.Command
}

// HandlerFunc interprets one AT frame, mutates conn/transport state
// and may send replies via Conn.Write. Returning an error aborts the
// session (spec.md §4.4).
type HandlerFunc func(c *Conn, f atframe.Frame) error

// Conn is the per-session connection record (spec.md §3 "conn"),
// owned by the event-loop goroutine; never touched concurrently.
type Conn struct {
	Role hfpstate.Role

	State     hfpstate.State
	PrevState hfpstate.State
	Retries   int

	Expected *Expectation

	MicGain int
	SpkGain int
	MSBC    bool

	// LocalFeatures/PeerFeatures are this engine's and the peer's
	// BRSF feature bitmasks.
	LocalFeatures uint32
	PeerFeatures  uint32

	Transport *transport.Transport
	Device    *transport.Device

	// PingSCO notifies the audio/SCO sibling that a call/callsetup
	// indicator changed (spec.md §6 Signal interface output "PING").
	// Nil is a valid no-op for tests that don't care.
	PingSCO func()

	// TimestampFormat, when set, is a strftime format string
	// prefixing Debug-level AT frame traffic logs (--timestamp-format,
	// spec.md §9.1), the same way xmit.go's timestampPrefix formats
	// received-frame prefixes via strftime.Format.
	TimestampFormat string

	out io.Writer
	Log *log.Logger
}

// NewConn builds a Conn ready to drive the SLC for the given role.
func NewConn(role hfpstate.Role, out io.Writer, tp *transport.Transport, dev *transport.Device, logger *log.Logger) *Conn {
	if logger == nil {
		logger = log.Default()
	}
	return &Conn{
		Role:      role,
		Transport: tp,
		Device:    dev,
		out:       out,
		Log:       logger,
	}
}

// Write sends one frame to the peer using the connection's AT writer.
func (c *Conn) Write(f atframe.Frame) error {
	c.Log.Debug("tx frame", c.FrameLogFields(f)...)
	return atio.WriteFrame(c.out, f)
}

// FrameLogFields builds the key/value pairs for a frame-level Debug
// log line, prefixed with a formatted timestamp when TimestampFormat
// is set. A bad format string puts an error marker in the "ts" field
// rather than being silently dropped, since it means
// --timestamp-format was mistyped.
func (c *Conn) FrameLogFields(f atframe.Frame) []interface{} {
	fields := []interface{}{"type", f.Type, "command", f.Command, "value", f.Value}
	if c.TimestampFormat != "" {
		ts, err := strftime.Format(c.TimestampFormat, time.Now())
		if err != nil {
			ts = "(bad --timestamp-format: " + err.Error() + ")"
		}
		fields = append([]interface{}{"ts", ts}, fields...)
	}
	return fields
}

// Advance moves the SLC state forward, never backward (spec.md §8
// monotonicity invariant). Advancing resets the retry counter,
// matching the "state changed -> retries = 0" rule of spec.md §4.5,
// which the event loop also applies per tick as a belt-and-braces
// check.
func (c *Conn) Advance(to hfpstate.State) {
	if to > c.State {
		c.State = to
		c.Retries = 0
	}
}

// AdvanceIfBefore advances to `to` only if the current state has not
// already reached it, matching handler contracts like "+CIND=? test:
// advance to SLC_CIND_TEST_OK if not already at or past it."
func (c *Conn) AdvanceIfBefore(to hfpstate.State) {
	if c.State < to {
		c.State = to
	}
}
