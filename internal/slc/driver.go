// Package slc implements the SLC state machine drivers (spec.md C5)
// for both the Hands-Free and Audio-Gateway roles.
package slc

import (
	"fmt"
	"time"

	"github.com/bluetalk/hfpd/internal/atframe"
	"github.com/bluetalk/hfpd/internal/dispatch"
	"github.com/bluetalk/hfpd/internal/hfperr"
	"github.com/bluetalk/hfpd/internal/hfpstate"
	"github.com/bluetalk/hfpd/internal/transport"
)

// DefaultRetries and DefaultTimeout are the tunables' defaults from
// spec.md §6 ("SLC_RETRIES default 10", "SLC_TIMEOUT ms default
// 10000"); callers override via internal/config. DefaultTimeout is a
// poll-loop concern (internal/engine arms it), not a Driver field.
const (
	DefaultRetries = 10
	DefaultTimeout = 10 * time.Second
)

// Driver drives one session's SLC progression. It holds only the
// tunables; all per-session state lives on the dispatch.Conn it is
// given each tick, so one Driver value is reusable across sessions.
type Driver struct {
	RetryLimit int
	MSBCEnabled bool
}

// New returns a Driver configured with spec.md defaults.
func New(msbcEnabled bool) *Driver {
	return &Driver{RetryLimit: DefaultRetries, MSBCEnabled: msbcEnabled}
}

// Tick runs one SLC step (spec.md §4.6 step 1). timedOut reports
// whether this call was triggered by the previously-armed
// SLC_TIMEOUT firing rather than a fresh iteration. It returns
// whether a new Expectation is waiting on a reply (the caller should
// arm SLC_TIMEOUT) and, once the retry budget is exhausted, a TimedOut
// error; a failed command write is returned as is.
func (d *Driver) Tick(c *dispatch.Conn, timedOut bool) (waiting bool, err error) {
	if c.State != c.PrevState {
		c.Retries = 0
		c.PrevState = c.State
	}

	if c.State == hfpstate.Connected {
		return false, nil
	}

	if timedOut {
		c.Retries++
		if c.Retries > d.RetryLimit {
			return false, hfperr.New(hfperr.TimedOut, fmt.Errorf("SLC stalled in state %s after %d retries", c.State, c.Retries))
		}
	}

	if c.Role == hfpstate.HandsFree {
		return d.tickHF(c, timedOut)
	}
	return d.tickAG(c, timedOut)
}

// resend re-issues the most recently emitted command, used both for
// the first emission into a state and for timeout-driven retries.
func resend(c *dispatch.Conn, f atframe.Frame, expect dispatch.Expectation) (bool, error) {
	if err := c.Write(f); err != nil {
		return false, err
	}
	exp := expect
	c.Expected = &exp
	return true, nil
}

func (d *Driver) tickHF(c *dispatch.Conn, timedOut bool) (bool, error) {
	switch c.State {
	case hfpstate.Disconnected:
		if c.Expected == nil || timedOut {
			return resend(c, atframe.Frame{Type: atframe.CMDSet, Command: "+BRSF", Value: fmt.Sprintf("%d", c.LocalFeatures)},
				dispatch.Expectation{Type: atframe.RESP, Command: "+BRSF", Handler: dispatch.HandleBrsfResponse})
		}
		return true, nil

	case hfpstate.SLCBrsfSet:
		if c.Expected == nil || timedOut {
			c.Expected = &dispatch.Expectation{Type: atframe.RESP, Handler: dispatch.GenericOK}
		}
		return true, nil

	case hfpstate.SLCBrsfSetOK:
		if c.PeerFeatures&dispatch.FeatCodecNegotiation == 0 {
			c.Advance(hfpstate.SLCBacSetOK)
			return d.tickHF(c, false)
		}
		if c.Expected == nil || timedOut {
			codecList := "1,2"
			if !d.MSBCEnabled {
				codecList = "1"
			}
			return resend(c, atframe.Frame{Type: atframe.CMDSet, Command: "+BAC", Value: codecList},
				dispatch.Expectation{Type: atframe.RESP, Handler: dispatch.GenericOK})
		}
		return true, nil

	case hfpstate.SLCBacSetOK:
		if c.Expected == nil || timedOut {
			return resend(c, atframe.Frame{Type: atframe.CMDTest, Command: "+CIND"},
				dispatch.Expectation{Type: atframe.RESP, Command: "+CIND", Handler: dispatch.HandleCindResponse})
		}
		return true, nil

	case hfpstate.SLCCindTest:
		if c.Expected == nil || timedOut {
			c.Expected = &dispatch.Expectation{Type: atframe.RESP, Handler: dispatch.GenericOK}
		}
		return true, nil

	case hfpstate.SLCCindTestOK:
		if c.Expected == nil || timedOut {
			return resend(c, atframe.Frame{Type: atframe.CMDGet, Command: "+CIND"},
				dispatch.Expectation{Type: atframe.RESP, Command: "+CIND", Handler: dispatch.HandleCindResponse})
		}
		return true, nil

	case hfpstate.SLCCindGet:
		if c.Expected == nil || timedOut {
			c.Expected = &dispatch.Expectation{Type: atframe.RESP, Handler: dispatch.GenericOK}
		}
		return true, nil

	case hfpstate.SLCCindGetOK:
		if c.Expected == nil || timedOut {
			return resend(c, atframe.Frame{Type: atframe.CMDSet, Command: "+CMER", Value: "3,0,0,1,0"},
				dispatch.Expectation{Type: atframe.RESP, Handler: dispatch.GenericOK})
		}
		return true, nil

	case hfpstate.SLCCmerSetOK:
		c.Advance(hfpstate.SLCConnected)
		return d.tickHF(c, false)

	case hfpstate.SLCConnected:
		if c.PeerFeatures&dispatch.FeatCodecNegotiation == 0 {
			c.Advance(hfpstate.Connected)
			c.Transport.NotifySampling()
			return false, nil
		}
		// Passive: wait for the AG's unsolicited +BCS: announcement,
		// dispatched through the registry / HandleBcsResponse.
		return false, nil

	case hfpstate.CCBcsSet, hfpstate.CCBcsSetOK, hfpstate.CCConnected:
		c.Advance(hfpstate.Connected)
		c.Transport.NotifySampling()
		return false, nil

	default:
		return false, nil
	}
}

func (d *Driver) tickAG(c *dispatch.Conn, timedOut bool) (bool, error) {
	switch c.State {
	case hfpstate.Disconnected, hfpstate.SLCBrsfSet, hfpstate.SLCBrsfSetOK, hfpstate.SLCBacSetOK,
		hfpstate.SLCCindTest, hfpstate.SLCCindTestOK, hfpstate.SLCCindGet, hfpstate.SLCCindGetOK:
		// Passive: driven entirely by the HF's incoming commands via
		// the registry (HandleBrsfSet, HandleBacSet, HandleCindTest,
		// HandleCindGet), each of which advances c.State itself.
		return false, nil

	case hfpstate.SLCCmerSetOK:
		c.Advance(hfpstate.SLCConnected)
		return d.tickAG(c, false)

	case hfpstate.SLCConnected:
		if c.PeerFeatures&dispatch.FeatCodecNegotiation == 0 || c.LocalFeatures&dispatch.FeatCodecNegotiation == 0 {
			c.Advance(hfpstate.Connected)
			c.Transport.NotifySampling()
			return false, nil
		}
		codec := transport.CodecCVSD
		if c.MSBC {
			codec = transport.CodecMSBC
		}
		c.Transport.SetCodec(codec)
		c.Advance(hfpstate.CCBcsSet)
		return resend(c, atframe.Frame{Type: atframe.RESP, Command: "+BCS", Value: fmt.Sprintf("%d", int(codec))},
			dispatch.Expectation{Type: atframe.CMDSet, Command: "+BCS", Handler: dispatch.HandleBcsSet})

	case hfpstate.CCBcsSet:
		// Open Question (spec.md §9) resolved: reuse the generic
		// SLC_TIMEOUT/SLC_RETRIES loop here too, re-announcing the
		// codec if the HF never confirms.
		if timedOut {
			codec := c.Transport.Codec()
			return resend(c, atframe.Frame{Type: atframe.RESP, Command: "+BCS", Value: fmt.Sprintf("%d", int(codec))},
				dispatch.Expectation{Type: atframe.CMDSet, Command: "+BCS", Handler: dispatch.HandleBcsSet})
		}
		return true, nil

	case hfpstate.CCBcsSetOK, hfpstate.CCConnected:
		c.Advance(hfpstate.Connected)
		c.Transport.NotifySampling()
		return false, nil

	default:
		return false, nil
	}
}
