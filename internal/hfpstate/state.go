// Package hfpstate defines the HFP Service Level Connection
// progression (spec.md §3) and its role-independent transition
// table, replacing the "numeric successor" trick the Design Notes
// flag as coupling the enum ordering to the protocol sequence.
package hfpstate

// State is a point in the SLC progression. Values are ordered: for
// any transition s -> s', s' >= s (spec.md §8 monotonicity
// invariant).
type State int

const (
	Disconnected State = iota
	SLCBrsfSet
	SLCBrsfSetOK
	SLCBacSetOK
	SLCCindTest
	SLCCindTestOK
	SLCCindGet
	SLCCindGetOK
	SLCCmerSetOK
	SLCConnected
	CCBcsSet
	CCBcsSetOK
	CCConnected
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case SLCBrsfSet:
		return "SLC_BRSF_SET"
	case SLCBrsfSetOK:
		return "SLC_BRSF_SET_OK"
	case SLCBacSetOK:
		return "SLC_BAC_SET_OK"
	case SLCCindTest:
		return "SLC_CIND_TEST"
	case SLCCindTestOK:
		return "SLC_CIND_TEST_OK"
	case SLCCindGet:
		return "SLC_CIND_GET"
	case SLCCindGetOK:
		return "SLC_CIND_GET_OK"
	case SLCCmerSetOK:
		return "SLC_CMER_SET_OK"
	case SLCConnected:
		return "SLC_CONNECTED"
	case CCBcsSet:
		return "CC_BCS_SET"
	case CCBcsSetOK:
		return "CC_BCS_SET_OK"
	case CCConnected:
		return "CC_CONNECTED"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Role distinguishes the Hands-Free and Audio-Gateway sides; both are
// driven by the same State enumeration but dispatch on different
// transitions (spec.md §4.5).
type Role int

const (
	HandsFree Role = iota
	AudioGateway
)

// Next returns the state one genuine protocol step after s, the
// explicit table the Design Notes ask for in place of "state+1".
// It is independent of Role: the successor relation itself is the
// same ordered progression for both sides, only *which* messages
// drive a given step differs (that policy lives in internal/slc).
var successor = map[State]State{
	Disconnected:  SLCBrsfSet,
	SLCBrsfSet:    SLCBrsfSetOK,
	SLCBrsfSetOK:  SLCBacSetOK,
	SLCBacSetOK:   SLCCindTest,
	SLCCindTest:   SLCCindTestOK,
	SLCCindTestOK: SLCCindGet,
	SLCCindGet:    SLCCindGetOK,
	SLCCindGetOK:  SLCCmerSetOK,
	SLCCmerSetOK:  SLCConnected,
	SLCConnected:  Connected,
	CCBcsSet:      CCBcsSetOK,
	CCBcsSetOK:    CCConnected,
	CCConnected:   Connected,
}

// Next returns the state after s in the generic "OK confirms the
// last emitted command" successor relation, and whether one exists.
func Next(s State) (State, bool) {
	n, ok := successor[s]
	return n, ok
}

// AtLeast reports whether s has reached or passed target in the
// ordered progression.
func AtLeast(s, target State) bool { return s >= target }
