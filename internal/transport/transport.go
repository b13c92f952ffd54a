// Package transport implements the shared transport record (spec.md
// §3/§4.7, component C7): the typed fields this engine updates and
// the audio-serving subsystem reads, using per-field atomics with a
// single writer per field except the gain pair, which the audio side
// may also write.
package transport

import (
	"sync"
	"sync/atomic"
)

// Codec identifies the negotiated SCO codec.
type Codec int32

const (
	CodecUnset Codec = 0
	CodecCVSD  Codec = 1
	CodecMSBC  Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecCVSD:
		return "CVSD"
	case CodecMSBC:
		return "mSBC"
	default:
		return "unset"
	}
}

// Indicator is one of the seven HFP indicator names in the fixed
// vocabulary of spec.md §3.
type Indicator int

const (
	IndCall Indicator = iota
	IndCallSetup
	IndService
	IndSignal
	IndRoam
	IndBattChg
	IndCallHeld
	numIndicators
)

func (i Indicator) String() string {
	switch i {
	case IndCall:
		return "call"
	case IndCallSetup:
		return "callsetup"
	case IndService:
		return "service"
	case IndSignal:
		return "signal"
	case IndRoam:
		return "roam"
	case IndBattChg:
		return "battchg"
	case IndCallHeld:
		return "callheld"
	default:
		return "unknown"
	}
}

// IndicatorByName resolves the fixed vocabulary name to its slot, or
// ok=false if unrecognised.
func IndicatorByName(name string) (Indicator, bool) {
	switch name {
	case "call":
		return IndCall, true
	case "callsetup":
		return IndCallSetup, true
	case "service":
		return IndService, true
	case "signal":
		return IndSignal, true
	case "roam":
		return IndRoam, true
	case "battchg":
		return IndBattChg, true
	case "callheld":
		return IndCallHeld, true
	default:
		return 0, false
	}
}

// Property is a bitmask of transport fields that changed, delivered
// to a Sink synchronously (spec.md §6 Property-update interface).
type Property uint32

const (
	Sampling Property = 1 << iota
	CodecChanged
	Volume
	Battery
	CallActivity
)

// Sink is the callable property-update sink: the GPIO call-indicator
// in cmd/hfpd, a test spy in unit tests. Must not block.
type Sink interface {
	Notify(props Property)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) Notify(Property) {}

// Fanout broadcasts every Notify call to each subscriber in turn,
// letting the indicator GPIO watcher (internal/indicator) subscribe
// alongside other sinks without any of them needing to know about the
// others.
type Fanout []Sink

func (f Fanout) Notify(props Property) {
	for _, sink := range f {
		if sink != nil {
			sink.Notify(props)
		}
	}
}

// IndicatorMap records which fixed-vocabulary indicator lives at each
// 1-based AG-advertised position, parsed once from a +CIND=? test
// response (spec.md §3, "stable for the session" after
// SLC_CIND_TEST).
type IndicatorMap struct {
	mu        sync.RWMutex
	positions []Indicator // positions[i] is the indicator at AG position i+1
}

// Set installs the parsed position order. Called once by the
// +CIND test-response handler.
func (m *IndicatorMap) Set(order []Indicator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append([]Indicator(nil), order...)
}

// At returns the indicator advertised at the given 1-based position.
func (m *IndicatorMap) At(pos int) (Indicator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pos < 1 || pos > len(m.positions) {
		return 0, false
	}
	return m.positions[pos-1], true
}

// Len reports how many positions have been recorded.
func (m *IndicatorMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// Transport is the shared record of spec.md §4.7: outlives any single
// engine session, consumed by the audio-serving subsystem. Every value
// field is a plain atomic and the indicator position map carries its
// own lock, so reads from the audio thread never race with writes
// from the RFCOMM session thread.
type Transport struct {
	codec    atomic.Int32
	micGain  atomic.Int32
	spkGain  atomic.Int32
	features atomic.Uint32
	inds     [numIndicators]atomic.Int32

	Indicators IndicatorMap

	Sink Sink
}

// New returns a Transport with a no-op sink; callers should replace
// Sink before wiring the engine.
func New() *Transport {
	return &Transport{Sink: NopSink{}}
}

func (t *Transport) Codec() Codec        { return Codec(t.codec.Load()) }
func (t *Transport) SetCodec(c Codec)    { t.codec.Store(int32(c)) }
func (t *Transport) MicGain() int        { return int(t.micGain.Load()) }
func (t *Transport) SetMicGain(v int)    { t.micGain.Store(int32(v)) }
func (t *Transport) SpkGain() int        { return int(t.spkGain.Load()) }
func (t *Transport) SetSpkGain(v int)    { t.spkGain.Store(int32(v)) }
func (t *Transport) Features() uint32    { return t.features.Load() }
func (t *Transport) SetFeatures(v uint32) { t.features.Store(v) }

// Indicator returns the current value of an indicator slot.
func (t *Transport) Indicator(i Indicator) int {
	return int(t.inds[i].Load())
}

// SetIndicator stores a new value for an indicator slot and reports
// whether it actually changed, so callers can decide whether to
// recompute derived state (e.g. battery percentage) and notify.
func (t *Transport) SetIndicator(i Indicator, v int) (changed bool) {
	old := t.inds[i].Swap(int32(v))
	return int(old) != v
}

func (t *Transport) notify(props Property) {
	if t.Sink != nil {
		t.Sink.Notify(props)
	}
}

// NotifySampling announces a codec/sample-rate change became active.
func (t *Transport) NotifySampling() { t.notify(Sampling | CodecChanged) }

// NotifyVolume announces a gain change.
func (t *Transport) NotifyVolume() { t.notify(Volume) }

// NotifyBattery announces a battery-level change.
func (t *Transport) NotifyBattery() { t.notify(Battery) }

// NotifyCallActivity announces a call or callsetup indicator change,
// the event the GPIO call-indicator (internal/indicator) reacts to.
func (t *Transport) NotifyCallActivity() { t.notify(CallActivity) }
