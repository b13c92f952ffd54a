package dispatch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bluetalk/hfpd/internal/atframe"
	"github.com/bluetalk/hfpd/internal/hfperr"
	"github.com/bluetalk/hfpd/internal/hfpstate"
	"github.com/bluetalk/hfpd/internal/transport"
)

// GenericOK is the generic OK/ERROR continuation (spec.md §4.4): it
// is never registered in the static table, only installed as an
// Expectation.Handler by the SLC driver after sending a command.
func GenericOK(c *Conn, f atframe.Frame) error {
	switch f.Value {
	case "OK":
		if next, ok := hfpstate.Next(c.State); ok {
			c.Advance(next)
		}
		return nil
	case "ERROR":
		return hfperr.New(hfperr.NotSupported, errors.New("peer rejected last SLC command"))
	default:
		return nil
	}
}

// NotifyAfterOK wraps GenericOK so a successful OK also triggers an
// extra side effect, e.g. "generic OK -> also notify SAMPLING|CODEC"
// from the +BCS response handler contract.
func NotifyAfterOK(extra func(c *Conn)) HandlerFunc {
	return func(c *Conn, f atframe.Frame) error {
		err := GenericOK(c, f)
		if err == nil && f.Value == "OK" && extra != nil {
			extra(c)
		}
		return err
	}
}

// --- AG role: answering the HF's SLC queries -------------------------------

var cindVocabulary = []struct {
	name  string
	ind   transport.Indicator
	rng   string
}{
	{"call", transport.IndCall, "(0,1)"},
	{"callsetup", transport.IndCallSetup, "(0-3)"},
	{"service", transport.IndService, "(0-1)"},
	{"signal", transport.IndSignal, "(0-5)"},
	{"roam", transport.IndRoam, "(0-1)"},
	{"battchg", transport.IndBattChg, "(0-5)"},
	{"callheld", transport.IndCallHeld, "(0-2)"},
}

// HandleCindTest replies to AT+CIND=? (AG role) with the fixed
// indicator vocabulary.
func HandleCindTest(c *Conn, _ atframe.Frame) error {
	var parts []string
	for _, v := range cindVocabulary {
		parts = append(parts, fmt.Sprintf("(%s,%s)", v.name, v.rng))
	}
	if err := c.Write(atframe.Frame{Type: atframe.RESP, Command: "+CIND", Value: strings.Join(parts, ",")}); err != nil {
		return err
	}
	if err := c.Write(atframe.Frame{Type: atframe.RESP, Value: "OK"}); err != nil {
		return err
	}
	c.AdvanceIfBefore(hfpstate.SLCCindTestOK)
	return nil
}

// HandleCindGet replies to AT+CIND? (AG role) with the current
// indicator values, seven zeros for a freshly-initialised session.
func HandleCindGet(c *Conn, _ atframe.Frame) error {
	values := make([]string, len(cindVocabulary))
	for i, v := range cindVocabulary {
		values[i] = strconv.Itoa(c.Transport.Indicator(v.ind))
	}
	if err := c.Write(atframe.Frame{Type: atframe.RESP, Command: "+CIND", Value: strings.Join(values, ",")}); err != nil {
		return err
	}
	if err := c.Write(atframe.Frame{Type: atframe.RESP, Value: "OK"}); err != nil {
		return err
	}
	c.AdvanceIfBefore(hfpstate.SLCCindGetOK)
	return nil
}

var cindNameRE = regexp.MustCompile(`\(([a-zA-Z]+),`)

// HandleCindResponse handles the HF-role +CIND response, dynamically
// distinguishing the test form (vocabulary) from the get form
// (values) by how far the SLC has progressed, per the Design Notes
// on dispatch vs. dynamic expectation.
func HandleCindResponse(c *Conn, f atframe.Frame) error {
	if c.State < hfpstate.SLCCindTest {
		return handleCindTestResponse(c, f)
	}
	return handleCindGetResponse(c, f)
}

func handleCindTestResponse(c *Conn, f atframe.Frame) error {
	names := cindNameRE.FindAllStringSubmatch(f.Value, -1)
	order := make([]transport.Indicator, 0, len(names))
	for _, m := range names {
		ind, ok := transport.IndicatorByName(m[1])
		if !ok {
			c.Log.Warn("unknown indicator in +CIND test response", "name", m[1])
			continue
		}
		order = append(order, ind)
	}
	c.Transport.Indicators.Set(order)
	c.Advance(hfpstate.SLCCindTest)
	return nil
}

func handleCindGetResponse(c *Conn, f atframe.Frame) error {
	values := strings.Split(f.Value, ",")
	for i, raw := range values {
		ind, ok := c.Transport.Indicators.At(i + 1)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		changed := c.Transport.SetIndicator(ind, v)
		if changed && ind == transport.IndBattChg {
			updateBattery(c, v)
		}
	}
	c.Advance(hfpstate.SLCCindGet)
	return nil
}

func updateBattery(c *Conn, battchg int) {
	c.Device.SetBatteryLevel(battchg * 100 / 5)
	c.Transport.NotifyBattery()
}

// HandleCmerSet replies OK to AT+CMER= and advances the SLC.
func HandleCmerSet(c *Conn, _ atframe.Frame) error {
	if err := c.Write(atframe.Frame{Type: atframe.RESP, Value: "OK"}); err != nil {
		return err
	}
	c.AdvanceIfBefore(hfpstate.SLCCmerSetOK)
	return nil
}

// HandleCievResponse handles an unsolicited +CIEV: index,value.
func HandleCievResponse(c *Conn, f atframe.Frame) error {
	parts := strings.SplitN(f.Value, ",", 2)
	if len(parts) != 2 {
		c.Log.Warn("malformed +CIEV", "value", f.Value)
		return nil
	}
	idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		c.Log.Warn("malformed +CIEV index", "value", f.Value)
		return nil
	}
	val, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		c.Log.Warn("malformed +CIEV value", "value", f.Value)
		return nil
	}

	ind, ok := c.Transport.Indicators.At(idx)
	if !ok {
		c.Log.Warn("+CIEV for unmapped indicator position", "index", idx)
		return nil
	}

	c.Transport.SetIndicator(ind, val)

	if ind == transport.IndCall || ind == transport.IndCallSetup {
		if c.PingSCO != nil {
			c.PingSCO()
		}
		c.Transport.NotifyCallActivity()
	}
	if ind == transport.IndBattChg {
		updateBattery(c, val)
	}

	return nil
}

// HandleBiaSet acknowledges AT+BIA= without changing advertised
// indicators.
func HandleBiaSet(c *Conn, _ atframe.Frame) error {
	return c.Write(atframe.Frame{Type: atframe.RESP, Value: "OK"})
}

// HandleBrsfSet is the AG-role handler for incoming AT+BRSF=<hf-features>.
func HandleBrsfSet(c *Conn, f atframe.Frame) error {
	v, err := strconv.ParseUint(f.Value, 10, 32)
	if err != nil {
		return c.Write(atframe.Frame{Type: atframe.RESP, Value: "ERROR"})
	}
	c.PeerFeatures = uint32(v)
	c.Transport.SetFeatures(c.PeerFeatures)

	if c.PeerFeatures&FeatCodecNegotiation == 0 {
		c.MSBC = false
		c.Transport.SetCodec(transport.CodecCVSD)
	}

	if err := c.Write(atframe.Frame{Type: atframe.RESP, Command: "+BRSF", Value: strconv.FormatUint(uint64(c.LocalFeatures), 10)}); err != nil {
		return err
	}
	if err := c.Write(atframe.Frame{Type: atframe.RESP, Value: "OK"}); err != nil {
		return err
	}
	c.AdvanceIfBefore(hfpstate.SLCBrsfSetOK)
	return nil
}

// HandleBrsfResponse is the HF-role handler for the AG's +BRSF reply.
func HandleBrsfResponse(c *Conn, f atframe.Frame) error {
	v, err := strconv.ParseUint(f.Value, 10, 32)
	if err != nil {
		c.Log.Warn("malformed +BRSF response", "value", f.Value)
		return nil
	}
	c.PeerFeatures = uint32(v)
	c.Transport.SetFeatures(c.PeerFeatures)

	if c.PeerFeatures&FeatCodecNegotiation == 0 {
		c.MSBC = false
		c.Transport.SetCodec(transport.CodecCVSD)
	}

	c.Advance(hfpstate.SLCBrsfSet)
	return nil
}

// HandleVgmSet stores a new microphone gain from the peer.
func HandleVgmSet(c *Conn, f atframe.Frame) error {
	return handleGainSet(c, f, true)
}

// HandleVgsSet stores a new speaker gain from the peer.
func HandleVgsSet(c *Conn, f atframe.Frame) error {
	return handleGainSet(c, f, false)
}

func handleGainSet(c *Conn, f atframe.Frame, mic bool) error {
	v, err := strconv.Atoi(f.Value)
	if err != nil {
		return c.Write(atframe.Frame{Type: atframe.RESP, Value: "ERROR"})
	}
	if mic {
		c.MicGain = v
		c.Transport.SetMicGain(v)
	} else {
		c.SpkGain = v
		c.Transport.SetSpkGain(v)
	}
	if err := c.Write(atframe.Frame{Type: atframe.RESP, Value: "OK"}); err != nil {
		return err
	}
	c.Transport.NotifyVolume()
	return nil
}

// HandleBtrhGet replies bare OK to AT+BTRH? — Response & Hold is out
// of scope (spec.md §1 Non-goals).
func HandleBtrhGet(c *Conn, _ atframe.Frame) error {
	return c.Write(atframe.Frame{Type: atframe.RESP, Value: "OK"})
}

// HandleBcsSet is the AG-role handler: the HF has echoed back a codec
// selection as AT+BCS=<value>; accept it only if it matches what the
// AG proposed.
func HandleBcsSet(c *Conn, f atframe.Frame) error {
	v, err := strconv.Atoi(f.Value)
	if err != nil || transport.Codec(v) != c.Transport.Codec() {
		return c.Write(atframe.Frame{Type: atframe.RESP, Value: "ERROR"})
	}
	if err := c.Write(atframe.Frame{Type: atframe.RESP, Value: "OK"}); err != nil {
		return err
	}
	c.AdvanceIfBefore(hfpstate.CCBcsSetOK)
	return nil
}

// HandleBcsResponse is the HF-role handler: the AG announced its
// chosen codec via +BCS:<value>; confirm it back.
func HandleBcsResponse(c *Conn, f atframe.Frame) error {
	v, err := strconv.Atoi(f.Value)
	if err != nil {
		c.Log.Warn("malformed +BCS response", "value", f.Value)
		return nil
	}
	codec := transport.Codec(v)
	c.Transport.SetCodec(codec)
	c.MSBC = codec == transport.CodecMSBC

	if err := c.Write(atframe.Frame{Type: atframe.CMDSet, Command: "+BCS", Value: f.Value}); err != nil {
		return err
	}

	c.Expected = &Expectation{
		Type:    atframe.RESP,
		Command: "",
		Handler: NotifyAfterOK(func(c *Conn) { c.Transport.NotifySampling() }),
	}
	c.Advance(hfpstate.CCBcsSet)
	return nil
}

// HandleBacSet is the AG-role handler for AT+BAC=<ids>, the HF's
// available-codec list.
func HandleBacSet(c *Conn, f atframe.Frame) error {
	for _, tok := range strings.Split(f.Value, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			continue
		}
		if id == int(transport.CodecMSBC) {
			c.MSBC = true
		}
	}
	if err := c.Write(atframe.Frame{Type: atframe.RESP, Value: "OK"}); err != nil {
		return err
	}
	c.AdvanceIfBefore(hfpstate.SLCBacSetOK)
	return nil
}

// HandleIphoneAccEvSet implements the Apple +IPHONEACCEV vendor
// extension (spec.md §4.4, §9): battery and dock-state reporting.
func HandleIphoneAccEvSet(c *Conn, f atframe.Frame) error {
	fields := strings.Split(f.Value, ",")
	if len(fields) == 0 {
		return c.Write(atframe.Frame{Type: atframe.RESP, Value: "ERROR"})
	}

	count, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return c.Write(atframe.Frame{Type: atframe.RESP, Value: "ERROR"})
	}

	i := 1
	for n := 0; n < count; n++ {
		if i >= len(fields) {
			break
		}
		key := strings.TrimSpace(fields[i])
		i++

		switch key {
		case "1":
			if i < len(fields) {
				if v, err := strconv.Atoi(strings.TrimSpace(fields[i])); err == nil {
					c.Device.SetBatteryLevel(v * 100 / 9)
					c.Transport.NotifyBattery()
				}
				i++
			}
		case "2":
			if i < len(fields) {
				docked := strings.TrimSpace(fields[i]) != "0"
				c.Device.SetAccevDocked(docked)
				i++
			}
		default:
			c.Log.Warn("unknown +IPHONEACCEV key", "key", key)
			i++ // skip the associated value
		}
	}

	return c.Write(atframe.Frame{Type: atframe.RESP, Value: "OK"})
}

var xaplRE = regexp.MustCompile(`^([0-9A-Fa-f]+)-([0-9A-Fa-f]+)-(\d+),(\d+)$`)

// HandleXaplSet implements the Apple +XAPL vendor extension.
func HandleXaplSet(c *Conn, f atframe.Frame) error {
	m := xaplRE.FindStringSubmatch(f.Value)
	if m == nil {
		return c.Write(atframe.Frame{Type: atframe.RESP, Value: "ERROR"})
	}

	vendor, _ := strconv.ParseUint(m[1], 16, 32)
	product, _ := strconv.ParseUint(m[2], 16, 32)
	version, _ := strconv.ParseUint(m[3], 10, 32)
	features, _ := strconv.ParseUint(m[4], 10, 32)

	x := c.Device.XAPL()
	x.Vendor = uint32(vendor)
	x.Product = uint32(product)
	x.Version = uint32(version)
	x.Features = uint32(features)
	c.Device.SetXAPL(x)

	return c.Write(atframe.Frame{Type: atframe.RESP, Command: "+XAPL", Value: "BlueALSA,0"})
}
