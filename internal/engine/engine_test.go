package engine_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluetalk/hfpd/internal/atframe"
	"github.com/bluetalk/hfpd/internal/atio"
	"github.com/bluetalk/hfpd/internal/dispatch"
	"github.com/bluetalk/hfpd/internal/engine"
	"github.com/bluetalk/hfpd/internal/hfperr"
	"github.com/bluetalk/hfpd/internal/hfpstate"
	"github.com/bluetalk/hfpd/internal/slc"
	"github.com/bluetalk/hfpd/internal/transport"
)

type spySink struct{ calls []transport.Property }

func (s *spySink) Notify(p transport.Property) { s.calls = append(s.calls, p) }

// peer is a tiny hand-driven AT endpoint used to play the other side
// of the RFCOMM link in these end-to-end tests, reading and writing
// over the opposite end of a net.Pipe exactly as a real AG or HF peer
// would.
type peer struct {
	conn net.Conn
	r    *atio.Reader
}

func newPeer(conn net.Conn) *peer {
	return &peer{conn: conn, r: atio.NewReader()}
}

func (p *peer) expect(t *testing.T, typ atframe.Type, command string) atframe.Frame {
	t.Helper()
	f, err := p.r.ReadFrame(p.conn)
	require.NoError(t, err)
	require.Equal(t, typ, f.Type, "frame: %+v", f)
	require.Equal(t, command, f.Command, "frame: %+v", f)
	return f
}

func (p *peer) send(t *testing.T, f atframe.Frame) {
	t.Helper()
	require.NoError(t, atio.WriteFrame(p.conn, f))
}

// TestEngineHFFullSLCHandshakeNoCodec runs the HF-side event loop
// against a scripted AG peer through the full SLC progression with no
// codec negotiation (spec.md §8 scenario "HF-role; full SLC (no codec
// negotiation); engine reaches CONNECTED").
func TestEngineHFFullSLCHandshakeNoCodec(t *testing.T) {
	hfConn, agConn := net.Pipe()
	defer hfConn.Close()
	defer agConn.Close()

	tp := transport.New()
	sink := &spySink{}
	tp.Sink = sink

	c := dispatch.NewConn(hfpstate.HandsFree, hfConn, tp, transport.NewDevice(), nil)
	c.LocalFeatures = 0 // no codec-negotiation bit

	e := engine.New(c, slc.New(false), hfConn, nil)
	e.Timeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	ag := newPeer(agConn)

	ag.expect(t, atframe.CMDSet, "+BRSF")
	ag.send(t, atframe.Frame{Type: atframe.RESP, Command: "+BRSF", Value: "0"})
	ag.send(t, atframe.Frame{Type: atframe.RESP, Value: "OK"})

	ag.expect(t, atframe.CMDTest, "+CIND")
	ag.send(t, atframe.Frame{Type: atframe.RESP, Command: "+CIND", Value: "(call,(0,1)),(callsetup,(0-3))"})
	ag.send(t, atframe.Frame{Type: atframe.RESP, Value: "OK"})

	ag.expect(t, atframe.CMDGet, "+CIND")
	ag.send(t, atframe.Frame{Type: atframe.RESP, Command: "+CIND", Value: "0,0"})
	ag.send(t, atframe.Frame{Type: atframe.RESP, Value: "OK"})

	ag.expect(t, atframe.CMDSet, "+CMER")
	ag.send(t, atframe.Frame{Type: atframe.RESP, Value: "OK"})

	require.Eventually(t, func() bool {
		return c.State == hfpstate.Connected
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, sink.calls, transport.Sampling|transport.CodecChanged)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

// TestEngineAGRespondsToHFDrivenSLC runs the AG-side event loop
// against a scripted HF peer (spec.md §8 scenario "AG-role; SLC
// without codec negotiation").
func TestEngineAGRespondsToHFDrivenSLC(t *testing.T) {
	agConn, hfConn := net.Pipe()
	defer agConn.Close()
	defer hfConn.Close()

	tp := transport.New()
	c := dispatch.NewConn(hfpstate.AudioGateway, agConn, tp, transport.NewDevice(), nil)
	c.LocalFeatures = 0

	e := engine.New(c, slc.New(false), agConn, nil)
	e.Timeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	hf := newPeer(hfConn)

	hf.send(t, atframe.Frame{Type: atframe.CMDSet, Command: "+BRSF", Value: "0"})
	hf.expect(t, atframe.RESP, "+BRSF")
	hf.expect(t, atframe.RESP, "")

	hf.send(t, atframe.Frame{Type: atframe.CMDTest, Command: "+CIND"})
	hf.expect(t, atframe.RESP, "+CIND")
	hf.expect(t, atframe.RESP, "")

	hf.send(t, atframe.Frame{Type: atframe.CMDGet, Command: "+CIND"})
	hf.expect(t, atframe.RESP, "+CIND")
	hf.expect(t, atframe.RESP, "")

	hf.send(t, atframe.Frame{Type: atframe.CMDSet, Command: "+CMER", Value: "3,0,0,1,0"})
	hf.expect(t, atframe.RESP, "")

	require.Eventually(t, func() bool {
		return c.State == hfpstate.Connected
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

// TestEngineVolumeSignalEmitsUnsolicitedVGM exercises spec.md §4.6
// step 5's sig_fd branch: a SET_VOLUME signal after the audio sibling
// writes a new mic gain directly into the shared transport results in
// an unsolicited +VGM.
func TestEngineVolumeSignalEmitsUnsolicitedVGM(t *testing.T) {
	agConn, peerConn := net.Pipe()
	defer agConn.Close()
	defer peerConn.Close()

	tp := transport.New()
	c := dispatch.NewConn(hfpstate.AudioGateway, agConn, tp, transport.NewDevice(), nil)
	c.State = hfpstate.Connected // bypass SLC; this test is only about the signal branch

	sig := make(chan engine.Signal, 1)
	e := engine.New(c, slc.New(false), agConn, sig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	tp.SetMicGain(11)
	sig <- engine.SetVolume

	p := newPeer(peerConn)
	f := p.expect(t, atframe.RESP, "+VGM")
	assert.Equal(t, "11", f.Value)

	cancel()
	<-done
}

// TestEngineSLCTimeoutTerminatesSession exercises spec.md §8's "SLC
// timeout" scenario: the AG never replies to AT+BRSF, so after
// SLC_RETRIES+1 total attempts the engine returns TimedOut.
func TestEngineSLCTimeoutTerminatesSession(t *testing.T) {
	hfConn, agConn := net.Pipe()
	defer hfConn.Close()
	defer func() { _ = agConn.Close() }()

	c := dispatch.NewConn(hfpstate.HandsFree, hfConn, transport.New(), transport.NewDevice(), nil)

	d := slc.New(false)
	d.RetryLimit = 1
	e := engine.New(c, d, hfConn, nil)
	e.Timeout = 20 * time.Millisecond

	// Drain and discard every retransmitted AT+BRSF without replying,
	// so the AG side never acknowledges.
	go func() {
		r := atio.NewReader()
		for {
			if _, err := r.ReadFrame(agConn); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	select {
	case err := <-errCh:
		require.Error(t, err)
		var herr *hfperr.Error
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, hfperr.TimedOut, herr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not time out in time")
	}
}
