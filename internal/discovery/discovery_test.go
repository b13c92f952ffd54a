package discovery_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluetalk/hfpd/internal/discovery"
	"github.com/bluetalk/hfpd/internal/transport"
)

func TestBuildSnapshotReflectsTransportState(t *testing.T) {
	tp := transport.New()
	dev := transport.NewDevice()

	tp.SetCodec(transport.CodecMSBC)
	tp.SetMicGain(9)
	tp.SetSpkGain(12)
	tp.Indicators.Set([]transport.Indicator{transport.IndCall, transport.IndCallSetup})
	tp.SetIndicator(transport.IndCall, 1)
	dev.SetBatteryLevel(80)

	snap := discovery.BuildSnapshot(tp, dev)
	assert.Equal(t, "mSBC", snap.Codec)
	assert.Equal(t, 9, snap.MicGain)
	assert.Equal(t, 12, snap.SpkGain)
	assert.Equal(t, 1, snap.Indicators["call"])
	assert.Equal(t, 0, snap.Indicators["callsetup"])
	assert.Equal(t, 80, snap.Battery)
}

func TestServerAnswersOneSnapshotPerConnection(t *testing.T) {
	tp := transport.New()
	dev := transport.NewDevice()
	dev.SetBatteryLevel(42)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := discovery.NewServer(tp, dev)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = srv.Serve(ctx, ln) }()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	var snap discovery.Snapshot
	require.NoError(t, json.NewDecoder(conn).Decode(&snap))
	assert.Equal(t, 42, snap.Battery)
}
