package devicewatch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluetalk/hfpd/internal/devicewatch"
)

// TestWaitForDeviceFastPathSkipsUdev exercises the one part of
// WaitForDevice testable without a real udev netlink monitor: the
// node already existing at the fast path.
func TestWaitForDeviceFastPathSkipsUdev(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rfcomm0")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, devicewatch.WaitForDevice(ctx, path))
}
