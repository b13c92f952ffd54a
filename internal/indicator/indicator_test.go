package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluetalk/hfpd/internal/transport"
)

// mockLine is a test double for line, recording calls without
// requiring real GPIO hardware.
type mockLine struct {
	values []int
	closed bool
}

func (m *mockLine) SetValue(v int) error {
	m.values = append(m.values, v)
	return nil
}

func (m *mockLine) Close() error {
	m.closed = true
	return nil
}

func (m *mockLine) last() int {
	if len(m.values) == 0 {
		return -1
	}
	return m.values[len(m.values)-1]
}

func TestWatcherDrivesLineHighWhileCallActive(t *testing.T) {
	tp := transport.New()
	m := &mockLine{}
	w := newWithLine(m, tp)

	tp.SetIndicator(transport.IndCall, 1)
	w.Notify(transport.CallActivity)
	assert.Equal(t, 1, m.last())

	tp.SetIndicator(transport.IndCall, 0)
	w.Notify(transport.CallActivity)
	assert.Equal(t, 0, m.last())
}

func TestWatcherIgnoresUnrelatedProperties(t *testing.T) {
	tp := transport.New()
	m := &mockLine{}
	w := newWithLine(m, tp)

	tp.SetIndicator(transport.IndCall, 1)
	w.Notify(transport.Volume)
	assert.Empty(t, m.values, "Volume alone must not touch the GPIO line")
}

func TestWatcherCallSetupAloneDrivesLineHigh(t *testing.T) {
	tp := transport.New()
	m := &mockLine{}
	w := newWithLine(m, tp)

	tp.SetIndicator(transport.IndCallSetup, 2)
	w.Notify(transport.CallActivity)
	assert.Equal(t, 1, m.last())
}

func TestWatcherSkipsRedundantWrites(t *testing.T) {
	tp := transport.New()
	m := &mockLine{}
	w := newWithLine(m, tp)

	tp.SetIndicator(transport.IndCall, 1)
	w.Notify(transport.CallActivity)
	w.Notify(transport.CallActivity)
	assert.Len(t, m.values, 1, "unchanged active state must not re-write the line")
}

func TestWatcherCloseDrivesLineLow(t *testing.T) {
	tp := transport.New()
	m := &mockLine{}
	w := newWithLine(m, tp)

	tp.SetIndicator(transport.IndCall, 1)
	w.Notify(transport.CallActivity)

	require.NoError(t, w.Close())
	assert.Equal(t, 0, m.last())
	assert.True(t, m.closed)
}
