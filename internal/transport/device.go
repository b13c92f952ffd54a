package transport

import (
	"sync"
	"sync/atomic"
)

// XAPL holds the Apple accessory descriptors parsed from +XAPL=.
type XAPL struct {
	Vendor      uint32
	Product     uint32
	Version     uint32
	Features    uint32
	AccevDocked bool
}

// Device is the shared sibling record of spec.md §3 "Device record":
// this engine writes only battery_level and the Apple accessory
// descriptors; everything else about the peer device belongs to
// other subsystems.
type Device struct {
	batteryLevel atomic.Int32

	mu   sync.RWMutex
	xapl XAPL
}

func NewDevice() *Device { return &Device{} }

func (d *Device) BatteryLevel() int     { return int(d.batteryLevel.Load()) }
func (d *Device) SetBatteryLevel(v int) { d.batteryLevel.Store(int32(v)) }

func (d *Device) XAPL() XAPL {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.xapl
}

func (d *Device) SetXAPL(x XAPL) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.xapl = x
}

func (d *Device) SetAccevDocked(docked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.xapl.AccevDocked = docked
}
