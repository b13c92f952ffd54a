// Package devicewatch waits for an RFCOMM device node to appear (and
// reports when it later disappears) via udev, replacing the teacher's
// "sleep N seconds, os.Stat, retry" poll loop with an event-driven
// wait (SPEC_FULL.md DOMAIN STACK).
package devicewatch

import (
	"context"
	"fmt"
	"os"

	"github.com/jochenvg/go-udev"
)

// Event reports a device node transition observed on the udev netlink
// socket for the path a Watcher was asked to track.
type Event struct {
	Path     string
	Appeared bool // true on "add", false on "remove"
}

// Subsystem is the udev subsystem RFCOMM/serial nodes register
// under. Override in tests or for non-tty transports.
var Subsystem = "tty"

// WaitForDevice blocks until path exists, returning immediately if it
// already does (mirrors kissserial.go's "was opened at start up time"
// fast path before falling back to the poll loop).
func WaitForDevice(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	u := &udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem(Subsystem); err != nil {
		return fmt.Errorf("devicewatch: filtering subsystem %s: %w", Subsystem, err)
	}

	devices, errs, err := mon.DeviceChan(ctx)
	if err != nil {
		return fmt.Errorf("devicewatch: starting udev monitor: %w", err)
	}

	// A device may have appeared between the Stat above and the
	// monitor coming up; check once more now that we're subscribed.
	if _, statErr := os.Stat(path); statErr == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return fmt.Errorf("devicewatch: udev monitor: %w", err)
		case d, ok := <-devices:
			if !ok {
				return fmt.Errorf("devicewatch: udev monitor closed while waiting for %s", path)
			}
			if d.Action() == "add" && d.Devnode() == path {
				return nil
			}
		}
	}
}

// Watch reports every subsequent appear/disappear transition for path
// until ctx is cancelled, for a caller that wants to reopen the
// RFCOMM session after an unplug/replug (SPEC_FULL.md §10).
func Watch(ctx context.Context, path string) (<-chan Event, error) {
	u := &udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem(Subsystem); err != nil {
		return nil, fmt.Errorf("devicewatch: filtering subsystem %s: %w", Subsystem, err)
	}

	devices, errs, err := mon.DeviceChan(ctx)
	if err != nil {
		return nil, fmt.Errorf("devicewatch: starting udev monitor: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-errs:
				return
			case d, ok := <-devices:
				if !ok {
					return
				}
				if d.Devnode() != path {
					continue
				}
				var ev Event
				switch d.Action() {
				case "add":
					ev = Event{Path: path, Appeared: true}
				case "remove":
					ev = Event{Path: path, Appeared: false}
				default:
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
