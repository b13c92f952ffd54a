// Command hfpd is the RFCOMM control-channel daemon: it opens one
// HFP session, drives its SLC/dispatch engine to completion, and
// optionally exposes a GPIO call-indicator, a udev device watch and
// an mDNS-advertised debug status endpoint. Mirrors
// cmd/direwolf/main.go's pflag-driven main.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"
	"github.com/spf13/pflag"

	"github.com/bluetalk/hfpd/internal/config"
	"github.com/bluetalk/hfpd/internal/devicewatch"
	"github.com/bluetalk/hfpd/internal/discovery"
	"github.com/bluetalk/hfpd/internal/dispatch"
	"github.com/bluetalk/hfpd/internal/engine"
	"github.com/bluetalk/hfpd/internal/indicator"
	"github.com/bluetalk/hfpd/internal/slc"
	"github.com/bluetalk/hfpd/internal/transport"
)

func main() {
	configFile := pflag.StringP("config-file", "c", "", "YAML configuration file.")
	fd := pflag.Int("fd", -1, "Use an already-open file descriptor instead of --device (for testing).")
	help := pflag.BoolP("help", "h", false, "Display help text.")
	flags := config.RegisterFlags(pflag.CommandLine)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hfpd - RFCOMM control-channel engine for a Bluetooth HFP audio daemon.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: hfpd [options]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg = flags.Apply(pflag.CommandLine, cfg)

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if lvl, lvlErr := log.ParseLevel(cfg.LogLevel); lvlErr == nil {
		logger.SetLevel(lvl)
	}

	role, err := cfg.HFPRole()
	if err != nil {
		logger.Fatal("configuration error", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bt, closeBT, err := openRFCOMM(ctx, cfg, *fd, logger)
	if err != nil {
		logger.Fatal("opening RFCOMM device", "err", err)
	}

	tp := transport.New()
	dev := transport.NewDevice()

	var sinks transport.Fanout
	if cfg.Indicator.Enabled {
		watcher, wErr := indicator.Open(cfg.Indicator.Chip, cfg.Indicator.Line, tp)
		if wErr != nil {
			logger.Error("GPIO call-indicator disabled", "err", wErr)
		} else {
			defer watcher.Close()
			sinks = append(sinks, watcher)
		}
	}
	if len(sinks) > 0 {
		tp.Sink = sinks
	}

	if cfg.Discovery.Enabled {
		startDiscovery(ctx, cfg, tp, dev, logger)
	}

	c := dispatch.NewConn(role, bt, tp, dev, logger)
	c.LocalFeatures = cfg.LocalFeatures(role)
	c.MSBC = cfg.EnableMSBC
	c.TimestampFormat = cfg.TimestampFormat

	driver := slc.New(cfg.EnableMSBC)
	driver.RetryLimit = cfg.SLCRetries

	e := engine.New(c, driver, bt, nil)
	e.Timeout = cfg.SLCTimeout
	e.Cleanup = closeBT

	if runErr := e.Run(ctx); runErr != nil && ctx.Err() == nil {
		logger.Error("session ended", "err", runErr)
		os.Exit(1)
	}
}

// openRFCOMM opens the RFCOMM stream either from an inherited fd
// (--fd, for tests that don't have a real Bluetooth device) or by
// waiting for and opening the configured device path, mirroring
// serial_port_open's term.Open("/dev/rfcommN", term.RawMode) — the
// teacher's own comment calls out RFCOMM explicitly as a supported
// device name.
func openRFCOMM(ctx context.Context, cfg config.Config, fd int, logger *log.Logger) (io.ReadWriter, func(), error) {
	if fd >= 0 {
		f := os.NewFile(uintptr(fd), "rfcomm-fd")
		return f, func() { _ = f.Close() }, nil
	}

	if cfg.Device == "" {
		return nil, func() {}, fmt.Errorf("no --device configured and no --fd given")
	}

	if cfg.Devicewatch.Enabled {
		if err := devicewatch.WaitForDevice(ctx, cfg.Device); err != nil {
			return nil, func() {}, fmt.Errorf("waiting for %s: %w", cfg.Device, err)
		}
	}

	t, err := term.Open(cfg.Device, term.RawMode)
	if err != nil {
		return nil, func() {}, fmt.Errorf("opening %s: %w", cfg.Device, err)
	}
	logger.Info("opened RFCOMM device", "device", cfg.Device)
	return t, func() { _ = t.Close() }, nil
}

func startDiscovery(ctx context.Context, cfg config.Config, tp *transport.Transport, dev *transport.Device, logger *log.Logger) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Discovery.Port))
	if err != nil {
		logger.Error("discovery status server disabled", "err", err)
		return
	}

	srv := discovery.NewServer(tp, dev)
	go func() {
		if serveErr := srv.Serve(ctx, ln); serveErr != nil && ctx.Err() == nil {
			logger.Warn("discovery status server stopped", "err", serveErr)
		}
	}()

	_, port, splitErr := net.SplitHostPort(ln.Addr().String())
	if splitErr != nil {
		port = strconv.Itoa(cfg.Discovery.Port)
	}
	portNum, _ := strconv.Atoi(port)

	adv, err := discovery.Advertise(ctx, cfg.Discovery.InstanceID, portNum)
	if err != nil {
		logger.Error("mDNS advertisement disabled", "err", err)
		return
	}
	go func() {
		if respErr := adv.Respond(ctx); respErr != nil && ctx.Err() == nil {
			logger.Warn("mDNS responder stopped", "err", respErr)
		}
	}()
}
