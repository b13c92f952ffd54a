// Command hfpctl is a tiny read-only debug client for the status
// endpoint internal/discovery exposes: it connects, prints the
// current transport/device snapshot and exits. It never sends AT
// traffic. Mirrors cmd/tnctest's role as a small standalone probe
// alongside the main daemon.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bluetalk/hfpd/internal/discovery"
)

func main() {
	addr := pflag.StringP("addr", "a", "localhost:7878", "hfpd discovery status endpoint address.")
	timeout := pflag.DurationP("timeout", "t", 3*time.Second, "Connection timeout.")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hfpctl - read-only status client for hfpd.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: hfpctl [options]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(1)
	}

	if err := run(*addr, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("hfpctl: connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	var snap discovery.Snapshot
	if err := json.NewDecoder(conn).Decode(&snap); err != nil {
		return fmt.Errorf("hfpctl: reading snapshot: %w", err)
	}

	fmt.Printf("codec:   %s\n", snap.Codec)
	fmt.Printf("mic:     %d\n", snap.MicGain)
	fmt.Printf("speaker: %d\n", snap.SpkGain)
	fmt.Printf("battery: %d%%\n", snap.Battery)
	fmt.Println("indicators:")
	for name, val := range snap.Indicators {
		fmt.Printf("  %-10s %d\n", name, val)
	}

	return nil
}
