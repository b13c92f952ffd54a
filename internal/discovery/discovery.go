// Package discovery advertises a read-only debug status endpoint on
// the local network (SPEC_FULL.md DOMAIN STACK, "_hfpd._tcp"). It is
// strictly a debug aid: off by default, and the endpoint it serves
// never carries AT traffic or touches the RFCOMM session.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/brutella/dnssd"

	"github.com/bluetalk/hfpd/internal/transport"
)

// ServiceType is the mDNS service type the status server is
// advertised under. cmd/hfpctl does not browse for it; it dials the
// address given by its --addr flag.
const ServiceType = "_hfpd._tcp"

// Snapshot is the read-only transport/device view cmd/hfpctl prints
// (SPEC_FULL.md §11: "codec, gains, indicators, battery").
type Snapshot struct {
	Codec      string         `json:"codec"`
	MicGain    int            `json:"mic_gain"`
	SpkGain    int            `json:"spk_gain"`
	Indicators map[string]int `json:"indicators"`
	Battery    int            `json:"battery_percent"`
}

// BuildSnapshot reads the current state of tp/dev. Safe to call
// concurrently with the engine session; every field is backed by an
// atomic or mutex-protected read.
func BuildSnapshot(tp *transport.Transport, dev *transport.Device) Snapshot {
	inds := make(map[string]int, tp.Indicators.Len())
	for pos := 1; pos <= tp.Indicators.Len(); pos++ {
		ind, ok := tp.Indicators.At(pos)
		if !ok {
			continue
		}
		inds[ind.String()] = tp.Indicator(ind)
	}
	return Snapshot{
		Codec:      tp.Codec().String(),
		MicGain:    tp.MicGain(),
		SpkGain:    tp.SpkGain(),
		Indicators: inds,
		Battery:    dev.BatteryLevel(),
	}
}

// Server answers one newline-terminated JSON Snapshot per accepted
// connection, then closes it — a minimal read-only protocol, not a
// general RPC surface.
type Server struct {
	tp  *transport.Transport
	dev *transport.Device
}

// NewServer returns a Server reading live state from tp/dev.
func NewServer(tp *transport.Transport, dev *transport.Device) *Server {
	return &Server{tp: tp, dev: dev}
}

// Serve accepts connections on ln until ctx is cancelled or Accept
// fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("discovery: accept: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	snap := BuildSnapshot(s.tp, s.dev)
	enc := json.NewEncoder(conn)
	_ = enc.Encode(snap)
}

// Advertiser publishes the status server on the LAN via mDNS/DNS-SD.
type Advertiser struct {
	responder dnssd.Responder
	handle    dnssd.ServiceHandle
}

// Advertise registers instanceName as ServiceType on port and starts
// responding to mDNS queries. Callers should run Respond in its own
// goroutine and cancel ctx to stop advertising.
func Advertise(ctx context.Context, instanceName string, port int) (*Advertiser, error) {
	cfg := dnssd.Config{
		Name: instanceName,
		Type: ServiceType,
		Port: port,
	}
	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: building service record: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("discovery: starting responder: %w", err)
	}

	handle, err := responder.Add(svc)
	if err != nil {
		return nil, fmt.Errorf("discovery: registering service: %w", err)
	}

	return &Advertiser{responder: responder, handle: handle}, nil
}

// Respond blocks, answering mDNS queries until ctx is cancelled.
func (a *Advertiser) Respond(ctx context.Context) error {
	return a.responder.Respond(ctx)
}
