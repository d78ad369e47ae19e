// SPDX-License-Identifier: MIT
package cmd

import (
	"errors"
	"fmt"

	"conga/internal/analysis"
	"conga/internal/config"
	applog "conga/internal/log"
	"conga/internal/transport"
	"conga/internal/transport/udp"
)

var logger = applog.Named("CLI")

// Outputs owns every sink a session writes to: the hit event transports and
// the optional UDP stats publisher.
type Outputs struct {
	cfg       config.TransportConfig
	Events    transport.Multi
	WebSocket *transport.WebSocketTransport
	sender    *udp.Sender
	stats     *udp.StatsPublisher
}

// OpenOutputs builds the transports cfg enables. Hit events and stats share
// one UDP socket; the receiver tells them apart by packet size.
func OpenOutputs(cfg config.TransportConfig) (_ *Outputs, err error) {
	o := &Outputs{cfg: cfg}
	defer func() {
		if err != nil {
			err = errors.Join(err, o.Close())
		}
	}()

	if cfg.LogEvents {
		o.Events = append(o.Events, transport.NewLoggingTransport())
	}

	if cfg.WebSocketEnabled {
		ws, err := transport.NewWebSocketTransport(cfg.WebSocketAddress, cfg.WebSocketPath)
		if err != nil {
			return nil, err
		}
		o.WebSocket = ws
		o.Events = append(o.Events, ws)
	}

	if cfg.UDPEnabled || cfg.UDPStatsEnabled {
		sender, err := udp.NewSender(cfg.UDPTargetAddress)
		if err != nil {
			return nil, fmt.Errorf("udp output: %w", err)
		}
		o.sender = sender
	}
	if cfg.UDPEnabled {
		events, err := udp.NewEventTransport(o.sender)
		if err != nil {
			return nil, err
		}
		o.Events = append(o.Events, events)
	}
	return o, nil
}

// Handler forwards detector events to every transport. Send failures are
// logged and do not stop detection.
func (o *Outputs) Handler() analysis.EventHandler {
	return transport.Handler(o.Events, func(err error) {
		logger.Warnf("hit event not delivered: %v", err)
	})
}

// StartStats publishes source's stats over UDP when enabled.
func (o *Outputs) StartStats(source udp.StatsSource) error {
	if !o.cfg.UDPStatsEnabled {
		return nil
	}
	p, err := udp.NewStatsPublisher(o.cfg.UDPStatsInterval, o.sender, source)
	if err != nil {
		return err
	}
	o.stats = p
	p.Start()
	return nil
}

// Close stops the stats publisher before closing the socket it shares with
// the event transport.
func (o *Outputs) Close() error {
	var errs []error
	if o.stats != nil {
		errs = append(errs, o.stats.Close())
	}
	errs = append(errs, o.Events.Close())
	if o.sender != nil {
		errs = append(errs, o.sender.Close())
	}
	return errors.Join(errs...)
}
