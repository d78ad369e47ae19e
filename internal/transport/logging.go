// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"

	"conga/internal/analysis"
	applog "conga/internal/log"
)

// LoggingTransport writes every hit to the log. It is the default sink when
// no network transport is configured.
type LoggingTransport struct {
	log *applog.Logger
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	lt := &LoggingTransport{log: applog.Named("Transport")}
	lt.log.Debugf("using LoggingTransport")
	return lt
}

// Send logs the received data. Events are logged in their wire form.
func (lt *LoggingTransport) Send(data any) error {
	if ev, ok := data.(analysis.Event); ok {
		data = NewHitMessage(ev)
	}
	b, err := json.Marshal(data)
	if err != nil {
		lt.log.Infof("%T %+v", data, data)
		return nil
	}
	lt.log.Infof("%s", b)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
