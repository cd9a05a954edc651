package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses a duration string and falls back to defaultValue when empty.
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", candidate)
	}
	return d, nil
}

// SessionTimings are the parsed durations the session controller runs with.
type SessionTimings struct {
	Tick              time.Duration
	EchoWindow        time.Duration
	Handshake         time.Duration
	DisconnectTimeout time.Duration
}

func (c *Config) SessionTimings() (SessionTimings, error) {
	var t SessionTimings
	var err error

	if t.Tick, err = DurationOrDefault(c.Session.TickInterval, DefaultSessionTickInterval); err != nil {
		return t, fmt.Errorf("session.tick_interval: %w", err)
	}
	if t.Tick == 0 {
		return t, fmt.Errorf("session.tick_interval must be positive")
	}
	if t.EchoWindow, err = DurationOrDefault(c.Session.EchoWindow, DefaultSessionEchoWindow); err != nil {
		return t, fmt.Errorf("session.echo_window: %w", err)
	}
	if t.Handshake, err = DurationOrDefault(c.Realtime.HandshakeTimeout, DefaultRealtimeHandshakeTimeout); err != nil {
		return t, fmt.Errorf("realtime.handshake_timeout: %w", err)
	}
	if t.DisconnectTimeout, err = DurationOrDefault(c.Realtime.DisconnectTimeout, DefaultRealtimeDisconnectTimeout); err != nil {
		return t, fmt.Errorf("realtime.disconnect_timeout: %w", err)
	}
	return t, nil
}
