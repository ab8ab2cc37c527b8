// Package wifi associates with an access point with a bounded number of
// attempts and tracks the resulting connectivity state.
package wifi

import (
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"time"
)

// LinkStatus is the radio's own view of the association.
type LinkStatus uint8

const (
	LinkDown LinkStatus = iota
	LinkJoining
	LinkUp
	LinkFailed
)

func (s LinkStatus) String() string {
	switch s {
	case LinkJoining:
		return "joining"
	case LinkUp:
		return "up"
	case LinkFailed:
		return "failed"
	default:
		return "down"
	}
}

// Radio is the WiFi station interface.
type Radio interface {
	SetActive(on bool) error
	Status() LinkStatus
	IsConnected() bool
	Disconnect() error
	// Connect starts an association. It may return before the link is up.
	Connect(ssid, pass string) error
	// Addr returns the assigned address, invalid when not connected.
	Addr() netip.Addr
}

// Phase is the connectivity phase tracked by a Manager.
type Phase uint8

const (
	Disconnected Phase = iota
	Connecting
	Connected
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// State is the connectivity state. Addr is only valid when Phase is Connected.
type State struct {
	Phase Phase
	Addr  netip.Addr
}

// ErrConnectionExhausted is returned by Connect when every attempt failed.
var ErrConnectionExhausted = errors.New("wifi: max connection retries exceeded")

// Manager associates a Radio and tracks its state.
type Manager struct {
	// PollWindow bounds how long one attempt waits for the link.
	PollWindow time.Duration
	// PollInterval is the wait between link checks within an attempt.
	PollInterval time.Duration
	// Backoff is the wait after a failed attempt.
	Backoff time.Duration

	radio  Radio
	logger *slog.Logger
	state  State
	sleep  func(time.Duration)
	now    func() time.Time
}

// NewManager returns a Manager with a 20s poll window, 500ms poll interval
// and 5s back-off. A nil logger discards output.
func NewManager(radio Radio, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return &Manager{
		PollWindow:   20 * time.Second,
		PollInterval: 500 * time.Millisecond,
		Backoff:      5 * time.Second,
		radio:        radio,
		logger:       logger,
		sleep:        time.Sleep,
		now:          time.Now,
	}
}

// SetClock replaces time.Sleep and time.Now.
func (m *Manager) SetClock(sleep func(time.Duration), now func() time.Time) {
	m.sleep = sleep
	m.now = now
}

// Connect makes up to maxAttempts association attempts and returns the
// assigned address. progress, if not nil, is called with the 1-based
// attempt number on every poll tick. An attempt is skipped without delay
// when the radio is already mid-association.
func (m *Manager) Connect(ssid, pass string, maxAttempts int, progress func(attempt int)) (netip.Addr, error) {
	if err := m.radio.SetActive(true); err != nil {
		return netip.Addr{}, errors.New("wifi activate:" + err.Error())
	}
	m.state = State{Phase: Connecting}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status := m.radio.Status()
		if status == LinkJoining {
			continue
		}

		if !m.radio.IsConnected() {
			m.logger.Info("wifi:connect-attempt",
				slog.Int("attempt", attempt),
				slog.Int("max", maxAttempts),
				slog.String("ssid", ssid),
			)
			if err := m.radio.Disconnect(); err != nil {
				m.logger.Warn("wifi:disconnect-failed", slog.String("err", err.Error()))
			}
			if err := m.radio.Connect(ssid, pass); err != nil {
				m.logger.Error("wifi:connect-failed", slog.String("err", err.Error()))
			}

			start := m.now()
			for !m.radio.IsConnected() && m.now().Sub(start) < m.PollWindow {
				if progress != nil {
					progress(attempt)
				}
				m.sleep(m.PollInterval)
			}
		}

		if m.radio.IsConnected() {
			addr := m.radio.Addr()
			m.state = State{Phase: Connected, Addr: addr}
			m.logger.Info("wifi:connected", slog.String("ip", addr.String()))
			return addr, nil
		}

		m.logger.Error("wifi:retry-failed",
			slog.Int("attempt", attempt),
			slog.String("status", status.String()),
		)
		m.sleep(m.Backoff)
	}

	m.state = State{Phase: Disconnected}
	return netip.Addr{}, ErrConnectionExhausted
}

// IsConnected reports whether the radio is associated. A lost link moves
// the state back to Disconnected.
func (m *Manager) IsConnected() bool {
	ok := m.radio.IsConnected()
	if !ok && m.state.Phase == Connected {
		m.logger.Warn("wifi:link-lost", slog.String("ip", m.state.Addr.String()))
		m.state = State{Phase: Disconnected}
	}
	return ok
}

// State returns the last observed connectivity state.
func (m *Manager) State() State { return m.state }
