package cyw43439

import (
	"errors"
	"log/slog"
	"net/netip"

	"github.com/harveysanders/picotempserver/tempserver/wifi"
)

// SetActive is a no-op: the radio is powered by NewStack.
func (s *Stack) SetActive(on bool) error { return nil }

// Status reports the association state. The driver moves its link down
// on deauth, disassoc and link-loss events.
func (s *Stack) Status() wifi.LinkStatus {
	return s.join.Status(s.dev.IsLinkUp())
}

// IsConnected reports whether the station is joined, the driver still
// has the link and the stack has an address.
func (s *Stack) IsConnected() bool {
	return s.join.Up(s.dev.IsLinkUp()) && s.s.Addr().IsValid()
}

// Disconnect forgets the association. The next Connect joins again.
func (s *Stack) Disconnect() error {
	s.join.Leave()
	return nil
}

// Connect joins the network and runs DHCP. It blocks until both finish,
// so wifi.Manager sees the link up on its first poll.
func (s *Stack) Connect(ssid, pass string) error {
	s.join.Begin()
	err := s.associate(ssid, pass)
	s.join.End(err)
	return err
}

func (s *Stack) associate(ssid, pass string) error {
	if len(pass) == 0 {
		s.log.Info("wifi:join-open", slog.String("ssid", ssid))
	} else {
		s.log.Info("wifi:join-wpa2", slog.String("ssid", ssid), slog.Int("passlen", len(pass)))
	}
	if err := s.dev.JoinWPA2(ssid, pass); err != nil {
		return errors.New("wifi join:" + err.Error())
	}
	_, err := s.dhcp()
	return err
}

// Addr returns the station address, invalid while not connected.
func (s *Stack) Addr() netip.Addr {
	if !s.IsConnected() {
		return netip.Addr{}
	}
	return s.s.Addr()
}

// LED drives the on-board LED, which hangs off the radio's GPIO 0.
type LED struct {
	s *Stack
}

// LED returns the on-board LED.
func (s *Stack) LED() LED { return LED{s: s} }

func (l LED) High() { l.set(true) }
func (l LED) Low()  { l.set(false) }

func (l LED) set(on bool) {
	if err := l.s.dev.GPIOSet(0, on); err != nil {
		l.s.log.Warn("led:set-failed", slog.String("err", err.Error()))
	}
}
