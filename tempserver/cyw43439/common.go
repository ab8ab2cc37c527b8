// Package cyw43439 runs the Pico W radio and the lneto TCP/IP stack on top
// of it. A Stack is the WiFi station for wifi.Manager, the listening socket
// for the HTTP server, the TCP dialer for MQTT and the on-board LED.
//
// Bring-up follows the soypat/cyw43439 examples/common package.
package cyw43439

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/harveysanders/picotempserver/tempserver/wifi"
	"github.com/soypat/cyw43439"
	"github.com/soypat/lneto/x/xnet"
)

const (
	mtu      = cyw43439.MTU
	pollTime = 50 * time.Millisecond
)

// Set via -ldflags "-X .../cyw43439.ssid=... -X .../cyw43439.pass=...".
var (
	ssid string
	pass string
)

// SSID returns the WiFi SSID set via linker flags.
func SSID() string { return ssid }

// Password returns the WiFi password set via linker flags.
func Password() string { return pass }

// Config configures NewStack.
type Config struct {
	WiFi     cyw43439.Config
	Hostname string // Sent in DHCP requests. Required.
	// MaxTCPConns bounds concurrent sockets: the HTTP listener plus the
	// MQTT client need 2.
	MaxTCPConns int
	Logger      *slog.Logger
	RandSeed    int64
	// StaticAddr is requested from DHCP and used as-is when DHCP
	// does not answer. Zero means DHCP only.
	StaticAddr netip.Addr
}

// Stack owns the CYW43439 and the lneto stack bound to it.
type Stack struct {
	s       xnet.StackAsync
	dev     *cyw43439.Device
	log     *slog.Logger
	sendbuf []byte
	static  netip.Addr
	join    wifi.JoinState
}

// NewStack powers up the radio and resets the stack with its MAC. It does
// not join a network; wifi.Manager drives that through the Radio methods.
func NewStack(cfg Config) (*Stack, error) {
	if cfg.Hostname == "" {
		return nil, errors.New("empty hostname")
	}
	if cfg.StaticAddr.IsValid() && !cfg.StaticAddr.Is4() {
		return nil, errors.New("only dhcpv4 supported")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}

	start := time.Now()
	dev := cyw43439.NewPicoWDevice()
	dev.SetLogger(logger)
	if err := dev.Init(cfg.WiFi); err != nil {
		return nil, errors.New("wifi init failed:" + err.Error())
	}
	mac, err := dev.HardwareAddr6()
	if err != nil {
		return nil, errors.New("get hardware address:" + err.Error())
	}
	logger.Info("cyw43439:init",
		slog.Duration("duration", time.Since(start)),
		slog.String("mac", net.HardwareAddr(mac[:]).String()),
	)

	st := &Stack{
		dev:     dev,
		log:     logger,
		sendbuf: make([]byte, mtu),
		static:  cfg.StaticAddr,
	}
	err = st.s.Reset(xnet.StackConfig{
		Hostname:        cfg.Hostname,
		MaxTCPConns:     max(cfg.MaxTCPConns, 1),
		RandSeed:        time.Since(start).Nanoseconds() ^ cfg.RandSeed,
		HardwareAddress: mac,
		MTU:             mtu,
	})
	if err != nil {
		return nil, errors.New("stack reset:" + err.Error())
	}
	dev.RecvEthHandle(func(pkt []byte) error {
		return st.s.Demux(pkt, 0)
	})
	return st, nil
}

// dhcp acquires an address and the gateway. It falls back to the static
// address, when one is configured, if the server does not answer.
func (s *Stack) dhcp() (netip.Addr, error) {
	requested := s.static
	if !requested.IsValid() {
		requested = netip.IPv4Unspecified()
	}
	rstack := s.s.StackRetrying(pollTime)

	s.log.Info("dhcp:start", slog.String("requested", requested.String()))
	res, err := rstack.DoDHCPv4(requested.As4(), 3*time.Second, 3)
	if err != nil {
		if !s.static.IsValid() {
			return netip.Addr{}, errors.New("dhcp failed:" + err.Error())
		}
		s.log.Warn("dhcp:static-fallback", slog.String("ip", s.static.String()))
		s.s.SetIPAddr(s.static)
		return s.static, nil
	}
	if err := s.s.AssimilateDHCPResults(res); err != nil {
		return netip.Addr{}, errors.New("assimilate dhcp:" + err.Error())
	}
	gw, err := rstack.DoResolveHardwareAddress6(res.Router, 500*time.Millisecond, 4)
	if err != nil {
		return netip.Addr{}, errors.New("resolve gateway:" + err.Error())
	}
	s.s.SetGateway6(gw)

	s.log.Info("dhcp:complete",
		slog.String("ip", res.AssignedAddr.String()),
		slog.String("router", res.Router.String()),
		slog.Uint64("lease_sec", uint64(res.TLease)),
	)
	return res.AssignedAddr, nil
}

// Pump moves packets between the radio and the stack forever, sleeping
// for idle whenever a round moved nothing. Run it in its own goroutine
// before the first Connect: DHCP and every socket depend on it.
func (s *Stack) Pump(idle time.Duration) {
	for {
		if !s.pollOnce() {
			time.Sleep(idle)
		}
	}
}

// pollOnce handles at most one inbound and one outbound frame and reports
// whether anything moved.
func (s *Stack) pollOnce() bool {
	got, err := s.dev.PollOne()
	if err != nil {
		s.log.Error("stack:poll-failed", slog.String("err", err.Error()))
	}
	n, err := s.s.Encapsulate(s.sendbuf, -1, 0)
	if err != nil {
		s.log.Error("stack:encapsulate-failed", slog.Int("plen", n), slog.String("err", err.Error()))
		return got
	}
	if n == 0 {
		return got
	}
	if err := s.dev.SendEth(s.sendbuf[:n]); err != nil {
		s.log.Error("stack:send-failed", slog.Int("plen", n), slog.String("err", err.Error()))
	}
	return true
}
