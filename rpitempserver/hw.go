package main

import (
	"encoding/hex"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/harveysanders/picotempserver/tempserver/sensor"
	"github.com/harveysanders/picotempserver/tempserver/wifi"
	"github.com/yryz/ds18b20"
)

// sysfsBus reads DS18B20 probes through the kernel w1-therm driver.
type sysfsBus struct{}

func (sysfsBus) RequestTemperatures() error { return nil }

func (sysfsBus) Addresses() ([]sensor.Address, error) {
	ids, err := ds18b20.Sensors()
	if err != nil {
		return nil, errors.New("w1 sensors:" + err.Error())
	}
	addrs := make([]sensor.Address, 0, len(ids))
	for _, id := range ids {
		a, err := parseW1ID(id)
		if err != nil {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func (sysfsBus) ReadTemperature(addr sensor.Address) (float32, error) {
	c, err := ds18b20.Temperature(w1ID(addr))
	if err != nil {
		return 0, err
	}
	return float32(c), nil
}

// parseW1ID turns a sysfs id ("28-0316a2799cff") into a ROM code with
// the CRC byte left zero.
func parseW1ID(id string) (sensor.Address, error) {
	var a sensor.Address
	family, serial, ok := strings.Cut(id, "-")
	if !ok || len(family) != 2 || len(serial) != 12 {
		return a, errors.New("malformed w1 id " + id)
	}
	if _, err := hex.Decode(a[:1], []byte(family)); err != nil {
		return a, err
	}
	if _, err := hex.Decode(a[1:7], []byte(serial)); err != nil {
		return a, err
	}
	return a, nil
}

func w1ID(a sensor.Address) string {
	return hex.EncodeToString(a[:1]) + "-" + hex.EncodeToString(a[1:7])
}

// osRadio reports the state of an interface whose association is managed
// by the OS. Connect only waits for it.
type osRadio struct {
	iface string
	// lookup is net.InterfaceByName unless replaced in tests.
	lookup func(name string) (*net.Interface, error)
}

func (r *osRadio) SetActive(on bool) error { return nil }

func (r *osRadio) Status() wifi.LinkStatus {
	if r.IsConnected() {
		return wifi.LinkUp
	}
	return wifi.LinkDown
}

func (r *osRadio) IsConnected() bool { return r.Addr().IsValid() }

func (r *osRadio) Disconnect() error { return nil }

func (r *osRadio) Connect(ssid, pass string) error { return nil }

// Addr returns the first IPv4 address of an up interface.
func (r *osRadio) Addr() netip.Addr {
	lookup := r.lookup
	if lookup == nil {
		lookup = net.InterfaceByName
	}
	ifc, err := lookup(r.iface)
	if err != nil || ifc.Flags&net.FlagUp == 0 {
		return netip.Addr{}
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return netip.Addr{}
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipn.IP.To4()); ok && ip.Is4() {
			return ip
		}
	}
	return netip.Addr{}
}

func tcpDialer(addr string) func() (io.ReadWriteCloser, error) {
	return func() (io.ReadWriteCloser, error) {
		return net.DialTimeout("tcp", addr, 10*time.Second)
	}
}
