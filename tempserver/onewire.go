package main

import (
	"errors"
	"machine"

	"github.com/harveysanders/picotempserver/tempserver/sensor"
	"tinygo.org/x/drivers/ds18b20"
	"tinygo.org/x/drivers/onewire"
)

// oneWireBus adapts the tinygo one-wire and DS18B20 drivers to sensor.Bus.
type oneWireBus struct {
	ow    onewire.Device
	probe ds18b20.Device
}

func newOneWireBus(pin machine.Pin) *oneWireBus {
	ow := onewire.New(pin)
	ow.Configure(onewire.Config{})
	return &oneWireBus{ow: ow, probe: ds18b20.New(ow)}
}

// RequestTemperatures starts a conversion on all probes (skip ROM). The
// reset pulse doubles as a presence check.
func (b *oneWireBus) RequestTemperatures() error {
	if err := b.ow.Reset(); err != nil {
		return err
	}
	b.probe.RequestTemperature(nil)
	return nil
}

func (b *oneWireBus) Addresses() ([]sensor.Address, error) {
	roms, err := b.ow.Search(onewire.SEARCH_ROM)
	if err != nil {
		return nil, errors.New("onewire search:" + err.Error())
	}
	addrs := make([]sensor.Address, 0, len(roms))
	for _, rom := range roms {
		var a sensor.Address
		copy(a[:], rom)
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func (b *oneWireBus) ReadTemperature(addr sensor.Address) (float32, error) {
	milli, err := b.probe.ReadTemperature(addr[:])
	if err != nil {
		return 0, err
	}
	return float32(milli) / 1000, nil
}
