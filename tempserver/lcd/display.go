// Package lcd drives HD44780 character LCDs behind a PCF8574 I2C backpack
// and provides a two-line status panel on top of the driver.
//
// Example usage:
//
//	dev := lcd.New(machine.I2C0, 0x27)
//	if err := dev.Configure(lcd.Config{Width: 16, Height: 2}); err != nil {
//	    // handle error
//	}
//	panel := lcd.NewPanel(dev)
//	panel.Show(lcd.Message{
//	    Line1: []byte("Temp:23.46C"),
//	    Line2: []byte("192.168.1.20"),
//	})
package lcd

import (
	"errors"

	"tinygo.org/x/drivers"
)

// Message represents a two-line LCD message.
type Message struct {
	Line1 []byte
	Line2 []byte
}

// Panel writes status lines to a Device, truncating each line to the
// display width.
type Panel struct {
	device  *Device
	columns int
}

// NewPanel creates a Panel for a configured device.
func NewPanel(device *Device) *Panel {
	w, _ := device.Size()
	return &Panel{device: device, columns: int(w)}
}

// Columns returns the display width in characters.
func (p *Panel) Columns() int { return p.columns }

// Show clears the display and prints msg on the first two rows.
func (p *Panel) Show(msg Message) error {
	if err := p.device.ClearDisplay(); err != nil {
		return err
	}
	if err := p.ShowLine(0, msg.Line1); err != nil {
		return err
	}
	return p.ShowLine(1, msg.Line2)
}

// ShowLine prints text at the start of row without clearing the display.
func (p *Panel) ShowLine(row uint8, text []byte) error {
	if err := p.device.SetCursor(0, row); err != nil {
		return err
	}
	// Truncate in-place, no allocation
	if len(text) > p.columns {
		text = text[:p.columns]
	}
	return p.device.Print(text)
}

// ErrNotFound is returned by Detect when no address on the bus answers.
var ErrNotFound = errors.New("lcd: no device found")

// Valid 7-bit addresses outside the reserved ranges.
const (
	scanFirst = 0x08
	scanLast  = 0x77
)

// Detect returns the first address in candidates that acknowledges a
// one byte read. Backpacks usually sit at 0x27 (PCF8574) or 0x3F (PCF8574A).
// When no candidate answers the rest of the bus is scanned and the first
// device found is used.
func Detect(bus drivers.I2C, candidates ...uint8) (uint8, error) {
	var probe [1]byte
	for _, a := range candidates {
		if err := bus.Tx(uint16(a), nil, probe[:]); err == nil {
			return a, nil
		}
	}
scan:
	for a := uint8(scanFirst); a <= scanLast; a++ {
		for _, c := range candidates {
			if a == c {
				continue scan
			}
		}
		if err := bus.Tx(uint16(a), nil, probe[:]); err == nil {
			return a, nil
		}
	}
	return 0, ErrNotFound
}
