package lcd

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Instruction set of the HD44780 controller.
const (
	cmdClearDisplay   byte = 0x01
	cmdReturnHome     byte = 0x02
	cmdEntryModeSet   byte = 0x04
	cmdDisplayControl byte = 0x08
	cmdSetCGRAMAddr   byte = 0x40
	cmdSetDDRAMAddr   byte = 0x80
)

// PCF8574 backpack wiring: P0=RS, P1=RW, P2=E, P3=backlight, P4..P7=D4..D7.
const (
	bitRS        byte = 0x01
	bitRW        byte = 0x02
	bitEnable    byte = 0x04
	bitBacklight byte = 0x08
)

// Timing required by the controller. None of it can be read back over I2C,
// so the driver always waits the full amount.
const (
	enableHold   = 1 * time.Microsecond
	nibbleSettle = 50 * time.Microsecond
	bringUpDelay = 5 * time.Millisecond
	homeDelay    = 2 * time.Millisecond
)

// bringUp forces the controller from an unknown power-on state into 4-bit
// mode: 2 lines, 5x8 font, display on, left entry, cleared.
var bringUp = [...]byte{0x33, 0x32, 0x28, 0x0C, 0x06, 0x01}

// recoveryCommands is the number of bring-up bytes sent while the
// controller still interprets every nibble as a full 8-bit instruction.
const recoveryCommands = 2

var rowOffsets = [4]byte{0x00, 0x40, 0x14, 0x54}

// DisplayControl holds the display on/off control flags.
type DisplayControl uint8

const (
	BlinkOn   DisplayControl = 0x01
	CursorOn  DisplayControl = 0x02
	DisplayOn DisplayControl = 0x04
)

// EntryMode holds the entry mode flags.
type EntryMode uint8

const (
	EntryShiftIncrement EntryMode = 0x01
	EntryLeft           EntryMode = 0x02
)

// DisplayState is the driver's copy of the controller state. The
// controller has no read-back, so this is the only record of it.
type DisplayState struct {
	Backlight bool
	Control   DisplayControl
	Entry     EntryMode
	Col, Row  uint8
}

// Config sets the geometry of the display.
type Config struct {
	Width  uint8 // Columns. Defaults to 16.
	Height uint8 // Rows, 1 to 4. Defaults to 2.
}

// DeviceError is returned when an I2C write to the display fails.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string { return "lcd:" + e.Op + ": " + e.Err.Error() }

func (e *DeviceError) Unwrap() error { return e.Err }

// Device drives an HD44780 character LCD through a PCF8574 I2C backpack
// using the controller's 4-bit interface.
type Device struct {
	bus    drivers.I2C
	addr   uint8
	width  uint8
	height uint8
	state  DisplayState
	buf    [1]byte
	sleep  func(time.Duration)
}

// New returns a Device on the given bus and 7-bit address. Configure must
// be called before use.
func New(bus drivers.I2C, addr uint8) *Device {
	return &Device{
		bus:    bus,
		addr:   addr,
		width:  16,
		height: 2,
		state:  DisplayState{Backlight: true},
		sleep:  time.Sleep,
	}
}

// Configure runs the bring-up sequence and leaves the display on, cursor
// and blink off, entry left to right, cleared and homed. It may be called
// again at any time to recover a display in an unknown state.
func (d *Device) Configure(cfg Config) error {
	if cfg.Height > uint8(len(rowOffsets)) {
		return errors.New("lcd: height must be between 1 and 4")
	}
	if cfg.Width != 0 {
		d.width = cfg.Width
	}
	if cfg.Height != 0 {
		d.height = cfg.Height
	}

	for i, cmd := range bringUp {
		var err error
		if i < recoveryCommands {
			err = d.recoveryCommand(cmd)
		} else {
			err = d.command(cmd)
		}
		if err != nil {
			return &DeviceError{Op: "configure", Err: err}
		}
		d.sleep(bringUpDelay)
	}

	if err := d.writeControl("configure", DisplayOn); err != nil {
		return err
	}
	if err := d.command(cmdEntryModeSet | byte(EntryLeft)); err != nil {
		return &DeviceError{Op: "configure", Err: err}
	}
	d.state.Entry = EntryLeft
	return d.ClearDisplay()
}

// Size returns the configured columns and rows.
func (d *Device) Size() (width, height uint8) { return d.width, d.height }

// State returns a copy of the display state last written to the device.
func (d *Device) State() DisplayState { return d.state }

// ClearDisplay blanks the display and moves the cursor home.
func (d *Device) ClearDisplay() error {
	if err := d.command(cmdClearDisplay); err != nil {
		return &DeviceError{Op: "clear", Err: err}
	}
	d.sleep(homeDelay)
	d.state.Col, d.state.Row = 0, 0
	return nil
}

// Home moves the cursor to the first column of the first row.
func (d *Device) Home() error {
	if err := d.command(cmdReturnHome); err != nil {
		return &DeviceError{Op: "home", Err: err}
	}
	d.sleep(homeDelay)
	d.state.Col, d.state.Row = 0, 0
	return nil
}

// SetCursor moves the cursor. Rows and columns past the edge of the
// display are clamped to the last row and column.
func (d *Device) SetCursor(col, row uint8) error {
	if row >= d.height {
		row = d.height - 1
	}
	if col >= d.width {
		col = d.width - 1
	}
	if err := d.command(cmdSetDDRAMAddr | (col + rowOffsets[row])); err != nil {
		return &DeviceError{Op: "set cursor", Err: err}
	}
	d.state.Col, d.state.Row = col, row
	return nil
}

// SetDisplay turns the display on or off without touching DDRAM.
func (d *Device) SetDisplay(on bool) error {
	return d.writeControl("set display", setFlag(d.state.Control, DisplayOn, on))
}

// SetCursorVisible shows or hides the underline cursor.
func (d *Device) SetCursorVisible(on bool) error {
	return d.writeControl("set cursor visible", setFlag(d.state.Control, CursorOn, on))
}

// SetBlink turns the blinking block cursor on or off.
func (d *Device) SetBlink(on bool) error {
	return d.writeControl("set blink", setFlag(d.state.Control, BlinkOn, on))
}

// SetBacklight switches the backlight. The backlight is a backpack pin,
// not a controller instruction, so this is a single write with no enable
// pulse. Later writes carry the new backlight bit.
func (d *Device) SetBacklight(on bool) error {
	var b byte
	if on {
		b = bitBacklight
	}
	if err := d.write(b); err != nil {
		return &DeviceError{Op: "set backlight", Err: err}
	}
	d.state.Backlight = on
	return nil
}

// Print writes text at the cursor. Bytes map directly to the controller's
// character ROM; codes 0-7 are the custom glyphs.
func (d *Device) Print(text []byte) error {
	for _, c := range text {
		if err := d.send(c, bitRS); err != nil {
			return &DeviceError{Op: "print", Err: err}
		}
		d.state.Col++
	}
	return nil
}

// DefineGlyph stores a 5x8 custom character in CGRAM slot 0-7. Each byte of
// bitmap is one row, low 5 bits used. The cursor must be set again before
// printing, the address counter is left pointing into CGRAM.
func (d *Device) DefineGlyph(slot uint8, bitmap [8]byte) error {
	slot &= 0x7
	if err := d.command(cmdSetCGRAMAddr | slot<<3); err != nil {
		return &DeviceError{Op: "define glyph", Err: err}
	}
	for _, row := range bitmap {
		if err := d.send(row, bitRS); err != nil {
			return &DeviceError{Op: "define glyph", Err: err}
		}
	}
	return nil
}

// writeControl sends c and records it only once the controller has it.
func (d *Device) writeControl(op string, c DisplayControl) error {
	if err := d.command(cmdDisplayControl | byte(c)); err != nil {
		return &DeviceError{Op: op, Err: err}
	}
	d.state.Control = c
	return nil
}

func (d *Device) command(cmd byte) error { return d.send(cmd, 0) }

// recoveryCommand sends both nibbles of cmd as standalone 8-bit mode
// instructions, each given the full bring-up settle time.
func (d *Device) recoveryCommand(cmd byte) error {
	if err := d.pulse(cmd & 0xF0); err != nil {
		return err
	}
	d.sleep(bringUpDelay)
	return d.pulse(cmd << 4)
}

// send transmits one byte as two nibbles, high nibble first.
func (d *Device) send(data, mode byte) error {
	if err := d.pulse(mode | data&0xF0); err != nil {
		return err
	}
	return d.pulse(mode | data<<4)
}

// pulse latches the nibble in the high bits of b.
func (d *Device) pulse(b byte) error {
	b = b&^(bitEnable|bitRW|bitBacklight) | d.backlight()
	if err := d.write(b | bitEnable); err != nil {
		return err
	}
	d.sleep(enableHold)
	if err := d.write(b); err != nil {
		return err
	}
	d.sleep(nibbleSettle)
	return nil
}

func (d *Device) write(b byte) error {
	d.buf[0] = b
	return d.bus.Tx(uint16(d.addr), d.buf[:], nil)
}

func (d *Device) backlight() byte {
	if d.state.Backlight {
		return bitBacklight
	}
	return 0
}

func setFlag(c DisplayControl, f DisplayControl, on bool) DisplayControl {
	if on {
		return c | f
	}
	return c &^ f
}
