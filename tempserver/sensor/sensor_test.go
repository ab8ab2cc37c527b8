package sensor

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeBus struct {
	convertErr error
	scanErr    error
	readings   map[Address]float32
	readErr    map[Address]error
	order      []Address
	panicOn    bool
	calls      []string
}

func (f *fakeBus) RequestTemperatures() error {
	f.calls = append(f.calls, "convert")
	if f.panicOn {
		panic("bus exploded")
	}
	return f.convertErr
}

func (f *fakeBus) Addresses() ([]Address, error) {
	f.calls = append(f.calls, "scan")
	return f.order, f.scanErr
}

func (f *fakeBus) ReadTemperature(a Address) (float32, error) {
	f.calls = append(f.calls, "read")
	if err := f.readErr[a]; err != nil {
		return 0, err
	}
	return f.readings[a], nil
}

var (
	probeA = Address{0x28, 1}
	probeB = Address{0x28, 2}
)

func newTestReader(bus Bus) (*Reader, *[]time.Duration) {
	var slept []time.Duration
	now := time.Unix(1000, 0)
	r := New(bus, WithClock(
		func(d time.Duration) { slept = append(slept, d); now = now.Add(d) },
		func() time.Time { return now },
	))
	return r, &slept
}

func TestSample_FirstNumericProbe(t *testing.T) {
	bus := &fakeBus{
		order:    []Address{probeA, probeB},
		readErr:  map[Address]error{probeA: errors.New("crc mismatch")},
		readings: map[Address]float32{probeB: 23.456},
	}
	r, slept := newTestReader(bus)

	s := r.Sample()
	if !s.Valid || s.Celsius != 23.456 {
		t.Fatalf("expected valid 23.456, got %+v", s)
	}
	if len(*slept) != 1 || (*slept)[0] != ConversionTime {
		t.Fatalf("expected one %v conversion wait, got %v", ConversionTime, *slept)
	}
	want := []string{"convert", "scan", "read", "read"}
	if len(bus.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, bus.calls)
	}
	for i := range want {
		if bus.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, bus.calls)
		}
	}
}

func TestSample_FaultsAreUnavailable(t *testing.T) {
	cases := map[string]*fakeBus{
		"convert error": {convertErr: errors.New("no presence pulse")},
		"scan error":    {scanErr: errors.New("search failed")},
		"no probes":     {},
		"all fail": {
			order:   []Address{probeA},
			readErr: map[Address]error{probeA: errors.New("crc mismatch")},
		},
		"not a number": {
			order:    []Address{probeA},
			readings: map[Address]float32{probeA: float32(math.NaN())},
		},
		"panic": {panicOn: true},
	}
	for name, bus := range cases {
		r, _ := newTestReader(bus)
		s := r.Sample()
		if s.Valid {
			t.Fatalf("%s: expected unavailable, got %+v", name, s)
		}
	}
}

func TestSample_LastKnownGood(t *testing.T) {
	bus := &fakeBus{
		order:    []Address{probeA},
		readings: map[Address]float32{probeA: 21.5},
	}
	r, _ := newTestReader(bus)

	if s := r.Sample(); !s.Valid {
		t.Fatalf("expected valid sample")
	}
	bus.convertErr = errors.New("bus glitch")
	if s := r.Sample(); s.Valid {
		t.Fatalf("expected unavailable sample")
	}
	last := r.Last()
	if !last.Valid || last.Celsius != 21.5 {
		t.Fatalf("expected last good 21.5, got %+v", last)
	}
}

func TestSample_NoConversionWait(t *testing.T) {
	bus := &fakeBus{order: []Address{probeA}, readings: map[Address]float32{probeA: 1}}
	var slept int
	r := New(bus, WithConversionTime(0), WithClock(func(time.Duration) { slept++ }, time.Now))
	r.Sample()
	if slept != 0 {
		t.Fatalf("expected no wait, slept %d times", slept)
	}
}
