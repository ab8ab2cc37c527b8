// Package sensor reads a DS18B20-class one-wire temperature probe.
// Faults never reach the caller: a failed read yields an unavailable
// Sample and the last valid one stays cached.
package sensor

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"time"
)

// ConversionTime is how long a DS18B20 needs for a 12-bit conversion.
// The target bus cannot poll for completion, so the reader always waits.
const ConversionTime = 750 * time.Millisecond

// Address is a one-wire ROM code.
type Address [8]byte

// Bus is the one-wire bus the probes hang off.
type Bus interface {
	// RequestTemperatures starts a conversion on every probe on the bus.
	RequestTemperatures() error
	// Addresses enumerates the probes on the bus.
	Addresses() ([]Address, error)
	// ReadTemperature reads the last conversion of one probe in Celsius.
	ReadTemperature(addr Address) (float32, error)
}

// Sample is the result of one poll.
type Sample struct {
	Celsius float32
	Valid   bool      // False when no probe produced a reading.
	At      time.Time // When the sample was taken.
}

// Reader polls a Bus and caches the last valid sample.
type Reader struct {
	bus        Bus
	logger     *slog.Logger
	conversion time.Duration
	sleep      func(time.Duration)
	now        func() time.Time
	last       Sample // Last valid sample. Zero until the first good read.
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger logs bus faults to l.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// WithConversionTime overrides ConversionTime. Busses where conversion is
// done elsewhere (the Linux w1 driver) use 0.
func WithConversionTime(d time.Duration) Option {
	return func(r *Reader) { r.conversion = d }
}

// WithClock replaces time.Sleep and time.Now.
func WithClock(sleep func(time.Duration), now func() time.Time) Option {
	return func(r *Reader) {
		r.sleep = sleep
		r.now = now
	}
}

func New(bus Bus, opts ...Option) *Reader {
	r := &Reader{
		bus:        bus,
		conversion: ConversionTime,
		sleep:      time.Sleep,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return r
}

var errNoReading = errors.New("no probe returned a reading")

// Sample triggers a conversion, waits for it and returns the first probe
// that reads a finite temperature. It never fails; faults come back as a
// Sample with Valid false.
func (r *Reader) Sample() (s Sample) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("sensor:panic", slog.Any("reason", p))
			s = Sample{At: r.now()}
		}
	}()

	c, err := r.read()
	if err != nil {
		r.logger.Warn("sensor:read-failed", slog.String("err", err.Error()))
		return Sample{At: r.now()}
	}
	s = Sample{Celsius: c, Valid: true, At: r.now()}
	r.last = s
	return s
}

// Last returns the last valid sample, Valid false if there never was one.
func (r *Reader) Last() Sample { return r.last }

func (r *Reader) read() (float32, error) {
	if err := r.bus.RequestTemperatures(); err != nil {
		return 0, errors.New("convert:" + err.Error())
	}
	if r.conversion > 0 {
		r.sleep(r.conversion)
	}
	addrs, err := r.bus.Addresses()
	if err != nil {
		return 0, errors.New("scan:" + err.Error())
	}
	for _, a := range addrs {
		c, err := r.bus.ReadTemperature(a)
		if err != nil {
			r.logger.Debug("sensor:probe-failed", slog.String("err", err.Error()))
			continue
		}
		if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
			continue
		}
		return c, nil
	}
	return 0, errNoReading
}
