// Package control runs the temperature server: it keeps the network up,
// samples the probe, refreshes the display and answers HTTP clients, one
// at a time, forever.
//
// Faults are contained in rings. A serving fault rebuilds the listening
// socket, a network fault re-associates, and anything that escapes the
// outer ring (panics included) is reported and retried after a back-off.
package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"github.com/harveysanders/picotempserver/tempserver/httpd"
	"github.com/harveysanders/picotempserver/tempserver/lcd"
	"github.com/harveysanders/picotempserver/tempserver/mqtt"
	"github.com/harveysanders/picotempserver/tempserver/sensor"
)

// Network is the connectivity manager. *wifi.Manager implements it.
type Network interface {
	Connect(ssid, pass string, maxAttempts int, progress func(attempt int)) (netip.Addr, error)
	IsConnected() bool
}

// Sampler polls the probe and keeps the last valid sample. *sensor.Reader
// implements it.
type Sampler interface {
	Sample() sensor.Sample
	Last() sensor.Sample
}

// Display is the character display. *lcd.Panel implements it.
type Display interface {
	Show(msg lcd.Message) error
	ShowLine(row uint8, text []byte) error
	Columns() int
}

// LED is the activity indicator.
type LED interface {
	High()
	Low()
}

// Publisher forwards valid samples. *mqtt.Publisher implements it.
type Publisher interface {
	Publish(r mqtt.Reading) error
}

// Config holds the loop parameters.
type Config struct {
	SSID           string
	Password       string
	MaxAttempts    int           // Association attempts per Connect call.
	Port           uint16        // HTTP port.
	AcceptTimeout  time.Duration // Bounds each accept so the display keeps refreshing.
	SampleInterval time.Duration
	ErrorBackoff   time.Duration // Wait after any reported fault.
	RequestBufSize int           // Request bytes read and discarded per client.
}

// DefaultConfig returns the device defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		Port:           80,
		AcceptTimeout:  5 * time.Second,
		SampleInterval: 2 * time.Second,
		ErrorBackoff:   5 * time.Second,
		RequestBufSize: 1024,
	}
}

// Validate checks cfg for values the loop cannot run with.
func (cfg Config) Validate() error {
	switch {
	case cfg.SSID == "":
		return errors.New("control: empty SSID")
	case cfg.MaxAttempts < 1:
		return errors.New("control: MaxAttempts must be positive")
	case cfg.AcceptTimeout <= 0:
		return errors.New("control: AcceptTimeout must be positive")
	case cfg.SampleInterval <= 0:
		return errors.New("control: SampleInterval must be positive")
	case cfg.RequestBufSize < 1:
		return errors.New("control: RequestBufSize must be positive")
	}
	return nil
}

// Deps are the collaborators of a Loop. Network, Listen, Sensor and
// Display are required.
type Deps struct {
	Network   Network
	Listen    httpd.ListenFunc
	Sensor    Sampler
	Display   Display
	LED       LED // Optional.
	Responder httpd.Responder
	Publisher Publisher // Optional. Failures are logged only.
	Logger    *slog.Logger

	// Clock. Nil uses the time package.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// Loop is the supervisor. It is not safe for concurrent use.
type Loop struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	addr     netip.Addr
	listener httpd.Listener

	sampled    bool
	lastSample time.Time
	start      time.Time

	reqBuf  []byte
	respBuf []byte
	lineBuf []byte
}

// New validates cfg and deps and returns a Loop ready to Run.
func New(cfg Config, deps Deps) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Network == nil || deps.Listen == nil || deps.Sensor == nil || deps.Display == nil {
		return nil, errors.New("control: missing dependency")
	}
	if deps.Sleep == nil {
		deps.Sleep = time.Sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return &Loop{
		cfg:     cfg,
		deps:    deps,
		log:     logger,
		start:   deps.Now(),
		reqBuf:  make([]byte, cfg.RequestBufSize),
		respBuf: make([]byte, 0, 1024),
		lineBuf: make([]byte, 0, 40),
	}, nil
}

// Run blocks until ctx is cancelled, then closes the listener and
// returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	defer l.closeListener()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.supervise(ctx)
	}
}

// supervise runs the outer ring once and reports whatever escapes it.
func (l *Loop) supervise(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.fail("Main Error:", panicError(r))
		}
	}()
	err := l.outer(ctx)
	if err != nil && ctx.Err() == nil {
		l.fail("Main Error:", err)
	}
}

func (l *Loop) outer(ctx context.Context) error {
	if !l.deps.Network.IsConnected() || !l.addr.IsValid() {
		l.showLine(0, "Reconnecting...")
		l.closeListener()
		addr, err := l.deps.Network.Connect(l.cfg.SSID, l.cfg.Password, l.cfg.MaxAttempts, l.progress)
		if err != nil {
			return err
		}
		l.addr = addr
		l.log.Info("control:connected", slog.String("addr", addr.String()))
	}
	if l.listener == nil {
		ln, err := l.deps.Listen(l.cfg.Port, l.cfg.AcceptTimeout)
		if err != nil {
			return err
		}
		l.listener = ln
		l.log.Info("control:listening", slog.Uint64("port", uint64(l.cfg.Port)))
	}
	return l.serve(ctx)
}

// serve is the inner ring. It returns nil when the outer ring should
// re-check the network, and ctx.Err() on cancellation.
func (l *Loop) serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !l.deps.Network.IsConnected() {
			l.log.Warn("control:network-lost")
			l.closeListener()
			l.addr = netip.Addr{}
			return nil
		}
		l.sampleIfDue()
		l.refreshDisplay()

		err := l.serveClient()
		if err == nil || errors.Is(err, httpd.ErrAcceptTimeout) {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.fail("Error:", err)
		l.closeListener()
		return nil
	}
}

func (l *Loop) serveClient() error {
	conn, err := l.listener.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()
	if l.deps.LED != nil {
		l.deps.LED.High()
		defer l.deps.LED.Low()
	}

	if _, err := conn.Read(l.reqBuf); err != nil && err != io.EOF {
		return errors.New("read:" + err.Error())
	}
	last := l.deps.Sensor.Last()
	l.respBuf = l.deps.Responder.Append(l.respBuf[:0], last.Celsius, last.Valid, l.deps.Now().Unix())
	if _, err := conn.Write(l.respBuf); err != nil {
		return errors.New("write:" + err.Error())
	}
	l.log.Debug("control:served", slog.Int("bytes", len(l.respBuf)))
	return nil
}

func (l *Loop) sampleIfDue() {
	now := l.deps.Now()
	if l.sampled && now.Sub(l.lastSample) < l.cfg.SampleInterval {
		return
	}
	l.sampled = true
	l.lastSample = now

	s := l.deps.Sensor.Sample()
	if !s.Valid {
		l.log.Debug("control:sample-unavailable")
		return
	}
	if l.deps.Publisher == nil {
		return
	}
	err := l.deps.Publisher.Publish(mqtt.Reading{
		Temperature: s.Celsius,
		SinceBootNS: now.Sub(l.start),
		Timestamp:   s.At.Unix(),
	})
	if err != nil {
		l.log.Warn("control:publish-failed", slog.String("err", err.Error()))
	}
}

func (l *Loop) refreshDisplay() {
	last := l.deps.Sensor.Last()
	l.lineBuf = append(l.lineBuf[:0], "Temp:"...)
	if last.Valid {
		l.lineBuf = strconv.AppendFloat(l.lineBuf, float64(last.Celsius), 'f', 2, 32)
		l.lineBuf = append(l.lineBuf, 'C')
	} else {
		l.lineBuf = append(l.lineBuf, " N/A"...)
	}
	l.writeLine(0)
	l.lineBuf = l.addr.AppendTo(l.lineBuf[:0])
	l.writeLine(1)
}

func (l *Loop) progress(attempt int) {
	l.lineBuf = append(l.lineBuf[:0], "Connecting  "...)
	l.lineBuf = strconv.AppendInt(l.lineBuf, int64(attempt), 10)
	l.writeLine(0)
}

func (l *Loop) showLine(row uint8, text string) {
	l.lineBuf = append(l.lineBuf[:0], text...)
	l.writeLine(row)
}

// writeLine pads lineBuf to the display width so shorter text overwrites
// what was there.
func (l *Loop) writeLine(row uint8) {
	for len(l.lineBuf) < l.deps.Display.Columns() {
		l.lineBuf = append(l.lineBuf, ' ')
	}
	if err := l.deps.Display.ShowLine(row, l.lineBuf); err != nil {
		l.log.Error("control:lcd-failed", slog.String("err", err.Error()))
	}
}

// fail reports err on the display and log, then waits the back-off.
func (l *Loop) fail(label string, err error) {
	l.log.Error("control:fault", slog.String("label", label), slog.String("err", err.Error()))
	msg := err.Error()
	if w := l.deps.Display.Columns(); len(msg) > w {
		msg = msg[:w]
	}
	if derr := l.deps.Display.Show(lcd.Message{Line1: []byte(label), Line2: []byte(msg)}); derr != nil {
		l.log.Error("control:lcd-failed", slog.String("err", derr.Error()))
	}
	l.deps.Sleep(l.cfg.ErrorBackoff)
}

func (l *Loop) closeListener() {
	if l.listener == nil {
		return
	}
	if err := l.listener.Close(); err != nil {
		l.log.Warn("control:listener-close", slog.String("err", err.Error()))
	}
	l.listener = nil
}

func panicError(r any) error {
	switch v := r.(type) {
	case error:
		return errors.New("panic:" + v.Error())
	case string:
		return errors.New("panic:" + v)
	}
	return errors.New("panic")
}
