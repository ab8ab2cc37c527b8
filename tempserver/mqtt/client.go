// Package mqtt publishes temperature readings to an MQTT broker. Sessions
// are opened lazily and dropped on the first failure; Publish dials again
// once RetryAfter has passed.
package mqtt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
)

var pubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)

// DefaultRetryAfter is the redial back-off used when RetryAfter is zero.
const DefaultRetryAfter = 30 * time.Second

// ErrRetryLater is returned by Publish without touching the network while
// the redial back-off runs.
var ErrRetryLater = errors.New("mqtt: waiting to redial")

// Reading is the published payload.
type Reading struct {
	Temperature float32       `json:"temperature"` // Celsius
	SinceBootNS time.Duration `json:"sinceBootNS"` // Nanoseconds since boot.
	Timestamp   int64         `json:"timestamp"`   // Same clock as the HTTP page.
}

// Dialer opens a transport to the broker.
type Dialer func() (io.ReadWriteCloser, error)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Publisher is a QoS0 publisher on a single topic.
type Publisher struct {
	ID       string
	Topic    string
	Username string // MQTT broker username (optional)
	Password string // MQTT broker password (optional, requires Username)
	Timeout  time.Duration
	// RetryAfter is the wait after a failed session before dialing again.
	RetryAfter time.Duration
	Dial       Dialer
	Logger     *slog.Logger

	now      func() time.Time
	nextDial time.Time
	client   *mqtt.Client
	conn     io.ReadWriteCloser
	packetID uint16
	payload  []byte
}

// Publish sends r, connecting first if there is no session.
func (p *Publisher) Publish(r Reading) error {
	if p.client == nil || !p.client.IsConnected() {
		if p.clock().Before(p.nextDial) {
			return ErrRetryLater
		}
		if err := p.connect(); err != nil {
			p.fail()
			return err
		}
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return errors.New("mqtt marshal:" + err.Error())
	}
	p.payload = payload

	p.setDeadline()
	p.packetID++
	vars := mqtt.VariablesPublish{
		TopicName:        []byte(p.Topic),
		PacketIdentifier: p.packetID,
	}
	if err := p.client.PublishPayload(pubFlags, vars, p.payload); err != nil {
		p.logger().Error("mqtt:publish-failed", slog.Any("reason", err))
		p.fail()
		return errors.New("mqtt publish:" + err.Error())
	}
	p.logger().Debug("mqtt:published", slog.Uint64("packetID", uint64(p.packetID)))
	return nil
}

// Close drops the session.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = nil
	p.client = nil
}

// fail drops the session and starts the redial back-off.
func (p *Publisher) fail() {
	p.Close()
	wait := p.RetryAfter
	if wait <= 0 {
		wait = DefaultRetryAfter
	}
	p.nextDial = p.clock().Add(wait)
}

func (p *Publisher) clock() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

func (p *Publisher) connect() error {
	if p.Dial == nil {
		return errors.New("mqtt: no dialer")
	}
	conn, err := p.Dial()
	if err != nil {
		return errors.New("mqtt dial:" + err.Error())
	}
	p.conn = conn

	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(p.ID))
	if p.Username != "" {
		varconn.Username = []byte(p.Username)
		if p.Password != "" {
			varconn.Password = []byte(p.Password)
		}
	}

	p.client = mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1024)},
		OnPub: func(pubHead mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			return nil
		},
	})

	p.logger().Info("mqtt:start-connecting", slog.String("id", p.ID))
	p.setDeadline()
	if err := p.client.StartConnect(conn, &varconn); err != nil {
		return errors.New("mqtt connect:" + err.Error())
	}
	retries := 50
	for retries > 0 && !p.client.IsConnected() {
		time.Sleep(100 * time.Millisecond)
		if err := p.client.HandleNext(); err != nil {
			p.logger().Error("mqtt:handle-next-failed", slog.String("err", err.Error()))
		}
		retries--
	}
	if !p.client.IsConnected() {
		return errors.New("mqtt connect: timed out")
	}
	p.logger().Info("mqtt:connected")
	return nil
}

func (p *Publisher) setDeadline() {
	if d, ok := p.conn.(deadliner); ok && p.Timeout > 0 {
		d.SetDeadline(time.Now().Add(p.Timeout))
	}
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
