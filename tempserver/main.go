package main

import (
	"context"
	"log/slog"
	"machine"
	"time"

	"github.com/harveysanders/picotempserver/tempserver/control"
	"github.com/harveysanders/picotempserver/tempserver/cyw43439"
	"github.com/harveysanders/picotempserver/tempserver/httpd"
	"github.com/harveysanders/picotempserver/tempserver/lcd"
	"github.com/harveysanders/picotempserver/tempserver/mqtt"
	"github.com/harveysanders/picotempserver/tempserver/sensor"
	"github.com/harveysanders/picotempserver/tempserver/wifi"
	cywifi "github.com/soypat/cyw43439"
)

// Optional MQTT broker ("host:port"), set via linker flags. Empty disables
// telemetry.
var mqttBroker string

const (
	hostname  = "picotemp"
	mqttTopic = "picotemp/temperature"
)

func main() {
	start := time.Now()
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Setup LCD display over I2C
	err := machine.I2C0.Configure(machine.I2CConfig{
		SDA:       machine.GP0,
		SCL:       machine.GP1,
		Frequency: 40 * machine.KHz,
	})
	if err != nil {
		printErrForever(logger, "configure I2C", slog.Any("reason", err))
	}
	panel, err := configureLCD(machine.I2C0)
	if err != nil {
		printErrForever(logger, "configure LCD", slog.Any("reason", err))
	}
	panel.Show(lcd.Message{Line1: []byte("Starting...")})

	probe := sensor.New(newOneWireBus(machine.GP26), sensor.WithLogger(logger))

	stack, err := cyw43439.NewStack(cyw43439.Config{
		WiFi:        cywifi.DefaultWifiConfig(),
		Hostname:    hostname,
		MaxTCPConns: 2,
		Logger:      logger,
		RandSeed:    start.UnixNano(),
	})
	if err != nil {
		printErrForever(logger, "init wifi", slog.Any("reason", err))
	}

	go stack.Pump(5 * time.Millisecond)

	cfg := control.DefaultConfig()
	cfg.SSID = cyw43439.SSID()
	cfg.Password = cyw43439.Password()

	deps := control.Deps{
		Network:   wifi.NewManager(stack, logger),
		Listen:    stack.Listen,
		Sensor:    probe,
		Display:   panel,
		LED:       stack.LED(),
		Responder: httpd.DeviceResponder(),
		Logger:    logger,
	}
	if mqttBroker != "" {
		deps.Publisher = &mqtt.Publisher{
			ID:      hostname,
			Topic:   mqttTopic,
			Timeout: 5 * time.Second,
			Dial:    stack.Dialer(mqttBroker),
			Logger:  logger,
		}
	}

	loop, err := control.New(cfg, deps)
	if err != nil {
		printErrForever(logger, "configure server", slog.Any("reason", err))
	}
	loop.Run(context.Background())
}

// configureLCD finds the display on the common backpack addresses and
// brings it up as a 16x2 panel.
func configureLCD(i2c *machine.I2C) (*lcd.Panel, error) {
	addr, err := lcd.Detect(i2c, 0x27, 0x3F)
	if err != nil {
		return nil, err
	}
	dev := lcd.New(i2c, addr)
	if err := dev.Configure(lcd.Config{Width: 16, Height: 2}); err != nil {
		return nil, err
	}
	return lcd.NewPanel(dev), nil
}

// printErrForever prints a string to serial @ 1hz. It
// blocks forever.
func printErrForever(logger *slog.Logger, msg string, args ...any) {
	for {
		logger.Error(msg, args...)
		time.Sleep(time.Second)
	}
}
