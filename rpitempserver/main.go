// Command rpitempserver runs the temperature server on a Linux board
// (Raspberry Pi). WiFi is owned by the OS; the LCD hangs off an I2C bus and
// the DS18B20 is read through the kernel w1 driver.
//
// Configuration is read from the environment, or a .env file next to the
// binary.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/harveysanders/picotempserver/tempserver/control"
	"github.com/harveysanders/picotempserver/tempserver/httpd"
	"github.com/harveysanders/picotempserver/tempserver/lcd"
	"github.com/harveysanders/picotempserver/tempserver/mqtt"
	"github.com/harveysanders/picotempserver/tempserver/sensor"
	"github.com/harveysanders/picotempserver/tempserver/wifi"
	_ "github.com/joho/godotenv/autoload"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if _, err := host.Init(); err != nil {
		fatal(logger, "init host", err)
	}

	bus, err := i2creg.Open(getenv("TEMPSERVER_I2C_BUS", ""))
	if err != nil {
		fatal(logger, "open I2C", err)
	}
	defer bus.Close()

	// periph buses share the Tx shape of drivers.I2C.
	addr, err := lcd.Detect(bus, 0x27, 0x3F)
	if err != nil {
		fatal(logger, "detect LCD", err)
	}
	dev := lcd.New(bus, addr)
	if err := dev.Configure(lcd.Config{Width: 16, Height: 2}); err != nil {
		fatal(logger, "configure LCD", err)
	}
	panel := lcd.NewPanel(dev)

	cfg := control.DefaultConfig()
	cfg.SSID = getenv("TEMPSERVER_SSID", "os-managed")
	cfg.Port = uint16(getenvInt(logger, "TEMPSERVER_PORT", 8080))

	deps := control.Deps{
		Network: wifi.NewManager(&osRadio{iface: getenv("TEMPSERVER_IFACE", "wlan0")}, logger),
		Listen:  httpd.Logged(httpd.ListenTCP, logger),
		// The kernel w1 driver converts on read, so there is nothing to wait for.
		Sensor:    sensor.New(sysfsBus{}, sensor.WithLogger(logger), sensor.WithConversionTime(0)),
		Display:   panel,
		Responder: httpd.Responder{Missing: httpd.MissingNA},
		Logger:    logger,
	}
	if name := os.Getenv("TEMPSERVER_LED_PIN"); name != "" {
		pin := gpioreg.ByName(name)
		if pin == nil {
			fatal(logger, "find LED pin", os.ErrNotExist)
		}
		deps.LED = periphLED{pin: pin}
	}
	if broker := os.Getenv("TEMPSERVER_MQTT_BROKER"); broker != "" {
		hostname, _ := os.Hostname()
		deps.Publisher = &mqtt.Publisher{
			ID:       "rpitemp-" + hostname,
			Topic:    getenv("TEMPSERVER_MQTT_TOPIC", "picotemp/temperature"),
			Username: os.Getenv("TEMPSERVER_MQTT_USER"),
			Password: os.Getenv("TEMPSERVER_MQTT_PASS"),
			Timeout:  5 * time.Second,
			Dial:     tcpDialer(broker),
			Logger:   logger,
		}
	}

	loop, err := control.New(cfg, deps)
	if err != nil {
		fatal(logger, "configure server", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	loop.Run(ctx)
	panel.Show(lcd.Message{Line1: []byte("Stopped")})
	logger.Info("main:stopped")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(logger *slog.Logger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("main:bad-env", slog.String("key", key), slog.String("value", v))
		return def
	}
	return n
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("reason", err))
	os.Exit(1)
}

type periphLED struct {
	pin gpio.PinIO
}

func (l periphLED) High() { l.pin.Out(gpio.High) }
func (l periphLED) Low()  { l.pin.Out(gpio.Low) }
