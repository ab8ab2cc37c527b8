package httpd

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func TestRender_ValidTemperature(t *testing.T) {
	got := string(Render(23.456, true, 1718000000))

	if !strings.HasPrefix(got, "HTTP/1.0 200 OK\r\nContent-Type: text/html\r\n\r\n<!DOCTYPE html><html>") {
		t.Fatalf("unexpected response head: %q", got[:60])
	}
	if !strings.Contains(got, "Temperature: 23.46 °C") {
		t.Fatalf("expected temperature with 2 decimals, got %q", got)
	}
	if !strings.Contains(got, "Updated: 1718000000") {
		t.Fatalf("expected timestamp, got %q", got)
	}
	if !strings.HasSuffix(got, "</html>") {
		t.Fatalf("expected html document to end the response")
	}
	if strings.Count(got, "\r\n") != 3 {
		t.Fatalf("expected status line, one header and a blank line")
	}
}

func TestRender_MissingTemperatureIsZero(t *testing.T) {
	got := string(Render(99, false, 42))
	if !strings.Contains(got, "Temperature: 0.00 °C") {
		t.Fatalf("expected 0.00 for missing temperature, got %q", got)
	}
	if !strings.Contains(got, "Updated: 42<") {
		t.Fatalf("expected timestamp verbatim, got %q", got)
	}
}

func TestResponder_MissingNA(t *testing.T) {
	r := Responder{Title: "Smoker", Heading: "Wedzenie v0.1.0", Missing: MissingNA}
	got := string(r.Append(nil, 0, false, 7))
	for _, want := range []string{"<title>Smoker</title>", "<h1>Wedzenie v0.1.0</h1>", "Temperature: N/A °C"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}

func TestDeviceResponder_CarriesVersionBanner(t *testing.T) {
	got := string(DeviceResponder().Append(nil, 0, false, 9))
	want := "<title>Pico W Data</title><meta name=\"viewport\" content=\"width=device-width, initial-scale=1\"><meta http-equiv=\"refresh\" content=\"5\"></head><body><h1>Wedzenie 2025 v0.1.0</h1><h1>Temperature: 0.00 °C</h1>"
	if !strings.Contains(got, want) {
		t.Fatalf("expected banner ahead of the reading, got %q", got)
	}
}

func TestResponder_AppendReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 1024)
	out := Responder{}.Append(buf, -3.5, true, 1)
	if &out[0] != &buf[:1][0] {
		t.Fatalf("expected Append to reuse the buffer")
	}
	if !strings.Contains(string(out), "Temperature: -3.50") {
		t.Fatalf("unexpected body %q", out)
	}
}

func TestListenLoopback_AcceptTimeout(t *testing.T) {
	ln, err := ListenLoopback(0, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("ListenLoopback() err=%v", err)
	}
	defer ln.Close()

	for i := 0; i < 3; i++ {
		_, err := ln.Accept()
		if !errors.Is(err, ErrAcceptTimeout) {
			t.Fatalf("accept %d: expected ErrAcceptTimeout, got %v", i, err)
		}
	}
}

func TestListenLoopback_AcceptsClient(t *testing.T) {
	ln, err := ListenLoopback(0, 2*time.Second)
	if err != nil {
		t.Fatalf("ListenLoopback() err=%v", err)
	}
	defer ln.Close()

	done := make(chan string, 1)
	go func() {
		c, err := net.Dial("tcp", ListenerAddr(ln).String())
		if err != nil {
			done <- "dial: " + err.Error()
			return
		}
		defer c.Close()
		c.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
		b, _ := io.ReadAll(c)
		done <- string(b)
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept() err=%v", err)
	}
	buf := make([]byte, 1024)
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("Read() err=%v", err)
	}
	conn.Write(Render(1, true, 2))
	conn.Close()

	if got := <-done; !strings.Contains(got, "Temperature: 1.00") {
		t.Fatalf("unexpected client read %q", got)
	}
}

func TestListenerAddr_Other(t *testing.T) {
	if ListenerAddr(nil) != nil {
		t.Fatalf("expected nil address")
	}
}

func TestLogged_LogsBoundAddress(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, nil))

	ln, err := Logged(ListenLoopback, logger)(0, time.Second)
	if err != nil {
		t.Fatalf("listen err=%v", err)
	}
	defer ln.Close()

	want := "addr=" + ListenerAddr(ln).String()
	if !strings.Contains(out.String(), "httpd:bound") || !strings.Contains(out.String(), want) {
		t.Fatalf("expected %q logged, got %q", want, out.String())
	}
}
