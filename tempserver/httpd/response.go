// Package httpd serves the latest temperature reading as a fixed HTML
// page over HTTP/1.0, one connection at a time.
package httpd

import "strconv"

// MissingPolicy decides how a missing temperature is rendered.
type MissingPolicy uint8

const (
	// MissingZero renders a missing temperature as 0.00. Kept for clients
	// that scrape the page and expect a number.
	MissingZero MissingPolicy = iota
	// MissingNA renders a missing temperature as N/A.
	MissingNA
)

// Responder renders the status page. The zero value renders the default
// page with MissingZero.
type Responder struct {
	Title   string // Defaults to "Pico W Data".
	Heading string // Optional first heading, e.g. a firmware version.
	Missing MissingPolicy
}

// FirmwareHeading is the version banner the device page carries.
const FirmwareHeading = "Wedzenie 2025 v0.1.0"

// DeviceResponder renders the page the Pico W firmware serves: the version
// banner first and 0.00 for a missing reading.
func DeviceResponder() Responder {
	return Responder{Heading: FirmwareHeading, Missing: MissingZero}
}

const (
	statusLine = "HTTP/1.0 200 OK\r\nContent-Type: text/html\r\n\r\n"
	pageHead   = `<!DOCTYPE html><html><head><title>`
	pageMeta   = `</title><meta name="viewport" content="width=device-width, initial-scale=1"><meta http-equiv="refresh" content="5"></head><body>`
	pageEnd    = `</body></html>`
)

// Append renders the full response for temp (ignored unless valid) and
// timestamp ts onto dst.
func (r Responder) Append(dst []byte, temp float32, valid bool, ts int64) []byte {
	title := r.Title
	if title == "" {
		title = "Pico W Data"
	}
	dst = append(dst, statusLine...)
	dst = append(dst, pageHead...)
	dst = append(dst, title...)
	dst = append(dst, pageMeta...)
	if r.Heading != "" {
		dst = append(dst, "<h1>"...)
		dst = append(dst, r.Heading...)
		dst = append(dst, "</h1>"...)
	}
	dst = append(dst, "<h1>Temperature: "...)
	switch {
	case valid:
		dst = strconv.AppendFloat(dst, float64(temp), 'f', 2, 32)
	case r.Missing == MissingNA:
		dst = append(dst, "N/A"...)
	default:
		dst = strconv.AppendFloat(dst, 0, 'f', 2, 32)
	}
	dst = append(dst, " °C</h1><h1>Updated: "...)
	dst = strconv.AppendInt(dst, ts, 10)
	dst = append(dst, "</h1>"...)
	return append(dst, pageEnd...)
}

// Render returns the default response.
func Render(temp float32, valid bool, ts int64) []byte {
	return Responder{}.Append(nil, temp, valid, ts)
}
