package httpd

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"
)

// ErrAcceptTimeout is returned by Listener.Accept when no client connected
// within the accept timeout. It is the steady state of an idle server.
var ErrAcceptTimeout = errors.New("httpd: accept timeout")

// Conn is an accepted client connection.
type Conn = io.ReadWriteCloser

// Listener is a listening socket with a bounded accept.
type Listener interface {
	// Accept waits up to the accept timeout for a client. Timing out
	// returns an error matching ErrAcceptTimeout.
	Accept() (Conn, error)
	Close() error
}

// ListenFunc binds a listening socket on port.
type ListenFunc func(port uint16, acceptTimeout time.Duration) (Listener, error)

type timeoutError struct{ err error }

func (e timeoutError) Error() string        { return "httpd: accept timeout: " + e.err.Error() }
func (e timeoutError) Is(target error) bool { return target == ErrAcceptTimeout }
func (e timeoutError) Unwrap() error        { return e.err }

// tcpListener is a Listener on the host network stack.
type tcpListener struct {
	ln      *net.TCPListener
	timeout time.Duration
}

// ListenTCP listens on all interfaces. Port 0 picks a free port.
func ListenTCP(port uint16, acceptTimeout time.Duration) (Listener, error) {
	return listenTCP(":"+strconv.Itoa(int(port)), acceptTimeout)
}

// ListenLoopback listens on 127.0.0.1 only.
func ListenLoopback(port uint16, acceptTimeout time.Duration) (Listener, error) {
	return listenTCP("127.0.0.1:"+strconv.Itoa(int(port)), acceptTimeout)
}

func listenTCP(addr string, acceptTimeout time.Duration) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.New("listen:" + err.Error())
	}
	return &tcpListener{ln: ln.(*net.TCPListener), timeout: acceptTimeout}, nil
}

// ListenerAddr returns the bound address of a Listener created by
// ListenTCP or ListenLoopback, nil for any other Listener.
func ListenerAddr(l Listener) net.Addr {
	if tl, ok := l.(*tcpListener); ok {
		return tl.ln.Addr()
	}
	return nil
}

// Logged wraps listen so every socket it binds is logged with its address.
func Logged(listen ListenFunc, logger *slog.Logger) ListenFunc {
	return func(port uint16, acceptTimeout time.Duration) (Listener, error) {
		ln, err := listen(port, acceptTimeout)
		if err != nil {
			return nil, err
		}
		if addr := ListenerAddr(ln); addr != nil {
			logger.Info("httpd:bound", slog.String("addr", addr.String()))
		}
		return ln, nil
	}
}

func (l *tcpListener) Accept() (Conn, error) {
	if l.timeout > 0 {
		if err := l.ln.SetDeadline(time.Now().Add(l.timeout)); err != nil {
			return nil, err
		}
	}
	c, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, timeoutError{err: err}
		}
		return nil, err
	}
	if l.timeout > 0 {
		// Bound the request read and response write as well.
		c.SetDeadline(time.Now().Add(l.timeout))
	}
	return c, nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }
