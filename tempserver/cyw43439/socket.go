package cyw43439

import (
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"github.com/harveysanders/picotempserver/tempserver/httpd"
	"github.com/soypat/lneto/tcp"
)

// tcpBufSize is MTU - ethhdr - iphdr - tcphdr.
const tcpBufSize = 2030

type acceptTimeout struct{}

func (acceptTimeout) Error() string        { return "cyw43439: accept timeout" }
func (acceptTimeout) Is(target error) bool { return target == httpd.ErrAcceptTimeout }

// listener serves one connection at a time on a single lneto tcp.Conn.
// After a client is done the same Conn goes back to listening.
type listener struct {
	s         *Stack
	port      uint16
	timeout   time.Duration
	conn      tcp.Conn
	listening bool
}

// Listen returns an httpd.Listener on port. It satisfies httpd.ListenFunc.
func (s *Stack) Listen(port uint16, timeout time.Duration) (httpd.Listener, error) {
	l := &listener{s: s, port: port, timeout: timeout}
	err := l.conn.Configure(tcp.ConnConfig{
		RxBuf:             make([]byte, tcpBufSize),
		TxBuf:             make([]byte, tcpBufSize),
		TxPacketQueueSize: 3,
	})
	if err != nil {
		return nil, errors.New("tcp configure:" + err.Error())
	}
	s.log.Info("socket:listen", slog.Uint64("port", uint64(port)))
	return l, nil
}

func (l *listener) Accept() (httpd.Conn, error) {
	if !l.listening {
		if err := l.s.s.ListenTCP(&l.conn, l.port); err != nil {
			return nil, errors.New("listen tcp:" + err.Error())
		}
		l.listening = true
	}
	deadline := time.Now().Add(l.timeout)
	for l.conn.State() != tcp.StateEstablished {
		if l.conn.State().IsClosed() {
			// Client went away mid-handshake.
			l.listening = false
			return nil, acceptTimeout{}
		}
		if time.Now().After(deadline) {
			return nil, acceptTimeout{}
		}
		time.Sleep(pollTime)
	}
	l.conn.SetDeadline(time.Now().Add(l.timeout))
	return &serverConn{l: l}, nil
}

// Close aborts the socket, dropping any half-open client.
func (l *listener) Close() error {
	l.conn.Abort()
	l.listening = false
	return nil
}

// serverConn is the accepted side of a listener. Closing it returns the
// socket to listening on the next Accept.
type serverConn struct {
	l *listener
}

func (c *serverConn) Read(b []byte) (int, error)  { return c.l.conn.Read(b) }
func (c *serverConn) Write(b []byte) (int, error) { return c.l.conn.Write(b) }

func (c *serverConn) Close() error {
	closeConn(&c.l.conn)
	c.l.listening = false
	return nil
}

// closeConn closes conn gracefully and aborts it if the peer does not
// finish the close in time.
func closeConn(conn *tcp.Conn) {
	conn.Close()
	for i := 0; i < 50 && !conn.State().IsClosed(); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	conn.Abort()
}

// clientConn is a dialed connection owning its tcp.Conn.
type clientConn struct {
	tcp.Conn
}

func (c *clientConn) Close() error {
	closeConn(&c.Conn)
	return nil
}

// Dialer returns a function dialing addr ("host:port", host may be a DNS
// name) over the stack. It is meant for mqtt.Publisher.Dial.
func (s *Stack) Dialer(addr string) func() (io.ReadWriteCloser, error) {
	return func() (io.ReadWriteCloser, error) {
		host, portStr, err := splitHostPort(addr)
		if err != nil {
			return nil, errors.New("parsing host:port from " + addr + ": " + err.Error())
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, errors.New("parsing port from " + addr + ": " + err.Error())
		}
		rstack := s.s.StackRetrying(pollTime)

		ip, err := netip.ParseAddr(host)
		if err != nil {
			s.log.Info("dns:resolving", slog.String("host", host))
			addrs, err := rstack.DoLookupIP(host, 5*time.Second, 3)
			if err != nil {
				return nil, errors.New("dns lookup for " + host + ": " + err.Error())
			}
			if len(addrs) == 0 {
				return nil, errors.New("dns lookup for " + host + ": no addresses returned")
			}
			ip = addrs[0]
		}

		c := &clientConn{}
		err = c.Configure(tcp.ConnConfig{
			RxBuf:             make([]byte, tcpBufSize),
			TxBuf:             make([]byte, tcpBufSize),
			TxPacketQueueSize: 3,
		})
		if err != nil {
			return nil, errors.New("tcp configure:" + err.Error())
		}

		localPort := uint16(s.s.Prand32()>>17) + 1024
		s.log.Info("socket:dialing", slog.Uint64("localPort", uint64(localPort)), slog.String("addr", ip.String()))
		err = rstack.DoDialTCP(&c.Conn, localPort, netip.AddrPortFrom(ip, uint16(port)), 10*time.Second, 3)
		if err != nil {
			closeConn(&c.Conn)
			return nil, errors.New("dial tcp:" + err.Error())
		}
		return c, nil
	}
}

// splitHostPort splits at the last colon so bracketless IPv6 hosts work.
func splitHostPort(addr string) (host, port string, err error) {
	colonIdx := -1
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			colonIdx = i
			break
		}
	}
	if colonIdx == -1 {
		return "", "", errors.New("missing port in address")
	}
	host = addr[:colonIdx]
	port = addr[colonIdx+1:]
	if host == "" {
		return "", "", errors.New("empty host")
	}
	if port == "" {
		return "", "", errors.New("empty port")
	}
	return host, port, nil
}
