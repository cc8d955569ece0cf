package wire

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// byteStream is the minimal read/write contract a physical transport
// must satisfy to carry the register-access frame below. Serial ports
// and TCP sockets both implement it.
type byteStream interface {
	Read(n int) ([]byte, error)
	Write(data []byte) (int, error)
	Close() error
}

// tcpStream is a byteStream backed by a TCP socket, used both by
// TCPBridgeProbe (dialing a relay) and by the bridge relay server
// itself (accepting a client).
type tcpStream struct {
	conn net.Conn
}

func dialTCP(hostPort string) (*tcpStream, error) {
	conn, err := net.DialTimeout("tcp", hostPort, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", hostPort, err)
	}
	return &tcpStream{conn: conn}, nil
}

func (t *tcpStream) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	for total < n {
		r, err := t.conn.Read(buf[total:])
		if err != nil {
			return nil, fmt.Errorf("TCP read error: %w", err)
		}
		if r == 0 {
			return nil, fmt.Errorf("TCP connection closed")
		}
		total += r
	}
	return buf, nil
}

func (t *tcpStream) Write(data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := t.conn.Write(data[total:])
		if err != nil {
			return total, fmt.Errorf("TCP write error: %w", err)
		}
		total += n
	}
	return total, nil
}

func (t *tcpStream) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// splitHostPort validates a "host:port" address string.
func splitHostPort(addr string) (string, string, error) {
	parts := strings.Split(addr, ":")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid TCP address format (expected host:port): %s", addr)
	}
	return parts[0], parts[1], nil
}
