package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Bridge relays the register-access frame protocol (frame.go) between
// TCP clients and a serial-attached probe.
type Bridge struct {
	tcpHost    string
	tcpPort    int
	serialPort string
	baudRate   int
	timeout    time.Duration
}

// NewBridge creates a TCP-to-serial relay server.
func NewBridge(tcpHost string, tcpPort int, serialPort string, baudRate int, timeout time.Duration) *Bridge {
	return &Bridge{
		tcpHost:    tcpHost,
		tcpPort:    tcpPort,
		serialPort: serialPort,
		baudRate:   baudRate,
		timeout:    timeout,
	}
}

// Listen starts the TCP server and relays frames to the serial port
// until the listener errors or the process is terminated.
func (b *Bridge) Listen() error {
	addr := fmt.Sprintf("%s:%d", b.tcpHost, b.tcpPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener: %w", err)
	}
	defer listener.Close()

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}
		go b.handleConnection(conn)
	}
}

func (b *Bridge) handleConnection(tcpConn net.Conn) {
	defer tcpConn.Close()

	for {
		header := make([]byte, 6)
		if _, err := io.ReadFull(tcpConn, header); err != nil {
			return
		}

		op := header[1]
		count := binary.BigEndian.Uint16(header[4:6])

		var payload []byte
		if op == opRegWrite || op == opBlkWrite {
			payload = make([]byte, 4*int(count))
			if _, err := io.ReadFull(tcpConn, payload); err != nil {
				return
			}
		}

		if _, err := tcpConn.Read(make([]byte, 1)); err != nil { // request LRC
			return
		}

		request := make([]byte, 0, len(header)+len(payload)+1)
		request = append(request, header...)
		request = append(request, payload...)
		request = append(request, calculateLRC(append(append([]byte{}, header...), payload...)))

		serialConn, err := openSerial(b.serialPort, b.baudRate, b.timeout)
		if err != nil {
			return
		}

		if _, err := serialConn.Write(request); err != nil {
			serialConn.Close()
			return
		}

		response, err := readResponse(serialConn, op, count)
		serialConn.Close()
		if err != nil {
			return
		}

		if _, err := tcpConn.Write(response); err != nil {
			return
		}
	}
}

// readResponse reads a full response frame from the serial stream:
// sync byte, status byte, data payload (for read ops), and LRC.
func readResponse(s byteStream, op byte, count uint16) ([]byte, error) {
	sync, err := s.Read(1)
	if err != nil {
		return nil, err
	}
	status, err := s.Read(1)
	if err != nil {
		return nil, err
	}

	var data []byte
	if op == opRegRead || op == opBlkRead {
		data, err = s.Read(4 * int(count))
		if err != nil {
			return nil, err
		}
	}

	lrc, err := s.Read(1)
	if err != nil {
		return nil, err
	}

	resp := make([]byte, 0, 2+len(data)+1)
	resp = append(resp, sync...)
	resp = append(resp, status...)
	resp = append(resp, data...)
	resp = append(resp, lrc...)
	return resp, nil
}
