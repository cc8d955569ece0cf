package wire

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// serialStream is a byteStream backed by go.bug.st/serial, reading and
// writing until the requested byte count is satisfied or the port
// errors.
type serialStream struct {
	port serial.Port
}

func openSerial(portName string, baud int, timeout time.Duration) (*serialStream, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		// retry once with a close-and-reopen fallback
		if port != nil {
			port.Close()
		}
		port, err = serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
		}
	}

	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &serialStream{port: port}, nil
}

func (s *serialStream) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	for total < n {
		r, err := s.port.Read(buf[total:])
		if err != nil {
			return nil, fmt.Errorf("serial read error: %w", err)
		}
		if r == 0 {
			return nil, fmt.Errorf("serial read timeout (expected %d bytes, got %d)", n, total)
		}
		total += r
	}
	return buf, nil
}

func (s *serialStream) Write(data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := s.port.Write(data[total:])
		if err != nil {
			return total, fmt.Errorf("serial write error: %w", err)
		}
		total += n
	}
	return total, nil
}

func (s *serialStream) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

// SerialBridgeProbe implements wire.Probe over a serial-attached
// bit-bang SWD/JTAG bridge, framing register accesses with the protocol
// in frame.go.
type SerialBridgeProbe struct {
	portName string
	baud     int
	timeout  time.Duration
	stream   *serialStream
	protocol Protocol
}

// NewSerialBridgeProbe creates a probe that will open portName at baud,
// with the given per-read timeout, on the first call to Attach.
func NewSerialBridgeProbe(portName string, baud int, timeout time.Duration) *SerialBridgeProbe {
	return &SerialBridgeProbe{portName: portName, baud: baud, timeout: timeout}
}

func (p *SerialBridgeProbe) SelectProtocol(proto Protocol) error {
	p.protocol = proto
	return nil
}

func (p *SerialBridgeProbe) Attach(sel TargetSelector) error {
	s, err := openSerial(p.portName, p.baud, p.timeout)
	if err != nil {
		return err
	}
	p.stream = s
	return nil
}

func (p *SerialBridgeProbe) RawReadRegister(port PortType, addr2 uint8) (uint32, error) {
	words, err := p.readWithWaitRetry(port, addr2, 1)
	if err != nil {
		return 0, err
	}
	return words[0], nil
}

func (p *SerialBridgeProbe) RawWriteRegister(port PortType, addr2 uint8, value uint32) error {
	return p.writeWithWaitRetry(port, addr2, []uint32{value})
}

func (p *SerialBridgeProbe) RawReadBlock(port PortType, addr2 uint8, n int) ([]uint32, error) {
	return p.readWithWaitRetry(port, addr2, n)
}

func (p *SerialBridgeProbe) RawWriteBlock(port PortType, addr2 uint8, data []uint32) error {
	return p.writeWithWaitRetry(port, addr2, data)
}

func (p *SerialBridgeProbe) RawFlush() error { return nil }

func (p *SerialBridgeProbe) Close() error {
	if p.stream == nil {
		return nil
	}
	return p.stream.Close()
}

func (p *SerialBridgeProbe) readWithWaitRetry(port PortType, addr2 uint8, n int) ([]uint32, error) {
	op := byte(opRegRead)
	if n > 1 {
		op = opBlkRead
	}
	for attempt := 0; attempt < MaxWaitRetries; attempt++ {
		words, err := transact(p.stream, op, port, addr2, uint16(n), nil)
		if err == nil {
			return words, nil
		}
		var wireErr *Error
		if !asWireError(err, &wireErr) || wireErr.Kind != ErrWait {
			return nil, err
		}
	}
	return nil, &Error{Kind: ErrWait, Op: "read register"}
}

func (p *SerialBridgeProbe) writeWithWaitRetry(port PortType, addr2 uint8, data []uint32) error {
	op := byte(opRegWrite)
	if len(data) > 1 {
		op = opBlkWrite
	}
	for attempt := 0; attempt < MaxWaitRetries; attempt++ {
		_, err := transact(p.stream, op, port, addr2, uint16(len(data)), data)
		if err == nil {
			return nil
		}
		var wireErr *Error
		if !asWireError(err, &wireErr) || wireErr.Kind != ErrWait {
			return err
		}
	}
	return &Error{Kind: ErrWait, Op: "write register"}
}

func asWireError(err error, target **Error) bool {
	we, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = we
	return true
}
