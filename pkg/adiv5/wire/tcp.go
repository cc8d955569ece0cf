package wire

// TCPBridgeProbe implements wire.Probe by dialing a TCP-to-bit-bang
// relay (see Bridge in bridge.go), useful for remote development or
// platforms without a native probe driver.
type TCPBridgeProbe struct {
	hostPort string
	stream   *tcpStream
}

// NewTCPBridgeProbe creates a probe that dials hostPort (e.g.
// "192.168.1.114:2560") on the first call to Attach.
func NewTCPBridgeProbe(hostPort string) *TCPBridgeProbe {
	return &TCPBridgeProbe{hostPort: hostPort}
}

func (p *TCPBridgeProbe) SelectProtocol(proto Protocol) error { return nil }

func (p *TCPBridgeProbe) Attach(sel TargetSelector) error {
	if _, _, err := splitHostPort(p.hostPort); err != nil {
		return err
	}
	s, err := dialTCP(p.hostPort)
	if err != nil {
		return err
	}
	p.stream = s
	return nil
}

func (p *TCPBridgeProbe) RawReadRegister(port PortType, addr2 uint8) (uint32, error) {
	words, err := transactRetry(p.stream, opRegRead, port, addr2, 1, nil)
	if err != nil {
		return 0, err
	}
	return words[0], nil
}

func (p *TCPBridgeProbe) RawWriteRegister(port PortType, addr2 uint8, value uint32) error {
	_, err := transactRetry(p.stream, opRegWrite, port, addr2, 1, []uint32{value})
	return err
}

func (p *TCPBridgeProbe) RawReadBlock(port PortType, addr2 uint8, n int) ([]uint32, error) {
	return transactRetry(p.stream, opBlkRead, port, addr2, uint16(n), nil)
}

func (p *TCPBridgeProbe) RawWriteBlock(port PortType, addr2 uint8, data []uint32) error {
	_, err := transactRetry(p.stream, opBlkWrite, port, addr2, uint16(len(data)), data)
	return err
}

func (p *TCPBridgeProbe) RawFlush() error { return nil }

func (p *TCPBridgeProbe) Close() error {
	if p.stream == nil {
		return nil
	}
	return p.stream.Close()
}

func transactRetry(s byteStream, op byte, port PortType, addr2 uint8, count uint16, data []uint32) ([]uint32, error) {
	for attempt := 0; attempt < MaxWaitRetries; attempt++ {
		words, err := transact(s, op, port, addr2, count, data)
		if err == nil {
			return words, nil
		}
		var wireErr *Error
		if !asWireError(err, &wireErr) || wireErr.Kind != ErrWait {
			return nil, err
		}
	}
	return nil, &Error{Kind: ErrWait, Op: opName(op)}
}
