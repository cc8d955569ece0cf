package wire

import (
	"encoding/binary"
	"fmt"
)

// Wire-level frame constants for the register-access bridge protocol
// spoken between probecore and a serial- or TCP-attached bit-bang
// bridge: sync byte + command + address + length + data + LRC, generalized
// to arbitrary DP/AP register access instead of one fixed command set.
const (
	requestSyncByte  = 0x55
	responseSyncByte = 0xAA

	opRegRead  = 0x00
	opRegWrite = 0x01
	opBlkRead  = 0x02
	opBlkWrite = 0x03
)

// response status codes, mapped to wire.ErrorKind on the way out.
const (
	statusOK      = 0x00
	statusWait    = 0x01
	statusFault   = 0x02
	statusParity  = 0x03
	statusNoAck   = 0x04
	statusProtErr = 0x05
)

func statusToErrorKind(status byte) (ErrorKind, bool) {
	switch status {
	case statusOK:
		return 0, false
	case statusWait:
		return ErrWait, true
	case statusFault:
		return ErrFault, true
	case statusParity:
		return ErrParity, true
	case statusNoAck:
		return ErrNoAcknowledge, true
	default:
		return ErrSwdProtocol, true
	}
}

func calculateLRC(data []byte) byte {
	var lrc byte
	for _, b := range data {
		lrc ^= b
	}
	return lrc
}

// buildRequest assembles a request frame:
//
//	[0x55][OP][PORT][ADDR2][COUNT_HI][COUNT_LO][...DATA (4*COUNT bytes LE each)...][LRC]
func buildRequest(op byte, port PortType, addr2 uint8, count uint16, data []uint32) []byte {
	header := make([]byte, 6)
	header[0] = requestSyncByte
	header[1] = op
	header[2] = byte(port)
	header[3] = addr2
	binary.BigEndian.PutUint16(header[4:6], count)

	payload := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(payload[i*4:], v)
	}

	packet := make([]byte, 0, len(header)+len(payload)+1)
	packet = append(packet, header...)
	packet = append(packet, payload...)
	packet = append(packet, calculateLRC(append(append([]byte{}, header...), payload...)))
	return packet
}

// transact sends a request frame over the stream and parses the
// response, returning any data words read.
func transact(s byteStream, op byte, port PortType, addr2 uint8, count uint16, writeData []uint32) ([]uint32, error) {
	req := buildRequest(op, port, addr2, count, writeData)
	n, err := s.Write(req)
	if err != nil {
		return nil, fmt.Errorf("wire: write request: %w", err)
	}
	if n != len(req) {
		return nil, fmt.Errorf("wire: incomplete write: wrote %d bytes, expected %d", n, len(req))
	}

	// wait for sync byte
	for {
		b, err := s.Read(1)
		if err != nil {
			return nil, fmt.Errorf("wire: read sync byte: %w", err)
		}
		if b[0] == responseSyncByte {
			break
		}
	}

	statusBuf, err := s.Read(1)
	if err != nil {
		return nil, fmt.Errorf("wire: read status byte: %w", err)
	}
	status := statusBuf[0]

	var readWords []uint32
	readsData := op == opRegRead || op == opBlkRead
	if readsData {
		raw, err := s.Read(4 * int(count))
		if err != nil {
			return nil, fmt.Errorf("wire: read data: %w", err)
		}
		readWords = make([]uint32, count)
		for i := range readWords {
			readWords[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
	}

	if _, err := s.Read(1); err != nil { // response LRC, not verified
		return nil, fmt.Errorf("wire: read response LRC: %w", err)
	}

	if kind, isErr := statusToErrorKind(status); isErr {
		return nil, &Error{Kind: kind, Op: opName(op)}
	}

	return readWords, nil
}

func opName(op byte) string {
	switch op {
	case opRegRead:
		return "read register"
	case opRegWrite:
		return "write register"
	case opBlkRead:
		return "read block"
	case opBlkWrite:
		return "write block"
	default:
		return "unknown op"
	}
}
