package rcpipc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

// Wire format of one IPC frame, all integers big-endian:
//
//	opcode  uint8
//	length  uint16  payload byte count
//	payload length bytes
//	fcs     uint16  CRC-16/CCITT-FALSE over opcode, length and payload
const (
	headerLen = 3
	fcsLen    = 2

	// MaxPayloadLen is the largest payload one IPC frame can carry.
	MaxPayloadLen = 65535
)

// Frame opcodes.
const (
	// opFrame carries one opaque radio frame.
	opFrame byte = 0x01
	// opReset requests a hardware reset of the co-processor.
	opReset byte = 0x02
)

// ErrFrameCorrupted indicates a received frame failed the FCS check.
var ErrFrameCorrupted = errors.New("frame check sequence mismatch")

// ErrFrameTooLarge indicates the payload exceeds MaxPayloadLen.
var ErrFrameTooLarge = errors.New("payload exceeds frame limit")

var fcsTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// encodeFrame appends one wire frame for opcode and payload to dst.
func encodeFrame(dst []byte, opcode byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return dst, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	start := len(dst)
	dst = append(dst, opcode, 0, 0)
	binary.BigEndian.PutUint16(dst[start+1:], uint16(len(payload))) //nolint:gosec
	dst = append(dst, payload...)

	fcs := crc16.Checksum(dst[start:], fcsTable)
	dst = binary.BigEndian.AppendUint16(dst, fcs)

	return dst, nil
}

// verifyFrame checks the FCS of one received frame. header is the 3-byte
// frame header, payload the body and fcs the trailing check sequence.
func verifyFrame(header []byte, payload []byte, fcs uint16) error {
	crc := crc16.Init(fcsTable)
	crc = crc16.Update(crc, header, fcsTable)
	crc = crc16.Update(crc, payload, fcsTable)

	if crc16.Complete(crc, fcsTable) != fcs {
		return ErrFrameCorrupted
	}

	return nil
}
