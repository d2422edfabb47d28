// Package journal implements the append-only framed binary event log
// described in spec §4.4 and §6: Header(64B) followed by a stream of
// EventHeader(20B) + Body(N) + CRC(4B) records. The wire-framing style
// (fixed byte offsets, encoding/binary, explicit fixed-width fields) is
// carried over from the teacher's internal/net/messages.go, applied here to
// on-disk records instead of TCP messages. Unlike the TCP protocol (which
// is BigEndian), the journal is LittleEndian per spec §6.
package journal

import (
	"encoding/binary"
	"errors"
)

// Magic identifies a fenrir journal file. Version 1 uses the XOR checksum
// described in spec §9; a future version could bump this and switch to
// CRC32 without breaking readers of old files.
var Magic = [4]byte{'C', 'R', 'E', 'J'}

const CurrentVersion uint32 = 1

const (
	HeaderSize      = 64
	EventHeaderSize = 20
	ChecksumSize    = 4

	symbolFieldLen   = 24
	userFieldLen     = 32
	currencyFieldLen = 8
	clientIDFieldLen = 32
	pathFieldLen     = 64
	hashFieldLen     = 32
	reasonFieldLen   = 32
)

var (
	ErrBadMagic      = errors.New("journal: bad magic")
	ErrTruncated     = errors.New("journal: truncated record")
	ErrChecksum      = errors.New("journal: checksum mismatch")
	ErrUnknownVer    = errors.New("journal: unsupported version")
)

// EventType enumerates every journal record body shape named in spec §3.
type EventType uint8

const (
	EventOrderNew EventType = iota
	EventCancel
	EventModify
	EventTrade
	EventDeposit
	EventWithdrawal
	EventMarginLock
	EventMarginRelease
	EventLiquidation
	EventFunding
	EventFee
	EventInsurance
	EventSystemStart
	EventSystemStop
	EventSnapshot
	EventOrderReject
	EventPositionAdjustment
)

// FileHeader is the 64-byte header at the start of every journal file.
type FileHeader struct {
	Version   uint32
	CreatedTs uint64
	LastSeq   uint64
}

// Encode writes the header in its fixed 64-byte layout.
func (h FileHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.CreatedTs)
	binary.LittleEndian.PutUint64(buf[16:24], h.LastSeq)
	// buf[24:64] remains zero (40 bytes reserved).
	return buf
}

// DecodeFileHeader parses a 64-byte header, validating the magic.
func DecodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < HeaderSize {
		return FileHeader{}, ErrTruncated
	}
	if string(buf[0:4]) != string(Magic[:]) {
		return FileHeader{}, ErrBadMagic
	}
	return FileHeader{
		Version:   binary.LittleEndian.Uint32(buf[4:8]),
		CreatedTs: binary.LittleEndian.Uint64(buf[8:16]),
		LastSeq:   binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}

// EventHeader precedes every record body.
type EventHeader struct {
	TimestampNs uint64
	Sequence    uint64
	Type        EventType
	DataSize    uint16
}

func (h EventHeader) Encode() []byte {
	buf := make([]byte, EventHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.TimestampNs)
	binary.LittleEndian.PutUint64(buf[8:16], h.Sequence)
	buf[16] = byte(h.Type)
	buf[17] = 0 // _pad
	binary.LittleEndian.PutUint16(buf[18:20], h.DataSize)
	return buf
}

func DecodeEventHeader(buf []byte) (EventHeader, error) {
	if len(buf) < EventHeaderSize {
		return EventHeader{}, ErrTruncated
	}
	return EventHeader{
		TimestampNs: binary.LittleEndian.Uint64(buf[0:8]),
		Sequence:    binary.LittleEndian.Uint64(buf[8:16]),
		Type:        EventType(buf[16]),
		DataSize:    binary.LittleEndian.Uint16(buf[18:20]),
	}, nil
}

// checksum computes the position-dependent XOR described in spec §9: each
// byte is XORed into a 32-bit accumulator at the byte position i mod 4.
// Reimplementations must reproduce this exact computation for interop with
// version-1 journal files.
func checksum(data []byte) uint32 {
	var acc uint32
	for i, b := range data {
		acc ^= uint32(b) << (8 * uint(i%4))
	}
	return acc
}

func encodeChecksum(data []byte) []byte {
	buf := make([]byte, ChecksumSize)
	binary.LittleEndian.PutUint32(buf, checksum(data))
	return buf
}

func verifyChecksum(data []byte, want []byte) bool {
	return checksum(data) == binary.LittleEndian.Uint32(want)
}

// putFixedString copies s into dst, null-padding or truncating to len(dst).
func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// getFixedString reads a null-padded fixed-width field back into a string.
func getFixedString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}
