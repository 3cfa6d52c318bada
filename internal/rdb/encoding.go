// Package rdb implements emberdb's snapshot engine: the binary length-prefix
// encoding, file layout, periodic save cadence, and load-at-startup restore.
package rdb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Length-prefix top-two-bit encodings.
const (
	lenEnc6Bit    = 0b00
	lenEnc14Bit   = 0b01
	lenEnc32Bit   = 0b10
	lenEncSpecial = 0b11
)

const (
	max6Bit  = 1<<6 - 1    // 63
	max14Bit = 1<<14 - 1   // 16383
)

// writeLength writes the smallest length-prefix encoding that fits n.
// 32-bit lengths are written as a fallback for values exceeding 14 bits,
// recognized by this writer's own loader but flagged as unsupported by a
// strict 14-bit-only reader.
func writeLength(w io.Writer, n uint64) error {
	switch {
	case n <= max6Bit:
		_, err := w.Write([]byte{byte(n) & 0x3F})
		return err
	case n <= max14Bit:
		b0 := byte(lenEnc14Bit<<6) | byte(n>>8)
		b1 := byte(n)
		_, err := w.Write([]byte{b0, b1})
		return err
	case n <= 0xFFFFFFFF:
		buf := make([]byte, 5)
		buf[0] = 0x80 // 10|000000, then 4 big-endian bytes
		binary.BigEndian.PutUint32(buf[1:], uint32(n))
		_, err := w.Write(buf)
		return err
	default:
		return fmt.Errorf("rdb: length %d exceeds 32-bit encoding", n)
	}
}

// readLength parses the RDB length-prefix integer encoding, returning the
// value and whether the top two bits indicated a "special" (11|XXXXXX)
// encoding rather than a plain length.
func readLength(r io.Reader) (value uint64, special bool, err error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, false, err
	}
	b0 := first[0]
	switch b0 >> 6 {
	case lenEnc6Bit:
		return uint64(b0 & 0x3F), false, nil
	case lenEnc14Bit:
		var next [1]byte
		if _, err := io.ReadFull(r, next[:]); err != nil {
			return 0, false, err
		}
		return (uint64(b0&0x3F) << 8) | uint64(next[0]), false, nil
	case lenEnc32Bit:
		if b0 == 0x80 {
			var buf [4]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return 0, false, err
			}
			return uint64(binary.BigEndian.Uint32(buf[:])), false, nil
		}
		return 0, false, fmt.Errorf("rdb: unsupported 10|XXXXXX length encoding (byte %#x)", b0)
	default: // lenEncSpecial, 0b11
		return uint64(b0 & 0x3F), true, nil
	}
}

// writeString writes a length-prefixed raw string: length, then bytes.
func writeString(w io.Writer, s string) error {
	if err := writeLength(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// readString reads a length-prefixed string. Special (top-bits-11)
// encodings are not produced by this writer and are reported as
// unsupported rather than silently misinterpreted.
func readString(r io.Reader) (string, error) {
	n, special, err := readLength(r)
	if err != nil {
		return "", err
	}
	if special {
		return "", fmt.Errorf("rdb: unsupported special string encoding (tag %d)", n)
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("rdb: short read for %d-byte string: %w", n, err)
	}
	return string(buf), nil
}
