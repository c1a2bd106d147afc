package pebblestore

import (
	"encoding/binary"
	"errors"
)

// Order-preserving key components.
//
// Strings are written with every 0x00 escaped as 0x00 0xff and terminated by
// 0x00 0x01, so that a component never is a prefix of a different component
// and byte-wise order matches string order. Integers are big-endian.

// ErrBadKey reports a key that does not decode with the expected layout.
var ErrBadKey = errors.New("pebble: malformed key")

const (
	escByte  = 0x00
	escZero  = 0xff
	escTerm  = 0x01
	be8Width = 8
)

// AppendString appends the escaped, terminated form of s to dst.
func AppendString(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == escByte {
			dst = append(dst, escByte, escZero)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, escByte, escTerm)
}

// ReadString decodes one string component from the front of b and returns
// the remainder.
func ReadString(b []byte) (string, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != escByte {
			out = append(out, c)
			continue
		}
		if i+1 >= len(b) {
			return "", nil, ErrBadKey
		}
		switch b[i+1] {
		case escZero:
			out = append(out, escByte)
			i++
		case escTerm:
			return string(out), b[i+2:], nil
		default:
			return "", nil, ErrBadKey
		}
	}
	return "", nil, ErrBadKey
}

// AppendUint64 appends v big-endian.
func AppendUint64(dst []byte, v uint64) []byte {
	var b [be8Width]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// ReadUint64 decodes a big-endian uint64 from the front of b.
func ReadUint64(b []byte) (uint64, []byte, error) {
	if len(b) < be8Width {
		return 0, nil, ErrBadKey
	}
	return binary.BigEndian.Uint64(b[:be8Width]), b[be8Width:], nil
}
