package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version     byte = 1
	flagAbsent  byte = 0
	flagPresent byte = 1
)

var (
	ErrCorrupt = errors.New("herdcache: corrupt value frame")
	magic4     = [...]byte{'H', 'E', 'R', 'D'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Frame: magic(4) | ver(1) | flag(1: 0=absent, 1=present) | vlen(u32 be) | payload(vlen)
//
// Absent frames record a loader that confirmed there is no value for the key
// (negative cache); their payload is always empty. A frame carries exactly one
// value, so trailing bytes are treated as corruption.

func EncodePresent(payload []byte) []byte {
	return encode(flagPresent, payload)
}

func EncodeAbsent() []byte {
	return encode(flagAbsent, nil)
}

func encode(flag byte, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(flag)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func Decode(b []byte) (present bool, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return false, nil, ErrCorrupt
	}
	flag := b[5]
	if flag != flagAbsent && flag != flagPresent {
		return false, nil, ErrCorrupt
	}

	vlen := int(binary.BigEndian.Uint32(b[6:10]))
	if vlen != len(b)-hdr {
		return false, nil, ErrCorrupt
	}

	if flag == flagAbsent {
		if vlen != 0 {
			return false, nil, ErrCorrupt
		}
		return false, nil, nil
	}
	return true, b[hdr:], nil
}
