package util

import (
	"time"

	"github.com/freehandle/signon/crypto"
)

// Two encodings live here. Messages exchanged between signon processes
// (custody socket, vault entries, replay journal) use fixed little endian
// integers and two byte length prefixes. Chain wire bytes, the input of every
// transaction digest, use unsigned LEB128 varint length prefixes; those are
// the PutVarint / PutVarString family.

func PutHash(hash crypto.Hash, data *[]byte) {
	*data = append(*data, hash[:]...)
}

func PutRecoverableSignature(sign crypto.RecoverableSignature, data *[]byte) {
	*data = append(*data, sign[:]...)
}

// PutByteArray puts a byte array up to 2^16 bytes into a byte array
func PutByteArray(b []byte, data *[]byte) {
	if len(b) == 0 {
		*data = append(*data, 0, 0)
		return
	}
	if len(b) > 1<<16-1 {
		*data = append(*data, append([]byte{255, 255}, b[0:1<<16-1]...)...)
		return
	}
	v := len(b)
	*data = append(*data, append([]byte{byte(v), byte(v >> 8)}, b...)...)
}

func PutString(value string, data *[]byte) {
	PutByteArray([]byte(value), data)
}

func PutStringArray(values []string, data *[]byte) {
	PutUint16(uint16(len(values)), data)
	for _, value := range values {
		PutString(value, data)
	}
}

func PutUint16(v uint16, data *[]byte) {
	*data = append(*data, byte(v), byte(v>>8))
}

func PutUint32(v uint32, data *[]byte) {
	b := make([]byte, 4)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	*data = append(*data, b...)
}

func PutUint64(v uint64, data *[]byte) {
	b := make([]byte, 8)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
	*data = append(*data, b...)
}

func PutInt64(v int64, data *[]byte) {
	PutUint64(uint64(v), data)
}

func PutInt16(v int16, data *[]byte) {
	PutUint16(uint16(v), data)
}

func PutTime(value time.Time, data *[]byte) {
	bytes, err := value.MarshalBinary()
	if err != nil {
		panic("invalid time")
	}
	PutByteArray(bytes, data)
}

// PutUnixTime writes seconds since epoch as four bytes, the chain's
// time_point_sec.
func PutUnixTime(value time.Time, data *[]byte) {
	PutUint32(uint32(value.Unix()), data)
}

func PutBool(b bool, data *[]byte) {
	if b {
		*data = append(*data, 1)
	} else {
		*data = append(*data, 0)
	}
}

func PutByte(b byte, data *[]byte) {
	*data = append(*data, b)
}

// PutVarint writes an unsigned LEB128 integer.
func PutVarint(v uint64, data *[]byte) {
	for v >= 0x80 {
		*data = append(*data, byte(v)|0x80)
		v >>= 7
	}
	*data = append(*data, byte(v))
}

// PutVarBytes writes a varint length prefix followed by the bytes.
func PutVarBytes(b []byte, data *[]byte) {
	PutVarint(uint64(len(b)), data)
	*data = append(*data, b...)
}

func PutVarString(value string, data *[]byte) {
	PutVarBytes([]byte(value), data)
}

func ParseHash(data []byte, position int) (crypto.Hash, int) {
	var hash crypto.Hash
	if position+crypto.Size > len(data) {
		return hash, len(data) + 1
	}
	copy(hash[:], data[position:position+crypto.Size])
	return hash, position + crypto.Size
}

func ParseRecoverableSignature(data []byte, position int) (crypto.RecoverableSignature, int) {
	var sign crypto.RecoverableSignature
	if position+crypto.RecoverableSignatureSize > len(data) {
		return sign, len(data) + 1
	}
	copy(sign[:], data[position:position+crypto.RecoverableSignatureSize])
	return sign, position + crypto.RecoverableSignatureSize
}

func ParseByteArray(data []byte, position int) ([]byte, int) {
	if position+1 >= len(data) {
		return []byte{}, len(data) + 1
	}
	length := int(data[position+0]) | int(data[position+1])<<8
	if length == 0 {
		return []byte{}, position + 2
	}
	if position+length+2 > len(data) {
		return []byte{}, position + length + 2
	}
	return (data[position+2 : position+length+2]), position + length + 2
}

func ParseString(data []byte, position int) (string, int) {
	bytes, newPosition := ParseByteArray(data, position)
	return string(bytes), newPosition
}

func ParseStringArray(data []byte, position int) ([]string, int) {
	var count uint16
	count, position = ParseUint16(data, position)
	if position > len(data) {
		return nil, position
	}
	values := make([]string, 0, count)
	for n := 0; n < int(count); n++ {
		var value string
		value, position = ParseString(data, position)
		if position > len(data) {
			return nil, position
		}
		values = append(values, value)
	}
	return values, position
}

func ParseUint16(data []byte, position int) (uint16, int) {
	if position+1 >= len(data) {
		return 0, position + 2
	}
	value := uint16(data[position+0]) |
		uint16(data[position+1])<<8
	return value, position + 2
}

func ParseUint32(data []byte, position int) (uint32, int) {
	if position+3 >= len(data) {
		return 0, position + 4
	}
	value := uint32(data[position+0]) |
		uint32(data[position+1])<<8 |
		uint32(data[position+2])<<16 |
		uint32(data[position+3])<<24
	return value, position + 4
}

func ParseUint64(data []byte, position int) (uint64, int) {
	if position+7 >= len(data) {
		return 0, position + 8
	}
	value := uint64(data[position+0]) |
		uint64(data[position+1])<<8 |
		uint64(data[position+2])<<16 |
		uint64(data[position+3])<<24 |
		uint64(data[position+4])<<32 |
		uint64(data[position+5])<<40 |
		uint64(data[position+6])<<48 |
		uint64(data[position+7])<<56
	return value, position + 8
}

func ParseTime(data []byte, position int) (time.Time, int) {
	bytes, newposition := ParseByteArray(data, position)
	var t time.Time
	if err := t.UnmarshalBinary(bytes); err != nil {
		return time.Time{}, newposition
	}
	return t, newposition
}

func ParseBool(data []byte, position int) (bool, int) {
	if position >= len(data) {
		return false, position + 1
	}
	return data[position] != 0, position + 1
}

func ParseByte(data []byte, position int) (byte, int) {
	if position >= len(data) {
		return 0, position + 1
	}
	return data[position], position + 1
}
