package hash

import (
	"encoding/binary"
	"hash/crc32"
)

// Size is the encoded length of a checksum.
const Size = 4

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// AppendCRC32C appends the little-endian checksum of data to data.
func AppendCRC32C(data []byte) []byte {
	return binary.LittleEndian.AppendUint32(data, CRC32C(data))
}

// VerifyCRC32C splits a buffer produced by AppendCRC32C into its payload
// and reports whether the trailing checksum matches.
func VerifyCRC32C(data []byte) ([]byte, bool) {
	if len(data) < Size {
		return nil, false
	}
	body, tail := data[:len(data)-Size], data[len(data)-Size:]
	return body, CRC32C(body) == binary.LittleEndian.Uint32(tail)
}
