// Package hash provides the checksum used by checkpoint frames.
//
// Frames are protected with CRC32-Castagnoli (CRC32C), which Go's crc32
// package computes with SSE4.2 or the ARM CRC extension when available.
//
//	sum := hash.CRC32C(frame)
package hash
