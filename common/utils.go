package common

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// The returned string has no 0x prefix
func ByteSliceToPureHexStr(b []byte) string {
	return hex.EncodeToString(b)
}

// HexStrToByteSlice decodes a hex string with or without 0x prefix.
// Invalid input yields nil.
func HexStrToByteSlice(hexStr string) []byte {
	b, err := hex.DecodeString(Trim0xPrefix(hexStr))
	if err != nil {
		return nil
	}
	return b
}

// Trim 0x or 0X prefix off the string.
func Trim0xPrefix(str string) string {
	s := strings.TrimPrefix(str, "0x")
	return strings.TrimPrefix(s, "0X")
}

// RandBytes32 generates [32]byte with random values
func RandBytes32() [32]byte {
	var b [32]byte
	n, err := rand.Read(b[:])

	if err != nil {
		return [32]byte{}
	}
	if n != 32 {
		return [32]byte{}
	}

	return b
}

func RandBytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil
	}
	return b
}

// RandHex returns n random bytes hex encoded.
func RandHex(n int) string {
	return hex.EncodeToString(RandBytes(n))
}

// Shorten keeps n characters on both sides of str and replaces
// the rest with "...". Used to log tokens and keys without leaking them.
func Shorten(str string, n int) string {
	if len(str) <= n*2 {
		return str
	}
	return str[:n] + "..." + str[len(str)-n:]
}

// IsHexString reports whether s is a non-empty string of hex characters
// with exactly size decoded bytes. size <= 0 skips the length check.
func IsHexString(s string, size int) bool {
	if s == "" {
		return false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return false
	}
	return size <= 0 || len(b) == size
}
