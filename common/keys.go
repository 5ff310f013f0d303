package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	HrpPublicKey  = "npub"
	HrpPrivateKey = "nsec"
)

var (
	ErrInvalidKey = errors.New("invalid key encoding")
)

// EncodeBech32Key encodes a 32-byte hex key with the given human readable part.
func EncodeBech32Key(hrp string, hexKey string) (string, error) {
	raw := HexStrToByteSlice(hexKey)
	if len(raw) != 32 {
		return "", ErrInvalidKey
	}
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}

// DecodeBech32Key returns the hex form of a bech32 encoded key and checks
// that its prefix is the expected one.
func DecodeBech32Key(expectedHrp string, encoded string) (string, error) {
	hrp, data, err := bech32.Decode(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if hrp != expectedHrp {
		return "", fmt.Errorf("%w: prefix %q, want %q", ErrInvalidKey, hrp, expectedHrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 32 {
		return "", ErrInvalidKey
	}
	return ByteSliceToPureHexStr(raw), nil
}

func EncodeNpub(pubkeyHex string) (string, error) {
	return EncodeBech32Key(HrpPublicKey, pubkeyHex)
}

func EncodeNsec(privkeyHex string) (string, error) {
	return EncodeBech32Key(HrpPrivateKey, privkeyHex)
}

// NormalizePubkey accepts either an npub or a 64 character hex pubkey and
// returns lower case hex.
func NormalizePubkey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, HrpPublicKey+"1") {
		return DecodeBech32Key(HrpPublicKey, key)
	}
	key = strings.ToLower(Trim0xPrefix(key))
	if !IsHexString(key, 32) {
		return "", ErrInvalidKey
	}
	return key, nil
}

// NormalizePrivkey is NormalizePubkey for nsec keys.
func NormalizePrivkey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, HrpPrivateKey+"1") {
		return DecodeBech32Key(HrpPrivateKey, key)
	}
	key = strings.ToLower(Trim0xPrefix(key))
	if !IsHexString(key, 32) {
		return "", ErrInvalidKey
	}
	return key, nil
}
