package giftwrap

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/shopkit/checkout-go/common"
)

// NIP-44 version 2 payload encryption.

const (
	nip44Version   = 2
	minPlaintext   = 1
	maxPlaintext   = 65535
	minPayloadSize = 132
	maxPayloadSize = 87472
)

var (
	ErrPlaintextSize  = errors.New("plaintext must be 1 to 65535 bytes")
	ErrPayloadSize    = errors.New("invalid payload size")
	ErrUnknownVersion = errors.New("unknown encryption version")
	ErrInvalidMAC     = errors.New("invalid mac")
	ErrInvalidPadding = errors.New("invalid padding")

	nip44Salt = []byte("nip44-v2")
)

// ConversationKey derives the shared key between sk and pubkey. It is the
// same from both sides of the conversation.
func ConversationKey(sk *btcec.PrivateKey, pubkey string) ([]byte, error) {
	pk, err := ParsePubkey(pubkey)
	if err != nil {
		return nil, err
	}
	shared := btcec.GenerateSharedSecret(sk, pk)
	return hkdf.Extract(sha256.New, shared, nip44Salt), nil
}

func messageKeys(convKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	keys := make([]byte, 76)
	if _, err = io.ReadFull(hkdf.Expand(sha256.New, convKey, nonce), keys); err != nil {
		return nil, nil, nil, err
	}
	return keys[0:32], keys[32:44], keys[44:76], nil
}

func calcPaddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	nextPower := 1 << bits.Len(uint(n-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((n-1)/chunk + 1)
}

func pad(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n < minPlaintext || n > maxPlaintext {
		return nil, ErrPlaintextSize
	}
	out := make([]byte, 2+calcPaddedLen(n))
	binary.BigEndian.PutUint16(out, uint16(n))
	copy(out[2:], plaintext)
	return out, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrInvalidPadding
	}
	n := int(binary.BigEndian.Uint16(padded))
	if n < minPlaintext || len(padded) != 2+calcPaddedLen(n) {
		return nil, ErrInvalidPadding
	}
	return padded[2 : 2+n], nil
}

func mac(key, nonce, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(nonce)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// Encrypt encrypts plaintext under convKey with a random nonce.
func Encrypt(plaintext string, convKey []byte) (string, error) {
	nonce := common.RandBytes(32)
	if nonce == nil {
		return "", fmt.Errorf("failed to read random nonce")
	}
	return encryptWithNonce(plaintext, convKey, nonce)
}

func encryptWithNonce(plaintext string, convKey, nonce []byte) (string, error) {
	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}
	padded, err := pad([]byte(plaintext))
	if err != nil {
		return "", err
	}
	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.XORKeyStream(ciphertext, padded)

	out := make([]byte, 0, 1+32+len(ciphertext)+32)
	out = append(out, nip44Version)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, mac(hmacKey, nonce, ciphertext)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func Decrypt(payload string, convKey []byte) (string, error) {
	if len(payload) > 0 && payload[0] == '#' {
		return "", ErrUnknownVersion
	}
	if len(payload) < minPayloadSize || len(payload) > maxPayloadSize {
		return "", ErrPayloadSize
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPayloadSize, err)
	}
	if len(raw) < 99 || len(raw) > 65603 {
		return "", ErrPayloadSize
	}
	if raw[0] != nip44Version {
		return "", ErrUnknownVersion
	}

	nonce := raw[1:33]
	ciphertext := raw[33 : len(raw)-32]
	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(mac(hmacKey, nonce, ciphertext), raw[len(raw)-32:]) {
		return "", ErrInvalidMAC
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	padded := make([]byte, len(ciphertext))
	cipher.XORKeyStream(padded, ciphertext)
	plaintext, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
