package giftwrap

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyFromHex(t *testing.T, s string) *btcec.PrivateKey {
	raw, err := hex.DecodeString(s)
	require.NoError(t, err)
	sk, _ := btcec.PrivKeyFromBytes(raw)
	return sk
}

const (
	sec1 = "0000000000000000000000000000000000000000000000000000000000000001"
	sec2 = "0000000000000000000000000000000000000000000000000000000000000002"
)

func TestConversationKeyVector(t *testing.T) {
	a, b := keyFromHex(t, sec1), keyFromHex(t, sec2)

	ab, err := ConversationKey(a, PubkeyHex(b))
	require.NoError(t, err)
	ba, err := ConversationKey(b, PubkeyHex(a))
	require.NoError(t, err)

	assert.Equal(t, "c41c775356fd92eadc63ff5a0dc1da211b268cbea22316767095b2871ea1412d", hex.EncodeToString(ab))
	assert.Equal(t, ab, ba)
}

func TestEncryptVector(t *testing.T) {
	a, b := keyFromHex(t, sec1), keyFromHex(t, sec2)
	convKey, err := ConversationKey(a, PubkeyHex(b))
	require.NoError(t, err)

	nonce, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	payload, err := encryptWithNonce("a", convKey, nonce)
	require.NoError(t, err)
	assert.Equal(t, "AgAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABee0G5VSK0/9YypIObAtDKfYEAjD35uVkHyB0F4DwrcNaCXlCWZKaArsGrY6M9wnuTMxWfp1RTN9Xga8no+kF5Vsb", payload)

	plaintext, err := Decrypt(payload, convKey)
	require.NoError(t, err)
	assert.Equal(t, "a", plaintext)
}

func TestCalcPaddedLen(t *testing.T) {
	cases := map[int]int{
		1: 32, 16: 32, 32: 32, 33: 64, 37: 64, 64: 64, 65: 96, 100: 128,
		200: 224, 250: 256, 320: 320, 383: 384, 400: 448, 515: 640,
		700: 768, 800: 896, 900: 1024, 1020: 1024, 65535: 65536,
	}
	for n, want := range cases {
		assert.Equal(t, want, calcPaddedLen(n), n)
	}
}

func TestEncryptRoundTripSizes(t *testing.T) {
	convKey := make([]byte, 32)
	convKey[31] = 7

	for _, n := range []int{1, 31, 32, 33, 300, 4000, 65535} {
		msg := strings.Repeat("x", n)
		payload, err := Encrypt(msg, convKey)
		require.NoError(t, err)
		out, err := Decrypt(payload, convKey)
		require.NoError(t, err)
		assert.Equal(t, msg, out)
	}

	_, err := Encrypt("", convKey)
	assert.ErrorIs(t, err, ErrPlaintextSize)
	_, err = Encrypt(strings.Repeat("x", 65536), convKey)
	assert.ErrorIs(t, err, ErrPlaintextSize)
}

func TestDecryptRejectsTampering(t *testing.T) {
	convKey := make([]byte, 32)
	payload, err := Encrypt("order 42 paid", convKey)
	require.NoError(t, err)

	// flip one ciphertext character well inside the payload
	b := []byte(payload)
	if b[60] == 'A' {
		b[60] = 'B'
	} else {
		b[60] = 'A'
	}
	_, err = Decrypt(string(b), convKey)
	assert.ErrorIs(t, err, ErrInvalidMAC)

	_, err = Decrypt("#"+payload[1:], convKey)
	assert.ErrorIs(t, err, ErrUnknownVersion)

	_, err = Decrypt("AgAA", convKey)
	assert.ErrorIs(t, err, ErrPayloadSize)
}

func TestEventSignVerify(t *testing.T) {
	sk := keyFromHex(t, sec1)
	ev := &Event{CreatedAt: 1700000000, Kind: KindChatMessage, Content: "hello <b>&</b>"}
	require.NoError(t, ev.Sign(sk))
	assert.Len(t, ev.ID, 64)
	assert.Len(t, ev.Sig, 128)
	assert.NoError(t, ev.Verify())

	ser, err := ev.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(ser), `"hello <b>&</b>"`)
	assert.Contains(t, string(ser), `,[],`)

	ev.Content = "changed"
	assert.ErrorIs(t, ev.Verify(), ErrInvalidID)
}

func TestKeyRing(t *testing.T) {
	kr := NewKeyRing()
	a, err := kr.Key(RoleSeller)
	require.NoError(t, err)
	b, err := kr.Key(RoleSeller)
	require.NoError(t, err)
	c, err := kr.Key(RoleBuyer)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotEqual(t, PubkeyHex(a), PubkeyHex(c))
	assert.Len(t, kr.Pubkeys(), 2)

	kr.Discard()
	_, err = kr.Key(RoleSeller)
	assert.ErrorIs(t, err, ErrKeyRingDiscarded)
	assert.Empty(t, kr.Pubkeys())
}
