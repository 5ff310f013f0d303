package signers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/checkout-go/common"
	"github.com/shopkit/checkout-go/giftwrap"
)

func TestNewLocalSignerFromNsecAndHex(t *testing.T) {
	random, err := NewRandomLocalSigner()
	require.NoError(t, err)

	nsec, err := random.Nsec()
	require.NoError(t, err)
	fromNsec, err := NewLocalSigner(nsec)
	require.NoError(t, err)
	assert.Equal(t, random.Pubkey(), fromNsec.Pubkey())

	hexKey, err := common.NormalizePrivkey(nsec)
	require.NoError(t, err)
	fromHex, err := NewLocalSigner(hexKey)
	require.NoError(t, err)
	assert.Equal(t, random.Pubkey(), fromHex.Pubkey())

	npub, err := random.Npub()
	require.NoError(t, err)
	assert.Contains(t, npub, "npub1")

	_, err = NewLocalSigner("not a key")
	assert.Error(t, err)
}

func TestLocalSignerEncryptDecrypt(t *testing.T) {
	ctx := context.Background()
	alice, err := NewRandomLocalSigner()
	require.NoError(t, err)
	bob, err := NewRandomLocalSigner()
	require.NoError(t, err)

	payload, err := alice.Encrypt(ctx, bob.Pubkey(), "hi bob")
	require.NoError(t, err)
	msg, err := bob.Decrypt(ctx, alice.Pubkey(), payload)
	require.NoError(t, err)
	assert.Equal(t, "hi bob", msg)
}

func TestLocalSignerSignEvent(t *testing.T) {
	s, err := NewRandomLocalSigner()
	require.NoError(t, err)

	ev := &giftwrap.Event{CreatedAt: 1, Kind: giftwrap.KindSeal}
	require.NoError(t, s.SignEvent(context.Background(), ev))
	assert.Equal(t, s.Pubkey(), ev.PubKey)
	assert.NoError(t, ev.Verify())
}
