// This file contains
// LocalSigner, a signer backed by a single private key held in memory.
package signers

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/shopkit/checkout-go/common"
	"github.com/shopkit/checkout-go/giftwrap"
)

var ErrInvalidPrivateKey = errors.New("invalid private key")

var _ giftwrap.Signer = (*LocalSigner)(nil)

// Implementation: local single key signer
type LocalSigner struct {
	sk     *btcec.PrivateKey
	pubkey string

	mu       sync.Mutex
	convKeys map[string][]byte // peer pubkey -> conversation key
}

// Create a signer from an nsec or a 64 character hex private key.
func NewLocalSigner(key string) (*LocalSigner, error) {
	hexKey, err := common.NormalizePrivkey(key)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidPrivateKey
	}
	sk, _ := btcec.PrivKeyFromBytes(raw)
	return newLocalSigner(sk), nil
}

// Create a signer with a fresh random key.
func NewRandomLocalSigner() (*LocalSigner, error) {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return newLocalSigner(sk), nil
}

func newLocalSigner(sk *btcec.PrivateKey) *LocalSigner {
	return &LocalSigner{
		sk:       sk,
		pubkey:   giftwrap.PubkeyHex(sk),
		convKeys: make(map[string][]byte),
	}
}

// Hex encoded x-only public key.
func (ls *LocalSigner) Pubkey() string {
	return ls.pubkey
}

func (ls *LocalSigner) Npub() (string, error) {
	return common.EncodeNpub(ls.pubkey)
}

// Nsec exports the private key. Only used by the demo to print a buyer key.
func (ls *LocalSigner) Nsec() (string, error) {
	return common.EncodeNsec(hex.EncodeToString(ls.sk.Serialize()))
}

func (ls *LocalSigner) SignEvent(ctx context.Context, ev *giftwrap.Event) error {
	return ev.Sign(ls.sk)
}

func (ls *LocalSigner) Encrypt(ctx context.Context, recipientPubkey string, plaintext string) (string, error) {
	key, err := ls.conversationKey(recipientPubkey)
	if err != nil {
		return "", err
	}
	return giftwrap.Encrypt(plaintext, key)
}

func (ls *LocalSigner) Decrypt(ctx context.Context, senderPubkey string, payload string) (string, error) {
	key, err := ls.conversationKey(senderPubkey)
	if err != nil {
		return "", err
	}
	return giftwrap.Decrypt(payload, key)
}

func (ls *LocalSigner) conversationKey(peer string) ([]byte, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if key, ok := ls.convKeys[peer]; ok {
		return key, nil
	}
	key, err := giftwrap.ConversationKey(ls.sk, peer)
	if err != nil {
		return nil, err
	}
	ls.convKeys[peer] = key
	return key, nil
}
