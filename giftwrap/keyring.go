package giftwrap

import (
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
)

var ErrKeyRingDiscarded = errors.New("key ring discarded")

// Role names a recipient direction within one order.
type Role string

const (
	RoleSeller   Role = "seller"
	RoleBuyer    Role = "buyer"
	RoleDonation Role = "donation"
)

// KeyRing holds the disposable wrap keys of one order, one per recipient
// direction, so every message to the same party comes from the same key.
type KeyRing struct {
	mu        sync.Mutex
	keys      map[Role]*btcec.PrivateKey
	discarded bool
}

func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[Role]*btcec.PrivateKey)}
}

// Key returns the key for role, generating it on first use.
func (k *KeyRing) Key(role Role) (*btcec.PrivateKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.discarded {
		return nil, ErrKeyRingDiscarded
	}
	if sk, ok := k.keys[role]; ok {
		return sk, nil
	}
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	k.keys[role] = sk
	return sk, nil
}

// Pubkeys returns the public key of every generated role key.
func (k *KeyRing) Pubkeys() map[Role]string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[Role]string, len(k.keys))
	for role, sk := range k.keys {
		out[role] = PubkeyHex(sk)
	}
	return out
}

// Discard wipes all keys. The ring cannot be used afterwards.
func (k *KeyRing) Discard() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for role, sk := range k.keys {
		sk.Zero()
		delete(k.keys, role)
	}
	k.discarded = true
}
