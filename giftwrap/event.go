// Package giftwrap builds sealed and gift wrapped order messages.
//
// A rumor (unsigned kind 14 event) is encrypted to the recipient and signed
// by the sender (seal, kind 13). The seal is then encrypted again under a
// disposable key (wrap, kind 1059) so relays only ever see the disposable
// key as the author.
package giftwrap

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	KindSeal        = 13
	KindChatMessage = 14
	KindGiftWrap    = 1059
)

var (
	ErrInvalidID        = errors.New("event id does not match content")
	ErrInvalidSignature = errors.New("invalid event signature")
	ErrInvalidPubkey    = errors.New("invalid pubkey")
)

type Tag []string

type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig,omitempty"`
}

// Serialize returns the canonical form the id is computed over:
// [0, pubkey, created_at, kind, tags, content].
func (ev *Event) Serialize() ([]byte, error) {
	tags := ev.Tags
	if tags == nil {
		tags = []Tag{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]interface{}{0, ev.PubKey, ev.CreatedAt, ev.Kind, tags, ev.Content}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (ev *Event) Hash() ([]byte, error) {
	b, err := ev.Serialize()
	if err != nil {
		return nil, err
	}
	return chainhash.HashB(b), nil
}

// SetID computes and stores the event id.
func (ev *Event) SetID() error {
	h, err := ev.Hash()
	if err != nil {
		return err
	}
	ev.ID = hex.EncodeToString(h)
	return nil
}

func (ev *Event) CheckID() error {
	h, err := ev.Hash()
	if err != nil {
		return err
	}
	if hex.EncodeToString(h) != ev.ID {
		return ErrInvalidID
	}
	return nil
}

// Sign sets pubkey, id and signature using sk.
func (ev *Event) Sign(sk *btcec.PrivateKey) error {
	ev.PubKey = PubkeyHex(sk)
	if err := ev.SetID(); err != nil {
		return err
	}
	id, _ := hex.DecodeString(ev.ID)
	sig, err := schnorr.Sign(sk, id)
	if err != nil {
		return err
	}
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

func (ev *Event) Verify() error {
	if err := ev.CheckID(); err != nil {
		return err
	}
	pk, err := ParsePubkey(ev.PubKey)
	if err != nil {
		return err
	}
	raw, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sig, err := schnorr.ParseSignature(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	id, _ := hex.DecodeString(ev.ID)
	if !sig.Verify(id, pk) {
		return ErrInvalidSignature
	}
	return nil
}

// TagValue returns the first value of the first tag named name.
func (ev *Event) TagValue(name string) string {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// PubkeyHex is the x-only public key of sk, hex encoded.
func PubkeyHex(sk *btcec.PrivateKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(sk.PubKey()))
}

func ParsePubkey(pubkey string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubkey)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPubkey, pubkey)
	}
	pk, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	return pk, nil
}
