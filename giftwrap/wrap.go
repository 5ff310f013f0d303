package giftwrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// twoDays bounds how far seal and wrap timestamps are pushed into the past.
const twoDays = 2 * 24 * 60 * 60

var (
	ErrWrongKind       = errors.New("unexpected event kind")
	ErrAuthorMismatch  = errors.New("rumor author does not match seal signer")
	ErrNotForRecipient = errors.New("wrap is addressed to another recipient")
)

// Signer holds a real identity. The key itself never leaves it.
type Signer interface {
	Pubkey() string
	SignEvent(ctx context.Context, ev *Event) error
	Encrypt(ctx context.Context, recipientPubkey string, plaintext string) (string, error)
	Decrypt(ctx context.Context, senderPubkey string, payload string) (string, error)
}

// NewRumor builds an unsigned event with its id set.
func NewRumor(pubkey string, kind int, content string, tags []Tag) (*Event, error) {
	ev := &Event{
		PubKey:    pubkey,
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if ev.Tags == nil {
		ev.Tags = []Tag{}
	}
	if err := ev.SetID(); err != nil {
		return nil, err
	}
	return ev, nil
}

func randomPast() int64 {
	return time.Now().Unix() - rand.Int63n(twoDays)
}

// Seal encrypts rumor to recipient and signs the result as signer.
func Seal(ctx context.Context, signer Signer, rumor *Event, recipient string) (*Event, error) {
	if rumor.PubKey != signer.Pubkey() {
		return nil, ErrAuthorMismatch
	}
	rumor.Sig = ""
	raw, err := json.Marshal(rumor)
	if err != nil {
		return nil, err
	}
	content, err := signer.Encrypt(ctx, recipient, string(raw))
	if err != nil {
		return nil, fmt.Errorf("encrypt rumor: %w", err)
	}
	seal := &Event{
		CreatedAt: randomPast(),
		Kind:      KindSeal,
		Tags:      []Tag{},
		Content:   content,
	}
	if err := signer.SignEvent(ctx, seal); err != nil {
		return nil, fmt.Errorf("sign seal: %w", err)
	}
	return seal, nil
}

// Wrap encrypts seal under ephemeral and addresses it to recipient.
// Only the sender side is single-use: the wrap is signed by ephemeral, but
// its "p" tag carries the recipient's real pubkey so relays can route it,
// as NIP-59 requires. The recipient decrypts with their long-lived key.
func Wrap(seal *Event, ephemeral *btcec.PrivateKey, recipient string) (*Event, error) {
	if seal.Kind != KindSeal {
		return nil, ErrWrongKind
	}
	convKey, err := ConversationKey(ephemeral, recipient)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(seal)
	if err != nil {
		return nil, err
	}
	content, err := Encrypt(string(raw), convKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt seal: %w", err)
	}
	wrap := &Event{
		CreatedAt: randomPast(),
		Kind:      KindGiftWrap,
		Tags:      []Tag{{"p", recipient}},
		Content:   content,
	}
	if err := wrap.Sign(ephemeral); err != nil {
		return nil, err
	}
	return wrap, nil
}

// Unwrap returns the verified seal inside wrap.
func Unwrap(ctx context.Context, recipient Signer, wrap *Event) (*Event, error) {
	if wrap.Kind != KindGiftWrap {
		return nil, ErrWrongKind
	}
	if p := wrap.TagValue("p"); p != "" && p != recipient.Pubkey() {
		return nil, ErrNotForRecipient
	}
	if err := wrap.Verify(); err != nil {
		return nil, fmt.Errorf("wrap: %w", err)
	}
	raw, err := recipient.Decrypt(ctx, wrap.PubKey, wrap.Content)
	if err != nil {
		return nil, fmt.Errorf("decrypt wrap: %w", err)
	}
	var seal Event
	if err := json.Unmarshal([]byte(raw), &seal); err != nil {
		return nil, err
	}
	if seal.Kind != KindSeal {
		return nil, ErrWrongKind
	}
	if err := seal.Verify(); err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return &seal, nil
}

// Open unwraps and unseals wrap, returning the rumor.
func Open(ctx context.Context, recipient Signer, wrap *Event) (*Event, error) {
	seal, err := Unwrap(ctx, recipient, wrap)
	if err != nil {
		return nil, err
	}
	raw, err := recipient.Decrypt(ctx, seal.PubKey, seal.Content)
	if err != nil {
		return nil, fmt.Errorf("decrypt seal: %w", err)
	}
	var rumor Event
	if err := json.Unmarshal([]byte(raw), &rumor); err != nil {
		return nil, err
	}
	if rumor.PubKey != seal.PubKey {
		return nil, ErrAuthorMismatch
	}
	if err := rumor.CheckID(); err != nil {
		return nil, err
	}
	return &rumor, nil
}

// SealAndWrap is the sending side in one call.
func SealAndWrap(ctx context.Context, signer Signer, rumor *Event, ephemeral *btcec.PrivateKey, recipient string) (*Event, error) {
	seal, err := Seal(ctx, signer, rumor, recipient)
	if err != nil {
		return nil, err
	}
	return Wrap(seal, ephemeral, recipient)
}
