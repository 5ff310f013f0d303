package proofledger

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/elnosh/gonuts/cashu"
)

var (
	ErrEmptyToken = errors.New("token has no proofs")
)

var fingerprintTag = []byte("checkout/proofs")

// Encode serializes proofs from mintURL into a single cashu token string.
func Encode(mintURL string, proofs cashu.Proofs) (string, error) {
	if len(proofs) == 0 {
		return "", ErrEmptyToken
	}
	token, err := cashu.NewTokenV4(proofs, mintURL, cashu.Sat, false)
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}
	return token.Serialize()
}

// Decode is the inverse of Encode.
func Decode(token string) (string, cashu.Proofs, error) {
	t, err := cashu.DecodeToken(token)
	if err != nil {
		return "", nil, err
	}
	return t.Mint(), t.Proofs(), nil
}

// Fingerprint names a set of proofs without revealing anything that lets
// the holder of the name spend them.
func Fingerprint(proofs cashu.Proofs) string {
	secrets := make([][]byte, 0, len(proofs))
	for _, p := range proofs {
		secrets = append(secrets, []byte(p.Secret))
	}
	return chainhash.TaggedHash(fingerprintTag, secrets...).String()
}
