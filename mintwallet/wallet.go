// Package mintwallet defines the mint wallet capability the checkout
// depends on. Blind signing happens behind this interface.
package mintwallet

import (
	"context"
	"errors"

	"github.com/elnosh/gonuts/cashu"

	"github.com/shopkit/checkout-go/agreement"
)

var (
	// ErrAlreadyIssued is returned by MintProofs when proofs for the quote
	// were handed out before.
	ErrAlreadyIssued = errors.New("quote already issued")

	// ErrTransport covers responses that cannot be understood, typically a
	// wrong mint url. Waiting does not fix it.
	ErrTransport = errors.New("mint transport error")

	ErrQuoteNotFound     = errors.New("quote not found")
	ErrQuoteNotPaid      = errors.New("quote not paid")
	ErrInsufficientFunds = errors.New("insufficient proofs")
	ErrProofSpent        = errors.New("proof already spent or unknown")
	ErrInvalidInvoice    = errors.New("invalid invoice")
	ErrAmountMismatch    = errors.New("amount does not match quote")
)

// Wallet is the mint wallet api used by the checkout pipeline.
type Wallet interface {
	MintURL() string

	// Request a new mint quote. The returned Request is the invoice the buyer pays.
	CreateMintQuote(ctx context.Context, amount uint64) (*agreement.MintQuote, error)

	// Fetch the current state of a mint quote.
	CheckMintQuote(ctx context.Context, quoteId string) (*agreement.MintQuote, error)

	// Mint proofs for a paid quote. Returns ErrAlreadyIssued if the
	// proofs were already claimed.
	MintProofs(ctx context.Context, amount uint64, quoteId string) (cashu.Proofs, error)

	// Split proofs so that Send sums to exactly amount. With includeFees the
	// swap fee is paid out of Keep.
	Send(ctx context.Context, amount uint64, proofs cashu.Proofs, includeFees bool) (*agreement.SendResult, error)

	CreateMeltQuote(ctx context.Context, invoice string) (*agreement.MeltQuote, error)

	// Melt proofs to pay the quote's invoice. A result without Quote means
	// the payment did not happen and the proofs are still spendable.
	MeltProofs(ctx context.Context, quote *agreement.MeltQuote, proofs cashu.Proofs) (*agreement.MeltResult, error)

	GetKeySets(ctx context.Context) ([]agreement.Keyset, error)
}
