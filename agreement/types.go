// Global agreement on types shared by the quote, ledger, settlement and
// notification packages.

package agreement

import (
	"fmt"

	"github.com/elnosh/gonuts/cashu"
)

// QuoteState is the state of a mint quote as reported by the mint.
// The order UNPAID < PAID < ISSUED is never reversed.
type QuoteState string

const (
	QuoteUnpaid QuoteState = "UNPAID"
	QuotePaid   QuoteState = "PAID"
	QuoteIssued QuoteState = "ISSUED"
)

// Rank orders states: UNPAID 0, PAID 1, ISSUED 2.
func (s QuoteState) Rank() int {
	switch s {
	case QuotePaid:
		return 1
	case QuoteIssued:
		return 2
	default:
		return 0
	}
}

// Advance returns the later of s and next.
func (s QuoteState) Advance(next QuoteState) QuoteState {
	if next.Rank() > s.Rank() {
		return next
	}
	if s == "" {
		return QuoteUnpaid
	}
	return s
}

func (s QuoteState) Valid() bool {
	return s == QuoteUnpaid || s == QuotePaid || s == QuoteIssued
}

// MintQuote is a reservation for turning a Lightning payment into proofs.
type MintQuote struct {
	Id      string
	Request string // bolt11 invoice the buyer pays
	Amount  uint64
	State   QuoteState
	Expiry  int64
}

func (q *MintQuote) String() string {
	return fmt.Sprintf("quote=%s amount=%d state=%s", q.Id, q.Amount, q.State)
}

type MeltState string

const (
	MeltUnpaid  MeltState = "UNPAID"
	MeltPending MeltState = "PENDING"
	MeltPaid    MeltState = "PAID"
)

// MeltQuote prices an outgoing Lightning payment.
// Proofs worth Amount + FeeReserve must be provided to melt.
type MeltQuote struct {
	Id         string
	Request    string
	Amount     uint64
	FeeReserve uint64
	State      MeltState
}

func (q *MeltQuote) Needed() uint64 {
	return q.Amount + q.FeeReserve
}

// MeltResult is what the mint returns after a melt attempt.
// An empty Quote means the melt did not go through.
type MeltResult struct {
	Quote    string
	State    MeltState
	Preimage string
	Change   cashu.Proofs
}

func (r *MeltResult) Succeeded() bool {
	return r != nil && r.Quote != ""
}

// Keyset is the public information about a mint keyset that matters
// for fee computation.
type Keyset struct {
	Id          string
	Unit        string
	Active      bool
	InputFeePpk uint64
}

// SendResult is the output of a fee-inclusive wallet split.
type SendResult struct {
	Send cashu.Proofs
	Keep cashu.Proofs
	Fee  uint64 // charged by the mint for the swap, 0 when no swap happened
}
