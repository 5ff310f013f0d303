// Package proofledger tracks the proofs of a checkout and splits them
// through the mint wallet without losing or inventing value.
package proofledger

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/elnosh/gonuts/cashu"
	logger "github.com/sirupsen/logrus"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/mintwallet"
)

var (
	ErrConsumed          = errors.New("proofs already consumed by a previous split")
	ErrValueNotConserved = errors.New("split does not conserve value")
	ErrZeroAmount        = errors.New("split amount must be positive")
)

// Remaining is the part of a checkout's proofs that has not been handed
// out yet. Splitting consumes it and yields a new Remaining for the rest.
type Remaining struct {
	proofs   cashu.Proofs
	consumed *atomic.Bool
}

func NewRemaining(proofs cashu.Proofs) Remaining {
	cp := make(cashu.Proofs, len(proofs))
	copy(cp, proofs)
	return Remaining{proofs: cp, consumed: new(atomic.Bool)}
}

func (r Remaining) Amount() uint64 {
	return Sum(r.proofs)
}

// Proofs returns a copy of the proofs.
func (r Remaining) Proofs() cashu.Proofs {
	cp := make(cashu.Proofs, len(r.proofs))
	copy(cp, r.proofs)
	return cp
}

func (r Remaining) Consumed() bool {
	return r.consumed != nil && r.consumed.Load()
}

// Take hands out every proof and consumes r.
func (r Remaining) Take() (cashu.Proofs, error) {
	if r.consumed == nil || !r.consumed.CompareAndSwap(false, true) {
		return nil, ErrConsumed
	}
	return r.Proofs(), nil
}

func Sum(proofs cashu.Proofs) uint64 {
	var total uint64
	for _, p := range proofs {
		total += p.Amount
	}
	return total
}

// Ledger splits proofs through a wallet and checks every split against the
// mint's keyset fee rule.
type Ledger struct {
	wallet mintwallet.Wallet

	mu      sync.Mutex
	keysets map[string]agreement.Keyset
}

func New(wallet mintwallet.Wallet) *Ledger {
	return &Ledger{wallet: wallet}
}

func (l *Ledger) Wallet() mintwallet.Wallet {
	return l.wallet
}

// Split takes exactly amount out of r, paying the mint fee from the rest.
// r is consumed on success; on failure it stays usable.
func (l *Ledger) Split(ctx context.Context, amount uint64, r Remaining) (cashu.Proofs, Remaining, error) {
	if amount == 0 {
		return nil, r, ErrZeroAmount
	}
	if r.consumed == nil || !r.consumed.CompareAndSwap(false, true) {
		return nil, r, ErrConsumed
	}

	input := r.Proofs()
	res, err := l.wallet.Send(ctx, amount, input, true)
	if err != nil {
		r.consumed.Store(false)
		return nil, r, fmt.Errorf("split %d sats: %w", amount, err)
	}

	if err := l.checkConservation(ctx, amount, input, res); err != nil {
		// the mint already swapped; what came back is all there is
		logger.WithFields(logger.Fields{
			"amount": amount,
			"input":  Sum(input),
			"send":   Sum(res.Send),
			"keep":   Sum(res.Keep),
			"fee":    res.Fee,
		}).Error("split result does not add up")
		return nil, NewRemaining(append(res.Send, res.Keep...)), err
	}

	logger.WithFields(logger.Fields{
		"amount": amount,
		"keep":   Sum(res.Keep),
		"fee":    res.Fee,
	}).Debug("proofs split")
	return res.Send, NewRemaining(res.Keep), nil
}

func (l *Ledger) checkConservation(ctx context.Context, amount uint64, input cashu.Proofs, res *agreement.SendResult) error {
	in := Sum(input)
	send := Sum(res.Send)
	keep := Sum(res.Keep)
	if send != amount {
		return fmt.Errorf("%w: send %d, want %d", ErrValueNotConserved, send, amount)
	}
	if send+keep+res.Fee != in {
		return fmt.Errorf("%w: send %d + keep %d + fee %d != input %d", ErrValueNotConserved, send, keep, res.Fee, in)
	}
	maxFee, err := l.MaxFee(ctx, input)
	if err != nil {
		return err
	}
	if res.Fee > maxFee {
		return fmt.Errorf("%w: fee %d above keyset maximum %d", ErrValueNotConserved, res.Fee, maxFee)
	}
	return nil
}

// MaxFee is the fee the mint may charge if it swaps all of proofs:
// ceil(sum(input_fee_ppk) / 1000).
func (l *Ledger) MaxFee(ctx context.Context, proofs cashu.Proofs) (uint64, error) {
	keysets, err := l.loadKeysets(ctx)
	if err != nil {
		return 0, err
	}
	var ppk uint64
	for _, p := range proofs {
		ks, ok := keysets[p.Id]
		if !ok {
			// unknown keyset, refresh once
			l.mu.Lock()
			l.keysets = nil
			l.mu.Unlock()
			if keysets, err = l.loadKeysets(ctx); err != nil {
				return 0, err
			}
			if ks, ok = keysets[p.Id]; !ok {
				return 0, fmt.Errorf("unknown keyset %s", p.Id)
			}
		}
		ppk += ks.InputFeePpk
	}
	return (ppk + 999) / 1000, nil
}

// WithInputFee returns a total that still covers amount after the mint takes
// its input fee for spending proofs worth that total. Proofs are assumed to
// come in power-of-two denominations from the most expensive keyset.
func (l *Ledger) WithInputFee(ctx context.Context, amount uint64) (uint64, error) {
	keysets, err := l.loadKeysets(ctx)
	if err != nil {
		return 0, err
	}
	var ppk uint64
	for _, ks := range keysets {
		if ks.InputFeePpk > ppk {
			ppk = ks.InputFeePpk
		}
	}

	// the fee is bounded by 64 proofs, so total only grows a few times
	total := amount
	for {
		fee := (uint64(bits.OnesCount64(total))*ppk + 999) / 1000
		if total >= amount+fee {
			return total, nil
		}
		total = amount + fee
	}
}

func (l *Ledger) loadKeysets(ctx context.Context) (map[string]agreement.Keyset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keysets != nil {
		return l.keysets, nil
	}
	list, err := l.wallet.GetKeySets(ctx)
	if err != nil {
		return nil, fmt.Errorf("get keysets: %w", err)
	}
	l.keysets = make(map[string]agreement.Keyset, len(list))
	for _, ks := range list {
		l.keysets[ks.Id] = ks
	}
	return l.keysets, nil
}
