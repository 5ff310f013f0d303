// Package quote turns a mint quote into proofs once the buyer has paid.
package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elnosh/gonuts/cashu"
	logger "github.com/sirupsen/logrus"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/metrics"
	"github.com/shopkit/checkout-go/mintwallet"
	"github.com/shopkit/checkout-go/retry"
)

var (
	ErrInvalidAmount = errors.New("amount must be at least 1 sat")
	ErrQuoteTimeout  = errors.New("payment timed out, check your wallet")
	// ErrCheckBalance is a warning: the quote was paid but its proofs were
	// claimed by an earlier attempt.
	ErrCheckBalance = errors.New("payment received but proofs were already claimed, check your balance")

	errUnpaid = errors.New("quote unpaid")
)

type Config struct {
	MaxAttempts int           // polls before giving up
	Interval    time.Duration // wait between polls
}

func DefaultConfig() *Config {
	return &Config{MaxAttempts: 40, Interval: 2100 * time.Millisecond}
}

// Recorder persists quote state changes. Optional.
type Recorder interface {
	RecordQuote(q *agreement.MintQuote) error
}

// Outcome is the result of a successful AwaitPayment.
type Outcome struct {
	Quote   agreement.MintQuote
	Proofs  cashu.Proofs
	Warning error // ErrCheckBalance when proofs were not minted by this call
	Polls   int
}

type Manager struct {
	cfg      *Config
	wallet   mintwallet.Wallet
	recorder Recorder

	mu       sync.Mutex
	observed map[string]agreement.QuoteState
	settled  map[string]*Outcome
}

func NewManager(cfg *Config, wallet mintwallet.Wallet, recorder Recorder) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Manager{
		cfg:      cfg,
		wallet:   wallet,
		recorder: recorder,
		observed: make(map[string]agreement.QuoteState),
		settled:  make(map[string]*Outcome),
	}
}

// CreateQuote asks the mint for a new quote.
func (m *Manager) CreateQuote(ctx context.Context, amount uint64) (*agreement.MintQuote, error) {
	if amount < 1 {
		return nil, ErrInvalidAmount
	}
	q, err := m.wallet.CreateMintQuote(ctx, amount)
	if err != nil {
		return nil, fmt.Errorf("create mint quote: %w", err)
	}
	m.observe(q)
	logger.WithFields(logger.Fields{"quote": q.Id, "amount": amount}).Info("mint quote created")
	return q, nil
}

// State returns the latest state observed for the quote.
func (m *Manager) State(quoteId string) agreement.QuoteState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observed[quoteId]
}

// AwaitPayment polls the quote until proofs are minted, the mint reports
// them as already issued, or the attempts run out.
// Cancelling ctx stops polling; the quote itself is left alone.
func (m *Manager) AwaitPayment(ctx context.Context, q *agreement.MintQuote) (*Outcome, error) {
	if out, ok := m.cached(q.Id); ok {
		logger.WithField("quote", q.Id).Debug("quote already settled, replaying outcome")
		return out, nil
	}

	newLogger := logger.WithField("quote", q.Id)
	policy := retry.Policy{MaxAttempts: m.cfg.MaxAttempts, Backoff: retry.Constant(m.cfg.Interval)}

	var out *Outcome
	polls, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		metrics.QuotePolls.Inc()
		cur, err := m.wallet.CheckMintQuote(ctx, q.Id)
		if err != nil {
			if errors.Is(err, mintwallet.ErrTransport) || errors.Is(err, mintwallet.ErrQuoteNotFound) {
				return retry.Permanent(err)
			}
			newLogger.Warnf("failed to check quote: attempt=%d err=%v", attempt, err)
			return err
		}

		switch m.observe(cur) {
		case agreement.QuotePaid:
			proofs, err := m.wallet.MintProofs(ctx, q.Amount, q.Id)
			if err == nil {
				m.observe(&agreement.MintQuote{Id: q.Id, Amount: q.Amount, Request: q.Request, State: agreement.QuoteIssued})
				out = &Outcome{Quote: *cur, Proofs: proofs}
				out.Quote.State = agreement.QuoteIssued
				return nil
			}
			if errors.Is(err, mintwallet.ErrAlreadyIssued) {
				out = &Outcome{Quote: *cur, Warning: ErrCheckBalance}
				return nil
			}
			return retry.Permanent(fmt.Errorf("mint proofs: %w", err))
		case agreement.QuoteIssued:
			out = &Outcome{Quote: *cur, Warning: ErrCheckBalance}
			return nil
		default:
			return errUnpaid
		}
	})

	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			metrics.QuoteOutcomes.WithLabelValues("cancelled").Inc()
			newLogger.Info("stopped waiting for payment")
			return nil, err
		case errors.Is(err, retry.ErrExhausted):
			metrics.QuoteOutcomes.WithLabelValues("timeout").Inc()
			newLogger.Warnf("payment not detected after %d polls", polls)
			return nil, fmt.Errorf("%w: quote %s after %d polls", ErrQuoteTimeout, q.Id, polls)
		case errors.Is(err, mintwallet.ErrTransport):
			metrics.QuoteOutcomes.WithLabelValues("transport").Inc()
			newLogger.Errorf("mint transport error: err=%v", err)
			return nil, err
		default:
			metrics.QuoteOutcomes.WithLabelValues("error").Inc()
			newLogger.Errorf("failed to await payment: err=%v", err)
			return nil, err
		}
	}

	out.Polls = polls
	if out.Warning != nil {
		metrics.QuoteOutcomes.WithLabelValues("already_issued").Inc()
		newLogger.Warn("quote was already issued, proofs must be in a previous session")
	} else {
		metrics.QuoteOutcomes.WithLabelValues("minted").Inc()
		newLogger.WithField("polls", polls).Info("proofs minted")
	}

	m.mu.Lock()
	m.settled[q.Id] = out
	m.mu.Unlock()
	return out, nil
}

func (m *Manager) cached(quoteId string) (*Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.settled[quoteId]
	return out, ok
}

// observe records q's state and returns the latest state seen so far.
// A state older than one already observed is ignored.
func (m *Manager) observe(q *agreement.MintQuote) agreement.QuoteState {
	m.mu.Lock()
	prev, seen := m.observed[q.Id]
	next := prev.Advance(q.State)
	m.observed[q.Id] = next
	m.mu.Unlock()

	if seen && prev == next {
		return next
	}
	if m.recorder != nil {
		rec := *q
		rec.State = next
		if err := m.recorder.RecordQuote(&rec); err != nil {
			logger.WithField("quote", q.Id).Errorf("failed to record quote state: err=%v", err)
		}
	}
	return next
}
