package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/mintwallet"
)

type memRecorder struct {
	mu     sync.Mutex
	states []agreement.QuoteState
}

func (r *memRecorder) RecordQuote(q *agreement.MintQuote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, q.State)
	return nil
}

func newManager(t *testing.T, sim mintwallet.SimConfig, attempts int) (*Manager, *mintwallet.SimulatedMint, *memRecorder) {
	mint := mintwallet.NewSimulatedMint(sim)
	rec := &memRecorder{}
	cfg := &Config{MaxAttempts: attempts, Interval: time.Millisecond}
	return NewManager(cfg, mint, rec), mint, rec
}

func TestCreateQuoteRejectsZero(t *testing.T) {
	m, _, _ := newManager(t, mintwallet.SimConfig{}, 3)
	_, err := m.CreateQuote(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAwaitPaymentMintsOnThirdPoll(t *testing.T) {
	m, mint, rec := newManager(t, mintwallet.SimConfig{PayAfterChecks: 3}, 40)
	ctx := context.Background()

	q, err := m.CreateQuote(ctx, 1000)
	require.NoError(t, err)

	out, err := m.AwaitPayment(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, out.Warning)
	assert.Equal(t, 3, out.Polls)
	assert.Equal(t, uint64(1000), out.Proofs.Amount())
	assert.Equal(t, 3, mint.CheckCalls(q.Id))
	assert.Equal(t, 1, mint.MintCalls())
	assert.Equal(t, agreement.QuoteIssued, m.State(q.Id))
	assert.Equal(t, []agreement.QuoteState{agreement.QuoteUnpaid, agreement.QuotePaid, agreement.QuoteIssued}, rec.states)
}

func TestAwaitPaymentAlreadyIssued(t *testing.T) {
	m, mint, _ := newManager(t, mintwallet.SimConfig{PayAfterChecks: 1}, 40)
	ctx := context.Background()
	mint.SetMintHook(func(string) error { return mintwallet.ErrAlreadyIssued })

	q, err := m.CreateQuote(ctx, 500)
	require.NoError(t, err)

	out, err := m.AwaitPayment(ctx, q)
	require.NoError(t, err)
	assert.ErrorIs(t, out.Warning, ErrCheckBalance)
	assert.Empty(t, out.Proofs)
}

func TestAwaitPaymentIssuedState(t *testing.T) {
	m, mint, _ := newManager(t, mintwallet.SimConfig{}, 40)
	ctx := context.Background()
	mint.SetCheckHook(func(string, int) (agreement.QuoteState, error) { return agreement.QuoteIssued, nil })

	q, err := m.CreateQuote(ctx, 500)
	require.NoError(t, err)

	out, err := m.AwaitPayment(ctx, q)
	require.NoError(t, err)
	assert.ErrorIs(t, out.Warning, ErrCheckBalance)
	assert.Equal(t, 0, mint.MintCalls())
}

func TestAwaitPaymentTransportErrorIsFatal(t *testing.T) {
	m, mint, _ := newManager(t, mintwallet.SimConfig{}, 40)
	ctx := context.Background()
	mint.SetCheckHook(func(_ string, call int) (agreement.QuoteState, error) {
		if call == 2 {
			return "", mintwallet.ErrTransport
		}
		return "", nil
	})

	q, err := m.CreateQuote(ctx, 500)
	require.NoError(t, err)

	_, err = m.AwaitPayment(ctx, q)
	assert.ErrorIs(t, err, mintwallet.ErrTransport)
	assert.Equal(t, 2, mint.CheckCalls(q.Id))
}

func TestAwaitPaymentRetriesOtherCheckErrors(t *testing.T) {
	m, mint, _ := newManager(t, mintwallet.SimConfig{PayAfterChecks: 2}, 40)
	ctx := context.Background()
	mint.SetCheckHook(func(_ string, call int) (agreement.QuoteState, error) {
		if call == 1 {
			return "", errors.New("connection reset")
		}
		return "", nil
	})

	q, err := m.CreateQuote(ctx, 64)
	require.NoError(t, err)

	out, err := m.AwaitPayment(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Polls)
}

func TestAwaitPaymentOtherMintErrorIsFatal(t *testing.T) {
	m, mint, _ := newManager(t, mintwallet.SimConfig{PayAfterChecks: 1}, 40)
	ctx := context.Background()
	boom := errors.New("keyset rotated")
	mint.SetMintHook(func(string) error { return boom })

	q, err := m.CreateQuote(ctx, 64)
	require.NoError(t, err)

	_, err = m.AwaitPayment(ctx, q)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mint.CheckCalls(q.Id))
}

func TestAwaitPaymentTimeout(t *testing.T) {
	m, mint, _ := newManager(t, mintwallet.SimConfig{}, 5)
	ctx := context.Background()

	q, err := m.CreateQuote(ctx, 100)
	require.NoError(t, err)

	_, err = m.AwaitPayment(ctx, q)
	assert.ErrorIs(t, err, ErrQuoteTimeout)
	assert.Equal(t, 5, mint.CheckCalls(q.Id))
	assert.Equal(t, 0, mint.MintCalls())
}

func TestAwaitPaymentCancel(t *testing.T) {
	mint := mintwallet.NewSimulatedMint(mintwallet.SimConfig{})
	m := NewManager(&Config{MaxAttempts: 1000, Interval: 5 * time.Millisecond}, mint, nil)

	q, err := m.CreateQuote(context.Background(), 100)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = m.AwaitPayment(ctx, q)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, mint.CheckCalls(q.Id), 1000)
	assert.Equal(t, agreement.QuoteUnpaid, m.State(q.Id))

	// the quote is untouched and can still be paid and claimed later
	require.NoError(t, mint.PayQuote(q.Id))
	out, err := m.AwaitPayment(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), out.Proofs.Amount())
}

func TestAwaitPaymentReplay(t *testing.T) {
	m, mint, _ := newManager(t, mintwallet.SimConfig{PayAfterChecks: 1}, 40)
	ctx := context.Background()

	q, err := m.CreateQuote(ctx, 256)
	require.NoError(t, err)

	first, err := m.AwaitPayment(ctx, q)
	require.NoError(t, err)
	second, err := m.AwaitPayment(ctx, q)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, mint.MintCalls())
	assert.Equal(t, 1, mint.CheckCalls(q.Id))
}

func TestObservedStateIsMonotonic(t *testing.T) {
	m, _, rec := newManager(t, mintwallet.SimConfig{}, 1)
	q := &agreement.MintQuote{Id: "q1", Amount: 10}

	for _, st := range []agreement.QuoteState{agreement.QuotePaid, agreement.QuoteUnpaid, agreement.QuoteIssued, agreement.QuotePaid} {
		q.State = st
		m.observe(q)
	}
	assert.Equal(t, agreement.QuoteIssued, m.State("q1"))
	assert.Equal(t, []agreement.QuoteState{agreement.QuotePaid, agreement.QuoteIssued}, rec.states)
}
