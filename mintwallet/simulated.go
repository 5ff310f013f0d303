package mintwallet

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/elnosh/gonuts/cashu"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/common"
)

const simInvoicePrefix = "lnsim1"

// SimInvoice builds an invoice string the simulated mint can melt.
func SimInvoice(sats uint64) string {
	return fmt.Sprintf("%s%ds%s", simInvoicePrefix, sats, common.RandHex(16))
}

func parseSimInvoice(invoice string) (uint64, error) {
	if !strings.HasPrefix(invoice, simInvoicePrefix) {
		return 0, ErrInvalidInvoice
	}
	rest := strings.TrimPrefix(invoice, simInvoicePrefix)
	idx := strings.IndexByte(rest, 's')
	if idx <= 0 {
		return 0, ErrInvalidInvoice
	}
	amount, err := strconv.ParseUint(rest[:idx], 10, 64)
	if err != nil || amount == 0 {
		return 0, ErrInvalidInvoice
	}
	return amount, nil
}

type SimConfig struct {
	URL         string
	InputFeePpk uint64
	// Defaults to a random hex id.
	KeysetId string
	// Quotes switch to PAID on this check call. 0 leaves them unpaid
	// until PayQuote is called.
	PayAfterChecks int
}

// SimulatedMint is an in-memory mint for tests and demos. Proof secrets are
// tracked so double spends are rejected like a real mint would.
type SimulatedMint struct {
	mu     sync.Mutex
	cfg    SimConfig
	keyset agreement.Keyset

	quotes map[string]*agreement.MintQuote
	melts  map[string]*agreement.MeltQuote
	valid  map[string]uint64 // unspent secret -> amount
	spent  map[string]bool

	checkCalls map[string]int
	mintCalls  int
	meltCalls  int

	checkHook func(quoteId string, call int) (agreement.QuoteState, error)
	mintHook  func(quoteId string) error
	meltHook  func(q *agreement.MeltQuote) bool
	meltFee   func(reserve uint64) uint64
}

var _ Wallet = (*SimulatedMint)(nil)

func NewSimulatedMint(cfg SimConfig) *SimulatedMint {
	if cfg.URL == "" {
		cfg.URL = "https://mint.simulated.local"
	}
	if cfg.KeysetId == "" {
		cfg.KeysetId = "00" + common.RandHex(7)
	}
	return &SimulatedMint{
		cfg: cfg,
		keyset: agreement.Keyset{
			Id:          cfg.KeysetId,
			Unit:        "sat",
			Active:      true,
			InputFeePpk: cfg.InputFeePpk,
		},
		quotes:     make(map[string]*agreement.MintQuote),
		melts:      make(map[string]*agreement.MeltQuote),
		valid:      make(map[string]uint64),
		spent:      make(map[string]bool),
		checkCalls: make(map[string]int),
		meltFee:    func(reserve uint64) uint64 { return reserve / 2 },
	}
}

// SetCheckHook overrides the state returned on each check call.
// Returning an empty state keeps the mint's own answer.
func (m *SimulatedMint) SetCheckHook(f func(quoteId string, call int) (agreement.QuoteState, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkHook = f
}

// SetMintHook makes MintProofs fail with the returned error when non-nil.
func (m *SimulatedMint) SetMintHook(f func(quoteId string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mintHook = f
}

// SetMeltHook decides whether a melt goes through.
func (m *SimulatedMint) SetMeltHook(f func(q *agreement.MeltQuote) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meltHook = f
}

// SetMeltFee sets the routing fee actually charged out of the fee reserve.
func (m *SimulatedMint) SetMeltFee(f func(reserve uint64) uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meltFee = f
}

// PayQuote marks a quote as paid, as if the buyer paid the invoice.
func (m *SimulatedMint) PayQuote(quoteId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[quoteId]
	if !ok {
		return ErrQuoteNotFound
	}
	q.State = q.State.Advance(agreement.QuotePaid)
	return nil
}

func (m *SimulatedMint) CheckCalls(quoteId string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkCalls[quoteId]
}

func (m *SimulatedMint) MintCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mintCalls
}

func (m *SimulatedMint) MeltCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meltCalls
}

// Unspent reports whether every proof is known to the mint and unspent.
func (m *SimulatedMint) Unspent(proofs cashu.Proofs) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range proofs {
		if amt, ok := m.valid[p.Secret]; !ok || amt != p.Amount {
			return false
		}
	}
	return true
}

func (m *SimulatedMint) MintURL() string {
	return m.cfg.URL
}

func (m *SimulatedMint) CreateMintQuote(ctx context.Context, amount uint64) (*agreement.MintQuote, error) {
	if amount == 0 {
		return nil, ErrAmountMismatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q := &agreement.MintQuote{
		Id:      common.RandHex(16),
		Request: SimInvoice(amount),
		Amount:  amount,
		State:   agreement.QuoteUnpaid,
	}
	m.quotes[q.Id] = q
	cp := *q
	return &cp, nil
}

func (m *SimulatedMint) CheckMintQuote(ctx context.Context, quoteId string) (*agreement.MintQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkCalls[quoteId]++
	call := m.checkCalls[quoteId]

	q, ok := m.quotes[quoteId]
	if !ok {
		return nil, ErrQuoteNotFound
	}
	if m.cfg.PayAfterChecks > 0 && call >= m.cfg.PayAfterChecks {
		q.State = q.State.Advance(agreement.QuotePaid)
	}

	cp := *q
	if m.checkHook != nil {
		st, err := m.checkHook(quoteId, call)
		if err != nil {
			return nil, err
		}
		if st != "" {
			cp.State = st
		}
	}
	return &cp, nil
}

func (m *SimulatedMint) MintProofs(ctx context.Context, amount uint64, quoteId string) (cashu.Proofs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mintCalls++

	q, ok := m.quotes[quoteId]
	if !ok {
		return nil, ErrQuoteNotFound
	}
	if m.mintHook != nil {
		if err := m.mintHook(quoteId); err != nil {
			return nil, err
		}
	}
	switch q.State {
	case agreement.QuoteIssued:
		return nil, ErrAlreadyIssued
	case agreement.QuoteUnpaid:
		return nil, ErrQuoteNotPaid
	}
	if amount != q.Amount {
		return nil, ErrAmountMismatch
	}

	q.State = agreement.QuoteIssued
	return m.issue(amount), nil
}

func (m *SimulatedMint) Send(ctx context.Context, amount uint64, proofs cashu.Proofs, includeFees bool) (*agreement.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount == 0 {
		return nil, ErrAmountMismatch
	}
	if err := m.checkUnspent(proofs); err != nil {
		return nil, err
	}

	sorted := make(cashu.Proofs, len(proofs))
	copy(sorted, proofs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })

	var selected, rest cashu.Proofs
	var sum uint64
	for i, p := range sorted {
		fee := uint64(0)
		if includeFees {
			fee = m.inputFee(len(selected))
		}
		if sum >= amount+fee && len(selected) > 0 {
			rest = append(rest, sorted[i:]...)
			break
		}
		selected = append(selected, p)
		sum += p.Amount
	}

	fee := m.inputFee(len(selected))
	if sum < amount+fee {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, amount+fee, sum)
	}

	// exact match, nothing to swap
	if sum == amount && fee == 0 {
		return &agreement.SendResult{Send: selected, Keep: rest}, nil
	}

	for _, p := range selected {
		m.spend(p)
	}
	send := m.issue(amount)
	keep := append(rest, m.issue(sum-amount-fee)...)
	return &agreement.SendResult{Send: send, Keep: keep, Fee: fee}, nil
}

func (m *SimulatedMint) CreateMeltQuote(ctx context.Context, invoice string) (*agreement.MeltQuote, error) {
	amount, err := parseSimInvoice(invoice)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	reserve := (amount + 99) / 100
	if reserve < 2 {
		reserve = 2
	}
	q := &agreement.MeltQuote{
		Id:         common.RandHex(16),
		Request:    invoice,
		Amount:     amount,
		FeeReserve: reserve,
		State:      agreement.MeltUnpaid,
	}
	m.melts[q.Id] = q
	cp := *q
	return &cp, nil
}

func (m *SimulatedMint) MeltProofs(ctx context.Context, quote *agreement.MeltQuote, proofs cashu.Proofs) (*agreement.MeltResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meltCalls++

	q, ok := m.melts[quote.Id]
	if !ok {
		return nil, ErrQuoteNotFound
	}
	if m.meltHook != nil && !m.meltHook(q) {
		return &agreement.MeltResult{State: agreement.MeltUnpaid}, nil
	}
	if err := m.checkUnspent(proofs); err != nil {
		return nil, err
	}
	inputFee := m.inputFee(len(proofs))
	sum := proofs.Amount()
	if sum < q.Needed()+inputFee {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, q.Needed()+inputFee, sum)
	}

	routing := m.meltFee(q.FeeReserve)
	if routing > q.FeeReserve {
		routing = q.FeeReserve
	}
	for _, p := range proofs {
		m.spend(p)
	}
	q.State = agreement.MeltPaid

	return &agreement.MeltResult{
		Quote:    q.Id,
		State:    agreement.MeltPaid,
		Preimage: common.RandHex(32),
		Change:   m.issue(sum - q.Amount - routing - inputFee),
	}, nil
}

func (m *SimulatedMint) GetKeySets(ctx context.Context) ([]agreement.Keyset, error) {
	return []agreement.Keyset{m.keyset}, nil
}

// inputFee follows the keyset fee rule: ceil(n * ppk / 1000).
func (m *SimulatedMint) inputFee(n int) uint64 {
	return (uint64(n)*m.keyset.InputFeePpk + 999) / 1000
}

func (m *SimulatedMint) checkUnspent(proofs cashu.Proofs) error {
	seen := make(map[string]bool, len(proofs))
	for _, p := range proofs {
		amt, ok := m.valid[p.Secret]
		if !ok || amt != p.Amount || seen[p.Secret] {
			return ErrProofSpent
		}
		seen[p.Secret] = true
	}
	return nil
}

func (m *SimulatedMint) spend(p cashu.Proof) {
	delete(m.valid, p.Secret)
	m.spent[p.Secret] = true
}

// issue creates fresh proofs in power-of-two denominations.
func (m *SimulatedMint) issue(amount uint64) cashu.Proofs {
	var proofs cashu.Proofs
	for bit := uint64(1); amount > 0; bit <<= 1 {
		if amount&bit == 0 {
			continue
		}
		amount &^= bit
		p := cashu.Proof{
			Amount: bit,
			Id:     m.keyset.Id,
			Secret: common.RandHex(32),
			C:      "02" + common.RandHex(32),
		}
		m.valid[p.Secret] = p.Amount
		proofs = append(proofs, p)
	}
	return proofs
}
