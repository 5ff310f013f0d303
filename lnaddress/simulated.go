package lnaddress

import (
	"context"
	"sync"

	"github.com/shopkit/checkout-go/mintwallet"
)

// SimulatedResolver hands out invoices the simulated mint can melt.
type SimulatedResolver struct {
	mu       sync.Mutex
	fail     error
	requests []uint64
}

func NewSimulatedResolver() *SimulatedResolver {
	return &SimulatedResolver{}
}

// SetError makes every following FetchInvoice fail with err.
func (r *SimulatedResolver) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

// Requests returns the amounts invoices were requested for.
func (r *SimulatedResolver) Requests() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.requests...)
}

func (r *SimulatedResolver) FetchInvoice(ctx context.Context, address string, sats uint64) (string, error) {
	if _, _, err := Split(address); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, sats)
	if r.fail != nil {
		return "", r.fail
	}
	return mintwallet.SimInvoice(sats), nil
}
