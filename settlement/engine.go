// Package settlement divides paid proofs between seller, donation and buyer
// change, paying the seller over Lightning when they ask for it.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/elnosh/gonuts/cashu"
	logger "github.com/sirupsen/logrus"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/common"
	"github.com/shopkit/checkout-go/lnaddress"
	"github.com/shopkit/checkout-go/metrics"
	"github.com/shopkit/checkout-go/proofledger"
)

var (
	// ErrPaymentFailed aborts a checkout before anyone is notified.
	ErrPaymentFailed   = errors.New("payment failed")
	ErrInvalidDonation = errors.New("donation percentage must be between 0 and 100")

	ErrMeltFailed       = errors.New("lightning payout failed, seller paid in ecash")
	ErrLightningSkipped = errors.New("lightning payout not possible, seller paid in ecash")
	ErrUnhanded         = errors.New("proofs could not be handed out, returned as buyer change")
)

type Channel string

const (
	ChannelEcash     Channel = "ecash"
	ChannelLightning Channel = "lightning"
	ChannelStripe    Channel = "stripe"
)

// FiatChannel names a manual fiat provider, e.g. "fiat:venmo".
func FiatChannel(provider string) Channel {
	return Channel("fiat:" + provider)
}

type Config struct {
	// Lightning target is floor(sellerAmount*MeltFeeRatio) - MeltFeeFlat.
	MeltFeeRatio   float64
	MeltFeeFlat    uint64
	DonationPubkey string
}

func DefaultConfig() *Config {
	return &Config{MeltFeeRatio: 0.98, MeltFeeFlat: 2}
}

// Result describes where one seller's share went.
type Result struct {
	OrderId string
	Channel Channel

	// value that reached the seller, as melted sats or token value
	SellerPaid uint64

	// ecash path, or every melt-bound proof when the melt failed.
	// SellerToken is a bearer token and only goes to the seller;
	// SellerRef names the same proofs without making them spendable.
	SellerToken string
	SellerRef   string
	Unmelted    bool

	// stripe payment intent id or fiat provider note
	PaymentRef string

	// lightning path
	Invoice    string
	MeltAmount uint64
	Preimage   string

	// overpaid melt fee returned to the seller
	ChangeToken  string
	ChangeAmount uint64

	DonationToken  string
	DonationAmount uint64
	DonationPubkey string

	Warnings []error
}

// Reference identifies the payment to anyone but the seller. It is never
// spendable.
func (r *Result) Reference() string {
	switch r.Channel {
	case ChannelLightning:
		return r.Invoice
	case ChannelEcash:
		return r.SellerRef
	default:
		return r.PaymentRef
	}
}

// Claim is what the seller's own payment message carries: the token when
// the seller was paid in ecash, otherwise the reference.
func (r *Result) Claim() string {
	if r.SellerToken != "" {
		return r.SellerToken
	}
	return r.Reference()
}

// External describes an order paid outside the mint, e.g. by card.
func External(order *agreement.OrderContext, channel Channel, ref string) *Result {
	return &Result{
		OrderId:    order.OrderId,
		Channel:    channel,
		SellerPaid: order.TotalAmount,
		PaymentRef: ref,
	}
}

// ComputeShares returns ceil(total*pct/100) as the donation and the rest
// as the seller amount. pct is rounded to hundredths of a percent.
func ComputeShares(total uint64, pct float64) (uint64, uint64, error) {
	if pct < 0 || pct > 100 {
		return 0, 0, ErrInvalidDonation
	}
	donation := common.CeilShare(total, common.PercentToHundredths(pct))
	return donation, total - donation, nil
}

// NewOrder fills in the shares of an order and validates it.
func NewOrder(o agreement.OrderContext, profile *agreement.SellerProfile) (*agreement.OrderContext, error) {
	o.DonationPercentage = profile.Donation()
	donation, seller, err := ComputeShares(o.TotalAmount, o.DonationPercentage)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agreement.ErrInvalidOrder, err)
	}
	if seller < 1 {
		return nil, fmt.Errorf("%w: nothing left for the seller after the donation", agreement.ErrInvalidOrder)
	}
	o.DonationAmount, o.SellerAmount = donation, seller
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

type Engine struct {
	cfg      *Config
	ledger   *proofledger.Ledger
	resolver lnaddress.Resolver

	mu      sync.Mutex
	settled map[string]*Result
}

func NewEngine(cfg *Config, ledger *proofledger.Ledger, resolver lnaddress.Resolver) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		cfg:      cfg,
		ledger:   ledger,
		resolver: resolver,
		settled:  make(map[string]*Result),
	}
}

// Settle pays out one order from r and returns what is left for the buyer.
// Settling an order id twice returns the first result and leaves r untouched.
// Once the shares are split off, later problems become warnings and any
// proof that cannot be handed out goes back into the returned Remaining.
func (e *Engine) Settle(
	ctx context.Context,
	order *agreement.OrderContext,
	profile *agreement.SellerProfile,
	r proofledger.Remaining,
) (*Result, proofledger.Remaining, error) {
	if res, ok := e.lookup(order.OrderId); ok {
		return res, r, nil
	}
	if err := order.Validate(); err != nil {
		return nil, r, err
	}

	newLogger := logger.WithFields(logger.Fields{"order": order.OrderId, "seller": common.Shorten(order.SellerPubkey, 6)})
	if r.Amount() < order.TotalAmount {
		return nil, r, fmt.Errorf("%w: have %d sats, order needs %d", ErrPaymentFailed, r.Amount(), order.TotalAmount)
	}

	res := &Result{OrderId: order.OrderId, Channel: ChannelEcash}
	var plan *meltPlan
	if order.SellerAmount > 0 && profile != nil && profile.PaymentPreference == agreement.PreferLightning && profile.Lud16 != "" {
		plan = e.planMelt(ctx, order, profile.Lud16, res)
	}

	// sellerProofs go to the seller as ecash, or are kept next to
	// meltProofs as the part of the share the melt does not need
	var sellerProofs, meltProofs, donationProofs cashu.Proofs
	var err error
	if plan != nil {
		if meltProofs, sellerProofs, r, err = e.splitForMelt(ctx, order.SellerAmount, plan.total, r); err != nil {
			plan = nil
			e.skipLightning(res, order, fmt.Errorf("melt split: %v", err))
		}
	}
	if plan == nil && order.SellerAmount > 0 {
		if sellerProofs, r, err = e.ledger.Split(ctx, order.SellerAmount, r); err != nil {
			return nil, r, fmt.Errorf("%w: seller share: %v", ErrPaymentFailed, err)
		}
	}
	if order.DonationAmount > 0 {
		if donationProofs, r, err = e.ledger.Split(ctx, order.DonationAmount, r); err != nil {
			// the seller share is already split off; give it back to the buyer
			r = giveBack(r, sellerProofs, meltProofs)
			return nil, r, fmt.Errorf("%w: donation share: %v", ErrPaymentFailed, err)
		}
	}

	ecash := sellerProofs
	if plan != nil {
		var change cashu.Proofs
		ecash, change = e.melt(ctx, order, plan, meltProofs, sellerProofs, res)
		if len(change) > 0 {
			if res.ChangeToken, err = proofledger.Encode(e.mintURL(), change); err != nil {
				r = e.unhanded(res, r, change, fmt.Errorf("melt change token: %v", err))
			} else {
				res.ChangeAmount = proofledger.Sum(change)
			}
		}
	}

	if len(ecash) > 0 {
		if res.SellerToken, err = proofledger.Encode(e.mintURL(), ecash); err != nil {
			r = e.unhanded(res, r, ecash, fmt.Errorf("seller token: %v", err))
		} else {
			res.SellerRef = proofledger.Fingerprint(ecash)
			res.SellerPaid = proofledger.Sum(ecash)
		}
	} else if res.Channel == ChannelLightning {
		res.SellerPaid = res.MeltAmount
	}

	if len(donationProofs) > 0 {
		if res.DonationToken, err = proofledger.Encode(e.mintURL(), donationProofs); err != nil {
			r = e.unhanded(res, r, donationProofs, fmt.Errorf("donation token: %v", err))
		} else {
			res.DonationAmount = proofledger.Sum(donationProofs)
			res.DonationPubkey = e.cfg.DonationPubkey
			metrics.SettledSats.WithLabelValues("donation").Add(float64(res.DonationAmount))
		}
	}

	metrics.Settlements.WithLabelValues(string(res.Channel)).Inc()
	metrics.SettledSats.WithLabelValues("seller").Add(float64(res.SellerPaid))
	newLogger.WithFields(logger.Fields{
		"channel":  res.Channel,
		"unmelted": res.Unmelted,
		"change":   r.Amount(),
	}).Info("order settled")

	e.mu.Lock()
	e.settled[order.OrderId] = res
	e.mu.Unlock()
	return res, r, nil
}

// unhanded records why proofs could not be handed out and returns them to
// the buyer's side.
func (e *Engine) unhanded(res *Result, r proofledger.Remaining, proofs cashu.Proofs, reason error) proofledger.Remaining {
	logger.WithFields(logger.Fields{"order": res.OrderId, "sats": proofledger.Sum(proofs)}).Errorf("returning proofs to the buyer: err=%v", reason)
	res.Warnings = append(res.Warnings, fmt.Errorf("%w: %v", ErrUnhanded, reason))
	return giveBack(r, proofs)
}

// giveBack merges held proofs into a fresh Remaining.
func giveBack(r proofledger.Remaining, held ...cashu.Proofs) proofledger.Remaining {
	all := r.Proofs()
	for _, p := range held {
		all = append(all, p...)
	}
	return proofledger.NewRemaining(all)
}

func (e *Engine) lookup(orderId string) (*Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.settled[orderId]
	return res, ok
}

func (e *Engine) mintURL() string {
	return e.ledger.Wallet().MintURL()
}
