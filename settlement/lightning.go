package settlement

import (
	"context"
	"fmt"

	"github.com/elnosh/gonuts/cashu"
	logger "github.com/sirupsen/logrus"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/common"
	"github.com/shopkit/checkout-go/metrics"
	"github.com/shopkit/checkout-go/proofledger"
)

// meltPlan is a lightning payout that is ready to go once proofs worth
// total are split off.
type meltPlan struct {
	address string
	invoice string
	quote   *agreement.MeltQuote
	// quote amount + fee reserve + the input fee of the melt proofs
	total uint64
}

func (e *Engine) skipLightning(res *Result, order *agreement.OrderContext, reason error) {
	logger.WithField("order", order.OrderId).Warnf("paying seller in ecash: err=%v", reason)
	res.Warnings = append(res.Warnings, fmt.Errorf("%w: %v", ErrLightningSkipped, reason))
}

// planMelt fetches an invoice from the seller's lightning address and a
// melt quote for it. No proofs are touched. It returns nil when the seller
// has to be paid in ecash instead.
func (e *Engine) planMelt(ctx context.Context, order *agreement.OrderContext, address string, res *Result) *meltPlan {
	target := common.FeeEstimate(order.SellerAmount, e.cfg.MeltFeeRatio, e.cfg.MeltFeeFlat)
	if target < 1 {
		e.skipLightning(res, order, fmt.Errorf("%d sats too small to melt", order.SellerAmount))
		return nil
	}
	if e.resolver == nil {
		e.skipLightning(res, order, fmt.Errorf("no lightning resolver"))
		return nil
	}

	invoice, err := e.resolver.FetchInvoice(ctx, address, target)
	if err != nil {
		e.skipLightning(res, order, fmt.Errorf("fetch invoice: %v", err))
		return nil
	}
	mq, err := e.ledger.Wallet().CreateMeltQuote(ctx, invoice)
	if err != nil {
		e.skipLightning(res, order, fmt.Errorf("melt quote: %v", err))
		return nil
	}
	total, err := e.ledger.WithInputFee(ctx, mq.Needed())
	if err != nil {
		e.skipLightning(res, order, fmt.Errorf("melt input fee: %v", err))
		return nil
	}
	if total > order.SellerAmount {
		e.skipLightning(res, order, fmt.Errorf("melt needs %d sats with fees, seller share is %d", total, order.SellerAmount))
		return nil
	}
	return &meltPlan{address: address, invoice: invoice, quote: mq, total: total}
}

// splitForMelt takes the seller share out of r as two parts: proofs worth
// exactly meltTotal and the rest of the share. Split fees come out of r,
// so together the parts are always worth sellerAmount.
func (e *Engine) splitForMelt(ctx context.Context, sellerAmount, meltTotal uint64, r proofledger.Remaining) (cashu.Proofs, cashu.Proofs, proofledger.Remaining, error) {
	melt, rest, err := e.ledger.Split(ctx, meltTotal, r)
	if err != nil {
		return nil, nil, rest, err
	}
	if sellerAmount == meltTotal {
		return melt, nil, rest, nil
	}
	keep, after, err := e.ledger.Split(ctx, sellerAmount-meltTotal, rest)
	if err != nil {
		return nil, nil, giveBack(after, melt), err
	}
	return melt, keep, after, nil
}

// melt pays the plan's invoice with meltProofs. On success it returns no
// ecash and the proofs owed to the seller as fee change: keep plus the
// mint's melt change. On failure every proof of the share comes back as
// ecash for the seller.
func (e *Engine) melt(
	ctx context.Context,
	order *agreement.OrderContext,
	plan *meltPlan,
	meltProofs cashu.Proofs,
	keep cashu.Proofs,
	res *Result,
) (cashu.Proofs, cashu.Proofs) {
	newLogger := logger.WithFields(logger.Fields{"order": order.OrderId, "address": plan.address})
	fallback := func(reason error, extra cashu.Proofs) (cashu.Proofs, cashu.Proofs) {
		unmelted := make(cashu.Proofs, 0, len(keep)+len(meltProofs)+len(extra))
		unmelted = append(unmelted, keep...)
		unmelted = append(unmelted, meltProofs...)
		unmelted = append(unmelted, extra...)

		metrics.MeltFallbacks.Inc()
		newLogger.WithField("sats", proofledger.Sum(unmelted)).Errorf("melt failed, sending unmelted proofs: err=%v", reason)
		res.Unmelted = true
		res.Warnings = append(res.Warnings, fmt.Errorf("%w: %v", ErrMeltFailed, reason))
		return unmelted, nil
	}

	// the split may have produced more proofs than planned for
	fee, err := e.ledger.MaxFee(ctx, meltProofs)
	if err != nil {
		return fallback(fmt.Errorf("melt input fee: %v", err), nil)
	}
	if have := proofledger.Sum(meltProofs); have < plan.quote.Needed()+fee {
		return fallback(fmt.Errorf("melt needs %d sats, have %d", plan.quote.Needed()+fee, have), nil)
	}

	melt, err := e.ledger.Wallet().MeltProofs(ctx, plan.quote, meltProofs)
	if err != nil || !melt.Succeeded() {
		if err == nil {
			err = fmt.Errorf("mint returned no quote")
		}
		var change cashu.Proofs
		if melt != nil {
			change = melt.Change
		}
		return fallback(err, change)
	}

	res.Channel = ChannelLightning
	res.Invoice = plan.invoice
	res.MeltAmount = plan.quote.Amount
	res.Preimage = melt.Preimage

	change := make(cashu.Proofs, 0, len(keep)+len(melt.Change))
	change = append(change, keep...)
	change = append(change, melt.Change...)

	newLogger.WithFields(logger.Fields{
		"paid":   plan.quote.Amount,
		"change": proofledger.Sum(change),
	}).Info("seller paid over lightning")
	return nil, change
}
