package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/common"
	"github.com/shopkit/checkout-go/lnaddress"
	"github.com/shopkit/checkout-go/mintwallet"
	"github.com/shopkit/checkout-go/proofledger"
)

var donationPubkey = common.RandHex(32)

type testEnv struct {
	engine   *Engine
	mint     *mintwallet.SimulatedMint
	resolver *lnaddress.SimulatedResolver
}

func newTestEnv(t *testing.T, sim mintwallet.SimConfig) *testEnv {
	mint := mintwallet.NewSimulatedMint(sim)
	resolver := lnaddress.NewSimulatedResolver()
	cfg := DefaultConfig()
	cfg.DonationPubkey = donationPubkey
	return &testEnv{
		engine:   NewEngine(cfg, proofledger.New(mint), resolver),
		mint:     mint,
		resolver: resolver,
	}
}

func (env *testEnv) fund(t *testing.T, amount uint64) proofledger.Remaining {
	ctx := context.Background()
	q, err := env.mint.CreateMintQuote(ctx, amount)
	require.NoError(t, err)
	require.NoError(t, env.mint.PayQuote(q.Id))
	proofs, err := env.mint.MintProofs(ctx, amount, q.Id)
	require.NoError(t, err)
	return proofledger.NewRemaining(proofs)
}

func newTestOrder(t *testing.T, total uint64, profile *agreement.SellerProfile) *agreement.OrderContext {
	order, err := NewOrder(agreement.OrderContext{
		OrderId:      common.RandHex(16),
		BuyerPubkey:  common.RandHex(32),
		SellerPubkey: profile.Pubkey,
		TotalAmount:  total,
		Currency:     "sats",
		Product:      agreement.ProductMeta{Title: "Raw milk", Quantity: 1},
	}, profile)
	require.NoError(t, err)
	return order
}

func tokenAmount(t *testing.T, token string) uint64 {
	_, proofs, err := proofledger.Decode(token)
	require.NoError(t, err)
	return proofledger.Sum(proofs)
}

func ecashSeller() *agreement.SellerProfile {
	return &agreement.SellerProfile{Pubkey: common.RandHex(32), PaymentPreference: agreement.PreferEcash}
}

func lightningSeller() *agreement.SellerProfile {
	return &agreement.SellerProfile{
		Pubkey:            common.RandHex(32),
		PaymentPreference: agreement.PreferLightning,
		Lud16:             "seller@example.com",
	}
}

func TestComputeShares(t *testing.T) {
	donation, seller, err := ComputeShares(1000, 2.1)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), donation)
	assert.Equal(t, uint64(979), seller)

	donation, seller, err = ComputeShares(500, 2.1)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), donation)
	assert.Equal(t, uint64(489), seller)

	donation, seller, err = ComputeShares(1000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), donation)
	assert.Equal(t, uint64(1000), seller)

	_, _, err = ComputeShares(1000, 101)
	assert.ErrorIs(t, err, ErrInvalidDonation)
}

func TestNewOrderUsesProfileDonation(t *testing.T) {
	pct := 5.0
	profile := ecashSeller()
	profile.DonationPercentage = &pct
	order := newTestOrder(t, 1000, profile)
	assert.Equal(t, uint64(50), order.DonationAmount)
	assert.Equal(t, uint64(950), order.SellerAmount)
}

func TestSettleEcash(t *testing.T) {
	env := newTestEnv(t, mintwallet.SimConfig{})
	profile := ecashSeller()
	order := newTestOrder(t, 1000, profile)
	r := env.fund(t, 1200)

	res, rest, err := env.engine.Settle(context.Background(), order, profile, r)
	require.NoError(t, err)
	assert.Equal(t, ChannelEcash, res.Channel)
	assert.False(t, res.Unmelted)
	assert.Equal(t, uint64(979), tokenAmount(t, res.SellerToken))
	assert.Equal(t, uint64(979), res.SellerPaid)
	assert.Equal(t, uint64(21), tokenAmount(t, res.DonationToken))
	assert.Equal(t, donationPubkey, res.DonationPubkey)
	assert.Equal(t, uint64(200), rest.Amount())
	assert.True(t, r.Consumed())
	assert.Empty(t, res.ChangeToken)

	// the token is only ever the seller's claim
	_, proofs, err := proofledger.Decode(res.SellerToken)
	require.NoError(t, err)
	assert.Equal(t, proofledger.Fingerprint(proofs), res.Reference())
	assert.Equal(t, res.SellerToken, res.Claim())
	assert.NotContains(t, res.Reference(), "cashu")
}

func TestSettleLightning(t *testing.T) {
	env := newTestEnv(t, mintwallet.SimConfig{})
	profile := lightningSeller()
	order := newTestOrder(t, 1000, profile)
	r := env.fund(t, 1000)

	res, rest, err := env.engine.Settle(context.Background(), order, profile, r)
	require.NoError(t, err)
	assert.Equal(t, ChannelLightning, res.Channel)
	assert.Equal(t, []uint64{957}, env.resolver.Requests())
	assert.Equal(t, uint64(957), res.MeltAmount)
	assert.Equal(t, uint64(957), res.SellerPaid)
	assert.NotEmpty(t, res.Preimage)
	assert.Empty(t, res.SellerToken)
	assert.Equal(t, res.Invoice, res.Reference())

	// reserve 10; 12 of the share kept, routing uses 5 and returns 5
	assert.Equal(t, uint64(17), res.ChangeAmount)
	assert.Equal(t, uint64(17), tokenAmount(t, res.ChangeToken))
	assert.Equal(t, uint64(21), tokenAmount(t, res.DonationToken))
	assert.Equal(t, uint64(0), rest.Amount())
	assert.Empty(t, res.Warnings)
}

func TestSettleMeltFailureFallsBack(t *testing.T) {
	env := newTestEnv(t, mintwallet.SimConfig{})
	env.mint.SetMeltHook(func(*agreement.MeltQuote) bool { return false })
	profile := lightningSeller()
	order := newTestOrder(t, 1000, profile)

	res, _, err := env.engine.Settle(context.Background(), order, profile, env.fund(t, 1000))
	require.NoError(t, err)
	assert.Equal(t, ChannelEcash, res.Channel)
	assert.True(t, res.Unmelted)
	assert.Equal(t, order.SellerAmount, tokenAmount(t, res.SellerToken))
	assert.Empty(t, res.ChangeToken)
	assert.Equal(t, 1, env.mint.MeltCalls())
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], ErrMeltFailed)

	_, proofs, err := proofledger.Decode(res.SellerToken)
	require.NoError(t, err)
	assert.True(t, env.mint.Unspent(proofs))
}

func TestSettleLightningWithInputFees(t *testing.T) {
	env := newTestEnv(t, mintwallet.SimConfig{InputFeePpk: 1000})
	profile := lightningSeller()
	order := newTestOrder(t, 1000, profile)

	res, rest, err := env.engine.Settle(context.Background(), order, profile, env.fund(t, 1100))
	require.NoError(t, err)
	assert.Equal(t, ChannelLightning, res.Channel)
	assert.False(t, res.Unmelted)
	assert.Equal(t, uint64(957), res.SellerPaid)
	assert.Empty(t, res.Warnings)

	// 967 needed plus 7 input fee; 5 of the share kept, 5 routing returned
	assert.Equal(t, uint64(10), tokenAmount(t, res.ChangeToken))
	assert.Equal(t, uint64(21), tokenAmount(t, res.DonationToken))
	assert.True(t, env.mint.Unspent(rest.Proofs()))
}

func TestSettleMeltFailureWithInputFeesKeepsShare(t *testing.T) {
	for _, ppk := range []uint64{100, 1000} {
		env := newTestEnv(t, mintwallet.SimConfig{InputFeePpk: ppk})
		env.mint.SetMeltHook(func(*agreement.MeltQuote) bool { return false })
		profile := lightningSeller()
		order := newTestOrder(t, 1000, profile)

		res, _, err := env.engine.Settle(context.Background(), order, profile, env.fund(t, 1100))
		require.NoError(t, err)
		assert.True(t, res.Unmelted)
		assert.Equal(t, 1, env.mint.MeltCalls())
		assert.Equal(t, order.SellerAmount, tokenAmount(t, res.SellerToken), "ppk=%d", ppk)
		assert.Equal(t, order.SellerAmount, res.SellerPaid)

		_, proofs, err := proofledger.Decode(res.SellerToken)
		require.NoError(t, err)
		assert.True(t, env.mint.Unspent(proofs))
	}
}

func TestSettleUnencodableProofsReturnToBuyer(t *testing.T) {
	// tokens need a hex keyset id
	env := newTestEnv(t, mintwallet.SimConfig{KeysetId: "sim-keyset"})
	profile := ecashSeller()
	order := newTestOrder(t, 1000, profile)

	res, rest, err := env.engine.Settle(context.Background(), order, profile, env.fund(t, 1200))
	require.NoError(t, err)
	assert.Empty(t, res.SellerToken)
	assert.Empty(t, res.DonationToken)
	assert.Equal(t, uint64(0), res.SellerPaid)
	require.Len(t, res.Warnings, 2)
	assert.ErrorIs(t, res.Warnings[0], ErrUnhanded)
	assert.ErrorIs(t, res.Warnings[1], ErrUnhanded)

	assert.Equal(t, uint64(1200), rest.Amount())
	assert.False(t, rest.Consumed())
	assert.True(t, env.mint.Unspent(rest.Proofs()))
}

func TestSettleUnencodableMeltChangeReturnsToBuyer(t *testing.T) {
	env := newTestEnv(t, mintwallet.SimConfig{KeysetId: "sim-keyset"})
	profile := lightningSeller()
	order := newTestOrder(t, 1000, profile)

	res, rest, err := env.engine.Settle(context.Background(), order, profile, env.fund(t, 1000))
	require.NoError(t, err)
	assert.Equal(t, ChannelLightning, res.Channel)
	assert.Equal(t, uint64(957), res.SellerPaid)
	assert.Empty(t, res.ChangeToken)

	// 17 of melt change plus the 21 donation
	assert.Equal(t, uint64(38), rest.Amount())
	assert.True(t, env.mint.Unspent(rest.Proofs()))
}

func TestSettleResolverFailureUsesEcash(t *testing.T) {
	env := newTestEnv(t, mintwallet.SimConfig{})
	env.resolver.SetError(errors.New("no route"))
	profile := lightningSeller()
	order := newTestOrder(t, 1000, profile)

	res, _, err := env.engine.Settle(context.Background(), order, profile, env.fund(t, 1000))
	require.NoError(t, err)
	assert.Equal(t, ChannelEcash, res.Channel)
	assert.False(t, res.Unmelted)
	assert.Equal(t, uint64(979), tokenAmount(t, res.SellerToken))
	assert.Equal(t, 0, env.mint.MeltCalls())
	require.Len(t, res.Warnings, 1)
	assert.ErrorIs(t, res.Warnings[0], ErrLightningSkipped)
}

func TestSettleTinyAmountSkipsMelt(t *testing.T) {
	env := newTestEnv(t, mintwallet.SimConfig{})
	profile := lightningSeller()
	order := newTestOrder(t, 2, profile)

	res, _, err := env.engine.Settle(context.Background(), order, profile, env.fund(t, 2))
	require.NoError(t, err)
	assert.Equal(t, ChannelEcash, res.Channel)
	assert.Empty(t, env.resolver.Requests())
	assert.Equal(t, uint64(1), tokenAmount(t, res.SellerToken))
	assert.Equal(t, uint64(1), res.DonationAmount)
}

func TestSettleInsufficientProofs(t *testing.T) {
	env := newTestEnv(t, mintwallet.SimConfig{})
	profile := ecashSeller()
	order := newTestOrder(t, 1000, profile)
	r := env.fund(t, 600)

	_, rest, err := env.engine.Settle(context.Background(), order, profile, r)
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.False(t, rest.Consumed())
	assert.Equal(t, uint64(600), rest.Amount())
	assert.Equal(t, 0, env.mint.MeltCalls())
}

func TestSettleIsIdempotent(t *testing.T) {
	env := newTestEnv(t, mintwallet.SimConfig{})
	profile := ecashSeller()
	order := newTestOrder(t, 1000, profile)
	ctx := context.Background()

	first, rest, err := env.engine.Settle(ctx, order, profile, env.fund(t, 1500))
	require.NoError(t, err)
	second, again, err := env.engine.Settle(ctx, order, profile, rest)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, uint64(500), again.Amount())
	assert.False(t, again.Consumed())
}

func TestSettleThreadsRemainingAcrossSellers(t *testing.T) {
	env := newTestEnv(t, mintwallet.SimConfig{})
	ctx := context.Background()
	a, b := ecashSeller(), ecashSeller()
	orderA := newTestOrder(t, 1000, a)
	orderB := newTestOrder(t, 500, b)

	r := env.fund(t, 1500)
	resA, r, err := env.engine.Settle(ctx, orderA, a, r)
	require.NoError(t, err)
	resB, r, err := env.engine.Settle(ctx, orderB, b, r)
	require.NoError(t, err)

	assert.Equal(t, uint64(979), tokenAmount(t, resA.SellerToken))
	assert.Equal(t, uint64(489), tokenAmount(t, resB.SellerToken))
	assert.Equal(t, uint64(11), resB.DonationAmount)
	assert.Equal(t, uint64(0), r.Amount())
}

func TestNewOrderRejectsEmptySellerShare(t *testing.T) {
	profile := ecashSeller()
	_, err := NewOrder(agreement.OrderContext{
		OrderId:      common.RandHex(16),
		BuyerPubkey:  common.RandHex(32),
		SellerPubkey: profile.Pubkey,
		TotalAmount:  1,
	}, profile)
	assert.ErrorIs(t, err, agreement.ErrInvalidOrder)
}
