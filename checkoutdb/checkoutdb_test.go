package checkoutdb

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/common"
	"github.com/shopkit/checkout-go/database"
	"github.com/shopkit/checkout-go/notify"
)

func newCheckoutDB(t *testing.T) (*CheckoutDB, func()) {
	db, err := database.Open(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)

	checkoutDB, err := NewCheckoutDB(db)
	require.NoError(t, err)

	close := func() {
		db.Close()
	}
	return checkoutDB, close
}

func newSession() *Session {
	return &Session{
		Id:          common.RandHex(16),
		QuoteId:     common.RandHex(16),
		Invoice:     "lnsim1100s00",
		Amount:      100,
		BuyerPubkey: common.RandHex(32),
		Status:      SessionPending,
	}
}

func TestSessionLifecycle(t *testing.T) {
	db, close := newCheckoutDB(t)
	defer close()

	s := newSession()
	require.NoError(t, db.InsertSession(s))

	chk, ok, err := db.GetSession(s.Id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, s.QuoteId, chk.QuoteId)
	assert.Equal(t, SessionPending, chk.Status)
	assert.False(t, chk.CreatedAt.IsZero())

	require.NoError(t, db.UpdateSessionStatus(s.Id, SessionSettled, "check your balance"))
	require.NoError(t, db.SetChangeToken(s.Id, "cashuBchange"))

	chk, _, err = db.GetSession(s.Id)
	require.NoError(t, err)
	assert.Equal(t, SessionSettled, chk.Status)
	assert.Equal(t, "check your balance", chk.Warning)
	assert.Equal(t, "cashuBchange", chk.ChangeToken)
	assert.True(t, chk.Status.Final())

	_, ok, err = db.GetSession("missing")
	assert.NoError(t, err)
	assert.False(t, ok)

	s.Status = "bogus"
	s.Id = common.RandHex(16)
	assert.Error(t, db.InsertSession(s))
}

func TestOrders(t *testing.T) {
	db, close := newCheckoutDB(t)
	defer close()

	sessionId := common.RandHex(16)
	first := &Order{
		OrderId:        common.RandHex(16),
		SessionId:      sessionId,
		SellerPubkey:   common.RandHex(32),
		TotalAmount:    1000,
		DonationAmount: 21,
		SellerAmount:   979,
		Channel:        "lightning",
		Reference:      "lnbc1",
		Warnings:       []string{"a", "b"},
	}
	second := &Order{
		OrderId:      common.RandHex(16),
		SessionId:    sessionId,
		SellerPubkey: common.RandHex(32),
		TotalAmount:  500,
		SellerAmount: 500,
		Channel:      "ecash",
		Reference:    "cashuB",
		Unmelted:     true,
	}
	require.NoError(t, db.InsertOrder(first))
	require.NoError(t, db.InsertOrder(second))

	chk, ok, err := db.GetOrder(first.OrderId)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, chk.Warnings)
	assert.Equal(t, uint64(979), chk.SellerAmount)

	orders, err := db.GetOrdersBySession(sessionId)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, first.OrderId, orders[0].OrderId)
	assert.True(t, orders[1].Unmelted)
	assert.Nil(t, orders[1].Warnings)

	bad := *second
	bad.OrderId = common.RandHex(16)
	bad.DonationAmount = 1
	assert.Error(t, db.InsertOrder(&bad))
}

func TestProofHistory(t *testing.T) {
	db, close := newCheckoutDB(t)
	defer close()

	sessionId := common.RandHex(16)
	for _, r := range []*ProofRecord{
		{SessionId: sessionId, OrderId: "o1", Kind: ProofSeller, Amount: 979, Token: "t1"},
		{SessionId: sessionId, OrderId: "o1", Kind: ProofDonation, Amount: 21, Token: "t2"},
		{SessionId: sessionId, Kind: ProofChange, Amount: 5, Token: "t3"},
	} {
		require.NoError(t, db.InsertProofRecord(r))
		assert.NotZero(t, r.Id)
	}

	records, err := db.GetProofHistory(sessionId)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ProofChange, records[2].Kind)
	assert.Equal(t, "", records[2].OrderId)

	assert.Error(t, db.InsertProofRecord(&ProofRecord{SessionId: sessionId, Kind: ProofChange, Amount: 0, Token: "t"}))
}

func TestQuoteStateIsMonotonic(t *testing.T) {
	db, close := newCheckoutDB(t)
	defer close()

	q := &agreement.MintQuote{Id: common.RandHex(16), Request: "lnsim1", Amount: 10, State: agreement.QuoteUnpaid}
	require.NoError(t, db.RecordQuote(q))

	q.State = agreement.QuoteIssued
	require.NoError(t, db.RecordQuote(q))
	q.State = agreement.QuotePaid
	require.NoError(t, db.RecordQuote(q))
	q.State = agreement.QuoteUnpaid
	require.NoError(t, db.RecordQuote(q))

	chk, ok, err := db.GetQuote(q.Id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, agreement.QuoteIssued, chk.State)
}

func TestNotifications(t *testing.T) {
	db, close := newCheckoutDB(t)
	defer close()

	recipient := common.RandHex(32)
	require.NoError(t, db.RecordDelivery("o1", &notify.Delivery{
		Subject: notify.SubjectPayment, Recipient: recipient, EventId: common.RandHex(32), Attempts: 1,
	}))
	require.NoError(t, db.RecordDelivery("o1", &notify.Delivery{
		Subject: notify.SubjectAdditionalInfo, Recipient: recipient, Attempts: 3, Err: errors.New("relay down"),
	}))

	records, err := db.GetNotifications("o1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, string(notify.SubjectPayment), records[0].Subject)
	assert.Equal(t, "", records[0].Error)
	assert.Equal(t, 3, records[1].Attempts)
	assert.Equal(t, "relay down", records[1].Error)
}
