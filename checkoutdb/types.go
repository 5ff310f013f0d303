package checkoutdb

import (
	"time"

	"github.com/shopkit/checkout-go/agreement"
)

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"   // waiting for the invoice to be paid
	SessionPaid      SessionStatus = "paid"      // proofs minted, settling
	SessionSettled   SessionStatus = "settled"   // every order settled
	SessionCancelled SessionStatus = "cancelled" // buyer went back to the cart
	SessionTimeout   SessionStatus = "timeout"
	SessionFailed    SessionStatus = "failed"
)

func (s SessionStatus) Final() bool {
	return s == SessionSettled || s == SessionFailed
}

// Session is one checkout: a single mint quote paying for one or more orders.
type Session struct {
	Id          string        `json:"id"`
	QuoteId     string        `json:"quote_id"`
	Invoice     string        `json:"invoice"`
	Amount      uint64        `json:"amount"`
	BuyerPubkey string        `json:"buyer_pubkey"`
	Status      SessionStatus `json:"status"`
	ChangeToken string        `json:"-"` // bearer token, never served
	Warning     string        `json:"warning,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Order is the settled state of one seller's part of a session.
type Order struct {
	OrderId        string    `json:"order_id"`
	SessionId      string    `json:"session_id"`
	SellerPubkey   string    `json:"seller_pubkey"`
	TotalAmount    uint64    `json:"total_amount"`
	DonationAmount uint64    `json:"donation_amount"`
	SellerAmount   uint64    `json:"seller_amount"`
	Channel        string    `json:"channel"`
	Reference      string    `json:"reference"`
	Unmelted       bool      `json:"unmelted"`
	Warnings       []string  `json:"warnings,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProofKind string

const (
	ProofSeller    ProofKind = "seller"
	ProofUnmelted  ProofKind = "unmelted"
	ProofFeeChange ProofKind = "fee_change"
	ProofDonation  ProofKind = "donation"
	ProofChange    ProofKind = "change"
)

// ProofRecord is a token handed to another party.
type ProofRecord struct {
	Id        int64     `json:"id"`
	SessionId string    `json:"session_id"`
	OrderId   string    `json:"order_id"` // empty for buyer change
	Kind      ProofKind `json:"kind"`
	Amount    uint64    `json:"amount"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type QuoteRecord struct {
	Id        string               `json:"id"`
	Request   string               `json:"request"`
	Amount    uint64               `json:"amount"`
	State     agreement.QuoteState `json:"state"`
	UpdatedAt time.Time            `json:"updated_at"`
}

type NotificationRecord struct {
	OrderId   string    `json:"order_id"`
	Subject   string    `json:"subject"`
	Recipient string    `json:"recipient"`
	EventId   string    `json:"event_id"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
