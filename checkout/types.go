package checkout

import (
	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/notify"
	"github.com/shopkit/checkout-go/settlement"
)

// Item is one seller's part of a cart.
type Item struct {
	SellerPubkey string                  `json:"seller_pubkey"`
	Amount       uint64                  `json:"amount"`
	Product      agreement.ProductMeta   `json:"product"`
	Shipping     *agreement.ShippingInfo `json:"shipping,omitempty"`
	Pickup       string                  `json:"pickup,omitempty"`
}

type Request struct {
	BuyerPubkey string `json:"buyer_pubkey"` // hex or npub
	Currency    string `json:"currency"`
	Items       []Item `json:"items"`
}

// OrderOutcome is what happened to one seller's order.
type OrderOutcome struct {
	Order  *agreement.OrderContext
	Result *settlement.Result
	Report *notify.Report
}

type Outcome struct {
	SessionId   string
	Orders      []*OrderOutcome
	ChangeToken string
	Change      uint64
	// Warnings never mean the buyer's payment failed.
	Warnings []error
}
