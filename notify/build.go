package notify

import (
	"errors"
	"fmt"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/settlement"
)

// BuildMessages lists the messages for one settled order in delivery order:
// payment, fee change, donation, additional info, herdshare,
// shipping or inquiry, receipt. Messages that do not apply are left out.
// An invalid message is dropped and reported in the error; the rest are
// still returned.
func BuildMessages(order *agreement.OrderContext, res *settlement.Result) ([]Message, error) {
	if res == nil || res.OrderId != order.OrderId {
		return nil, fmt.Errorf("%w: settlement does not belong to order %s", ErrInvalidMessage, order.OrderId)
	}
	currency := order.Currency
	if res.Channel == settlement.ChannelEcash || res.Channel == settlement.ChannelLightning {
		currency = "sats"
	}
	title := order.Product.Title

	msgs := []Message{&Payment{
		OrderId:   order.OrderId,
		Seller:    order.SellerPubkey,
		Buyer:     order.BuyerPubkey,
		Channel:   res.Channel,
		Reference: res.Claim(),
		Amount:    res.SellerPaid,
		Currency:  currency,
		Unmelted:  res.Unmelted,
		Product:   order.Product,
	}}

	if res.ChangeToken != "" && res.ChangeAmount >= 1 {
		msgs = append(msgs, &FeeChange{
			OrderId: order.OrderId,
			Seller:  order.SellerPubkey,
			Token:   res.ChangeToken,
			Amount:  res.ChangeAmount,
		})
	}
	if res.DonationToken != "" && res.DonationPubkey != "" {
		msgs = append(msgs, &Donation{
			To:     res.DonationPubkey,
			Token:  res.DonationToken,
			Amount: res.DonationAmount,
		})
	}
	if order.Product.AdditionalInfo != "" {
		msgs = append(msgs, &AdditionalInfo{
			OrderId:  order.OrderId,
			Seller:   order.SellerPubkey,
			Question: order.Product.RequiredField,
			Answer:   order.Product.AdditionalInfo,
			Product:  title,
		})
	}
	if order.Product.Herdshare != "" {
		msgs = append(msgs, &Herdshare{
			OrderId:  order.OrderId,
			Buyer:    order.BuyerPubkey,
			Contract: order.Product.Herdshare,
			Product:  title,
		})
	}

	switch {
	case order.HasShipping():
		msgs = append(msgs, &Shipping{OrderId: order.OrderId, Seller: order.SellerPubkey, Address: order.Shipping.Format(), Product: title})
	case order.IsPickup():
		msgs = append(msgs, &Shipping{OrderId: order.OrderId, Seller: order.SellerPubkey, Pickup: order.Pickup, Product: title})
	default:
		msgs = append(msgs, &Inquiry{OrderId: order.OrderId, Seller: order.SellerPubkey, Product: title})
	}

	msgs = append(msgs, &Receipt{
		OrderId:   order.OrderId,
		Buyer:     order.BuyerPubkey,
		Channel:   res.Channel,
		Reference: res.Reference(),
		Amount:    order.TotalAmount,
		Currency:  currency,
		Product:   order.Product,
	})

	valid := msgs[:0]
	var errs []error
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		valid = append(valid, m)
	}
	return valid, errors.Join(errs...)
}
