// Package notify turns a settled order into gift wrapped messages and
// delivers them in a fixed order.
package notify

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/common"
	"github.com/shopkit/checkout-go/giftwrap"
	"github.com/shopkit/checkout-go/settlement"
)

var ErrInvalidMessage = errors.New("invalid message")

type Subject string

const (
	SubjectPayment        Subject = "order-payment"
	SubjectFeeChange      Subject = "payment-change"
	SubjectDonation       Subject = "donation"
	SubjectAdditionalInfo Subject = "order-info"
	SubjectHerdshare      Subject = "herdshare-agreement"
	SubjectShipping       Subject = "shipping-info"
	SubjectInquiry        Subject = "order-inquiry"
	SubjectReceipt        Subject = "order-receipt"
)

// Message is one of Payment, FeeChange, Donation, AdditionalInfo,
// Herdshare, Shipping, Inquiry or Receipt.
type Message interface {
	Subject() Subject
	Role() giftwrap.Role
	Recipient() string
	Text() string
	Tags() []giftwrap.Tag
	Validate() error

	isMessage()
}

func invalid(s Subject, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidMessage, s, fmt.Sprintf(format, args...))
}

func validRecipient(s Subject, pubkey string) error {
	if !common.IsHexString(pubkey, 32) {
		return invalid(s, "recipient %q", pubkey)
	}
	return nil
}

func orderTags(s Subject, recipient, orderId string) []giftwrap.Tag {
	tags := []giftwrap.Tag{{"p", recipient}, {"subject", string(s)}}
	if orderId != "" {
		tags = append(tags, giftwrap.Tag{"order", orderId})
	}
	return tags
}

func productTags(p agreement.ProductMeta) []giftwrap.Tag {
	var tags []giftwrap.Tag
	if p.ProductAddress != "" {
		tags = append(tags, giftwrap.Tag{"item", p.ProductAddress, strconv.Itoa(p.Quantity)})
	}
	if p.SelectedSize != "" {
		tags = append(tags, giftwrap.Tag{"size", p.SelectedSize})
	}
	if p.SelectedVolume != "" {
		tags = append(tags, giftwrap.Tag{"volume", p.SelectedVolume})
	}
	return tags
}

func amountTag(amount uint64, currency string) giftwrap.Tag {
	return giftwrap.Tag{"amount", strconv.FormatUint(amount, 10), currency}
}

// Payment tells the seller how they were paid.
type Payment struct {
	OrderId   string
	Seller    string
	Buyer     string
	Channel   settlement.Channel
	Reference string // invoice, token or payment intent id; only the seller sees it
	Amount    uint64
	Currency  string
	Unmelted  bool
	Product   agreement.ProductMeta
}

func (m *Payment) Subject() Subject    { return SubjectPayment }
func (m *Payment) Role() giftwrap.Role { return giftwrap.RoleSeller }
func (m *Payment) Recipient() string   { return m.Seller }
func (m *Payment) isMessage()          {}

func (m *Payment) Validate() error {
	if m.OrderId == "" {
		return invalid(m.Subject(), "missing order id")
	}
	if m.Reference == "" || m.Channel == "" {
		return invalid(m.Subject(), "missing payment reference")
	}
	if m.Amount < 1 {
		return invalid(m.Subject(), "amount below 1")
	}
	return validRecipient(m.Subject(), m.Seller)
}

func (m *Payment) Text() string {
	title := m.Product.Title
	switch {
	case m.Unmelted:
		return fmt.Sprintf("The Lightning payout for order %s failed. This is an unmelted Cashu payment of %d sats for %s, redeem it here: %s",
			m.OrderId, m.Amount, title, m.Reference)
	case m.Channel == settlement.ChannelLightning:
		return fmt.Sprintf("You have received a Lightning payment of %d sats for %s (order %s). Invoice paid: %s",
			m.Amount, title, m.OrderId, m.Reference)
	case m.Channel == settlement.ChannelEcash:
		return fmt.Sprintf("You have received a Cashu payment of %d sats for %s (order %s). Redeem this token: %s",
			m.Amount, title, m.OrderId, m.Reference)
	default:
		return fmt.Sprintf("You have received a %s payment of %d %s for %s (order %s). Reference: %s",
			m.Channel, m.Amount, m.Currency, title, m.OrderId, m.Reference)
	}
}

func (m *Payment) Tags() []giftwrap.Tag {
	tags := orderTags(m.Subject(), m.Seller, m.OrderId)
	tags = append(tags,
		giftwrap.Tag{"payment", string(m.Channel), m.Reference},
		amountTag(m.Amount, m.Currency),
	)
	if m.Buyer != "" {
		tags = append(tags, giftwrap.Tag{"b", m.Buyer})
	}
	if m.Unmelted {
		tags = append(tags, giftwrap.Tag{"status", "unmelted"})
	}
	return append(tags, productTags(m.Product)...)
}

// FeeChange returns the overestimated melt fee to the seller.
type FeeChange struct {
	OrderId string
	Seller  string
	Token   string
	Amount  uint64
}

func (m *FeeChange) Subject() Subject    { return SubjectFeeChange }
func (m *FeeChange) Role() giftwrap.Role { return giftwrap.RoleSeller }
func (m *FeeChange) Recipient() string   { return m.Seller }
func (m *FeeChange) isMessage()          {}

func (m *FeeChange) Validate() error {
	if m.OrderId == "" || m.Token == "" || m.Amount < 1 {
		return invalid(m.Subject(), "missing order id, token or amount")
	}
	return validRecipient(m.Subject(), m.Seller)
}

func (m *FeeChange) Text() string {
	return fmt.Sprintf("Overpaid Lightning fee change of %d sats for order %s: %s", m.Amount, m.OrderId, m.Token)
}

func (m *FeeChange) Tags() []giftwrap.Tag {
	return append(orderTags(m.Subject(), m.Seller, m.OrderId), amountTag(m.Amount, "sats"))
}

// Donation carries the platform share. It is not part of the order thread.
type Donation struct {
	To     string
	Token  string
	Amount uint64
}

func (m *Donation) Subject() Subject    { return SubjectDonation }
func (m *Donation) Role() giftwrap.Role { return giftwrap.RoleDonation }
func (m *Donation) Recipient() string   { return m.To }
func (m *Donation) isMessage()          {}

func (m *Donation) Validate() error {
	if m.Token == "" || m.Amount < 1 {
		return invalid(m.Subject(), "missing token or amount")
	}
	return validRecipient(m.Subject(), m.To)
}

func (m *Donation) Text() string {
	return fmt.Sprintf("Sale donation of %d sats: %s", m.Amount, m.Token)
}

func (m *Donation) Tags() []giftwrap.Tag {
	return append(orderTags(m.Subject(), m.To, ""), amountTag(m.Amount, "sats"))
}

// AdditionalInfo forwards the buyer's answer to the listing's question.
type AdditionalInfo struct {
	OrderId  string
	Seller   string
	Question string
	Answer   string
	Product  string
}

func (m *AdditionalInfo) Subject() Subject    { return SubjectAdditionalInfo }
func (m *AdditionalInfo) Role() giftwrap.Role { return giftwrap.RoleSeller }
func (m *AdditionalInfo) Recipient() string   { return m.Seller }
func (m *AdditionalInfo) isMessage()          {}

func (m *AdditionalInfo) Validate() error {
	if m.OrderId == "" || m.Answer == "" {
		return invalid(m.Subject(), "missing order id or answer")
	}
	return validRecipient(m.Subject(), m.Seller)
}

func (m *AdditionalInfo) Text() string {
	if m.Question == "" {
		return fmt.Sprintf("Additional customer information for %s (order %s): %s", m.Product, m.OrderId, m.Answer)
	}
	return fmt.Sprintf("Additional customer information for %s (order %s): %s: %s", m.Product, m.OrderId, m.Question, m.Answer)
}

func (m *AdditionalInfo) Tags() []giftwrap.Tag {
	return orderTags(m.Subject(), m.Seller, m.OrderId)
}

// Herdshare sends the listing's agreement to the buyer.
type Herdshare struct {
	OrderId  string
	Buyer    string
	Contract string
	Product  string
}

func (m *Herdshare) Subject() Subject    { return SubjectHerdshare }
func (m *Herdshare) Role() giftwrap.Role { return giftwrap.RoleBuyer }
func (m *Herdshare) Recipient() string   { return m.Buyer }
func (m *Herdshare) isMessage()          {}

func (m *Herdshare) Validate() error {
	if m.OrderId == "" || m.Contract == "" {
		return invalid(m.Subject(), "missing order id or contract")
	}
	return validRecipient(m.Subject(), m.Buyer)
}

func (m *Herdshare) Text() string {
	return fmt.Sprintf("To finalize your purchase of %s (order %s), sign and return the herdshare agreement: %s", m.Product, m.OrderId, m.Contract)
}

func (m *Herdshare) Tags() []giftwrap.Tag {
	return orderTags(m.Subject(), m.Buyer, m.OrderId)
}

// Shipping tells the seller where the order goes: an address or a pickup location.
type Shipping struct {
	OrderId string
	Seller  string
	Address string
	Pickup  string
	Product string
}

func (m *Shipping) Subject() Subject    { return SubjectShipping }
func (m *Shipping) Role() giftwrap.Role { return giftwrap.RoleSeller }
func (m *Shipping) Recipient() string   { return m.Seller }
func (m *Shipping) isMessage()          {}

func (m *Shipping) Validate() error {
	if m.OrderId == "" {
		return invalid(m.Subject(), "missing order id")
	}
	if (m.Address == "") == (m.Pickup == "") {
		return invalid(m.Subject(), "exactly one of address and pickup required")
	}
	return validRecipient(m.Subject(), m.Seller)
}

func (m *Shipping) Text() string {
	if m.Pickup != "" {
		return fmt.Sprintf("The buyer will pick up %s (order %s) at: %s", m.Product, m.OrderId, m.Pickup)
	}
	return fmt.Sprintf("Please ship %s (order %s) to:\n%s", m.Product, m.OrderId, m.Address)
}

func (m *Shipping) Tags() []giftwrap.Tag {
	tags := orderTags(m.Subject(), m.Seller, m.OrderId)
	if m.Pickup != "" {
		return append(tags, giftwrap.Tag{"pickup", m.Pickup})
	}
	return append(tags, giftwrap.Tag{"address", m.Address})
}

// Inquiry asks the seller to get in touch when the order has neither an
// address nor a pickup location.
type Inquiry struct {
	OrderId string
	Seller  string
	Product string
}

func (m *Inquiry) Subject() Subject    { return SubjectInquiry }
func (m *Inquiry) Role() giftwrap.Role { return giftwrap.RoleSeller }
func (m *Inquiry) Recipient() string   { return m.Seller }
func (m *Inquiry) isMessage()          {}

func (m *Inquiry) Validate() error {
	if m.OrderId == "" {
		return invalid(m.Subject(), "missing order id")
	}
	return validRecipient(m.Subject(), m.Seller)
}

func (m *Inquiry) Text() string {
	return fmt.Sprintf("I just paid for %s (order %s). Please reach out to arrange delivery.", m.Product, m.OrderId)
}

func (m *Inquiry) Tags() []giftwrap.Tag {
	return orderTags(m.Subject(), m.Seller, m.OrderId)
}

// Receipt confirms the order to the buyer.
type Receipt struct {
	OrderId   string
	Buyer     string
	Channel   settlement.Channel
	Reference string // never a bearer token
	Amount    uint64
	Currency  string
	Product   agreement.ProductMeta
}

func (m *Receipt) Subject() Subject    { return SubjectReceipt }
func (m *Receipt) Role() giftwrap.Role { return giftwrap.RoleBuyer }
func (m *Receipt) Recipient() string   { return m.Buyer }
func (m *Receipt) isMessage()          {}

func (m *Receipt) Validate() error {
	if m.OrderId == "" || m.Reference == "" {
		return invalid(m.Subject(), "missing order id or reference")
	}
	if m.Amount < 1 {
		return invalid(m.Subject(), "amount below 1")
	}
	return validRecipient(m.Subject(), m.Buyer)
}

func (m *Receipt) Text() string {
	return fmt.Sprintf("Your order %s for %s was paid: %d %s via %s. Reference: %s",
		m.OrderId, m.Product.Title, m.Amount, m.Currency, m.Channel, common.Shorten(m.Reference, 16))
}

func (m *Receipt) Tags() []giftwrap.Tag {
	tags := orderTags(m.Subject(), m.Buyer, m.OrderId)
	tags = append(tags,
		giftwrap.Tag{"payment", string(m.Channel), m.Reference},
		amountTag(m.Amount, m.Currency),
	)
	return append(tags, productTags(m.Product)...)
}
