package agreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopkit/checkout-go/common"
)

const (
	DefaultDonationPercentage = 2.1
)

var (
	ErrInvalidOrder = errors.New("invalid order")
)

type PaymentPreference string

const (
	PreferEcash     PaymentPreference = "ecash"
	PreferLightning PaymentPreference = "lightning"
)

// SellerProfile is what the profile lookup knows about a seller.
type SellerProfile struct {
	Pubkey             string
	DonationPercentage *float64 // nil means DefaultDonationPercentage
	PaymentPreference  PaymentPreference
	Lud16              string // lightning address, may be empty
}

func (p *SellerProfile) Donation() float64 {
	if p == nil || p.DonationPercentage == nil {
		return DefaultDonationPercentage
	}
	return *p.DonationPercentage
}

// ProfileLookup resolves seller settings by pubkey.
type ProfileLookup interface {
	Profile(ctx context.Context, sellerPubkey string) (*SellerProfile, error)
}

type ShippingInfo struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Unit       string `json:"unit,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country"`
}

func (s *ShippingInfo) Complete() bool {
	return s != nil && s.Name != "" && s.Address != "" && s.City != "" && s.PostalCode != "" && s.Country != ""
}

// Format renders the address the way it is shown to the seller.
func (s *ShippingInfo) Format() string {
	line := s.Address
	if s.Unit != "" {
		line += ", " + s.Unit
	}
	region := s.City
	if s.State != "" {
		region += ", " + s.State
	}
	return fmt.Sprintf("%s\n%s\n%s %s\n%s", s.Name, line, region, s.PostalCode, s.Country)
}

type ProductMeta struct {
	Title          string `json:"title"`
	ProductAddress string `json:"product_address"` // "30402:<pubkey>:<d-tag>"
	Quantity       int    `json:"quantity"`
	SelectedSize   string `json:"selected_size,omitempty"`
	SelectedVolume string `json:"selected_volume,omitempty"`
	Herdshare      string `json:"herdshare,omitempty"` // contract text, empty if none
	// RequiredField is the listing's custom question, AdditionalInfo the buyer's answer.
	RequiredField  string `json:"required_field,omitempty"`
	AdditionalInfo string `json:"additional_info,omitempty"`
}

// OrderContext is built once per seller of a checkout and never modified.
type OrderContext struct {
	OrderId            string
	BuyerPubkey        string
	SellerPubkey       string
	TotalAmount        uint64
	Currency           string
	DonationPercentage float64
	DonationAmount     uint64
	SellerAmount       uint64
	Shipping           *ShippingInfo
	Pickup             string
	Product            ProductMeta
}

// Validate checks the fields every notification depends on.
func (o *OrderContext) Validate() error {
	if o.OrderId == "" {
		return fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	}
	if !common.IsHexString(o.BuyerPubkey, 32) {
		return fmt.Errorf("%w: buyer pubkey", ErrInvalidOrder)
	}
	if !common.IsHexString(o.SellerPubkey, 32) {
		return fmt.Errorf("%w: seller pubkey", ErrInvalidOrder)
	}
	if o.TotalAmount < 1 {
		return fmt.Errorf("%w: amount below 1 sat", ErrInvalidOrder)
	}
	if o.DonationAmount+o.SellerAmount != o.TotalAmount {
		return fmt.Errorf("%w: shares do not add up to total", ErrInvalidOrder)
	}
	if o.Shipping != nil && !o.Shipping.Complete() {
		return fmt.Errorf("%w: incomplete shipping address", ErrInvalidOrder)
	}
	return nil
}

// HasShipping reports whether the order carries a deliverable address.
func (o *OrderContext) HasShipping() bool {
	return o.Shipping.Complete()
}

func (o *OrderContext) IsPickup() bool {
	return o.Pickup != ""
}

// StaticProfiles is a ProfileLookup over a fixed table. Unknown sellers
// get the default profile: ecash payouts and the default donation.
type StaticProfiles map[string]*SellerProfile

func (p StaticProfiles) Profile(ctx context.Context, sellerPubkey string) (*SellerProfile, error) {
	if profile, ok := p[sellerPubkey]; ok {
		return profile, nil
	}
	return &SellerProfile{Pubkey: sellerPubkey, PaymentPreference: PreferEcash}, nil
}
