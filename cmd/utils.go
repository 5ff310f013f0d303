package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/common"
)

// fileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// SplitList splits a comma separated config value, dropping empty items.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type sellerEntry struct {
	Pubkey             string   `json:"pubkey"`
	DonationPercentage *float64 `json:"donation_percentage,omitempty"`
	PaymentPreference  string   `json:"payment_preference"`
	Lud16              string   `json:"lud16,omitempty"`
}

// ParseSellers reads the static seller table, a JSON array of
// {pubkey, donation_percentage, payment_preference, lud16}.
func ParseSellers(value string) (agreement.StaticProfiles, error) {
	profiles := agreement.StaticProfiles{}
	if strings.TrimSpace(value) == "" {
		return profiles, nil
	}

	var entries []sellerEntry
	if err := json.Unmarshal([]byte(value), &entries); err != nil {
		return nil, fmt.Errorf("sellers: %w", err)
	}
	for _, e := range entries {
		pubkey, err := common.NormalizePubkey(e.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("seller %q: %w", e.Pubkey, err)
		}
		pref := agreement.PaymentPreference(strings.ToLower(e.PaymentPreference))
		switch pref {
		case agreement.PreferEcash, agreement.PreferLightning:
		case "":
			pref = agreement.PreferEcash
		default:
			return nil, fmt.Errorf("seller %q: unknown payment preference %q", e.Pubkey, e.PaymentPreference)
		}
		profiles[pubkey] = &agreement.SellerProfile{
			Pubkey:             pubkey,
			DonationPercentage: e.DonationPercentage,
			PaymentPreference:  pref,
			Lud16:              e.Lud16,
		}
	}
	return profiles, nil
}
