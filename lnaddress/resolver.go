// Package lnaddress fetches invoices from Lightning addresses (LUD-16).
package lnaddress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
)

var (
	ErrInvalidAddress   = errors.New("invalid lightning address")
	ErrExcludedDomain   = errors.New("lightning address provider is excluded")
	ErrAmountOutOfRange = errors.New("amount outside the range accepted by the address")
	ErrBadResponse      = errors.New("unexpected lnurl response")
)

// Resolver turns a lightning address into a payable invoice.
type Resolver interface {
	FetchInvoice(ctx context.Context, address string, sats uint64) (string, error)
}

type Config struct {
	Timeout         time.Duration
	ExcludedDomains []string
}

type payRequest struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable uint64 `json:"minSendable"` // msat
	MaxSendable uint64 `json:"maxSendable"` // msat
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

type invoiceResponse struct {
	Pr     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type HttpResolver struct {
	client   *http.Client
	excluded map[string]bool

	// URLForAddress builds the lnurlp url. Replaced in tests to point at a
	// local server.
	URLForAddress func(user, domain string) string
}

func NewHttpResolver(cfg *Config) *HttpResolver {
	excluded := make(map[string]bool, len(cfg.ExcludedDomains))
	for _, d := range cfg.ExcludedDomains {
		excluded[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return &HttpResolver{
		client:        &http.Client{Timeout: cfg.Timeout},
		excluded:      excluded,
		URLForAddress: wellKnownURL,
	}
}

func wellKnownURL(user, domain string) string {
	return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", domain, user)
}

// Split returns the user and domain parts of a lightning address.
func Split(address string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(address), "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || !strings.Contains(parts[1], ".") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToLower(parts[0]), strings.ToLower(parts[1]), nil
}

// Usable reports whether address parses and its domain is not excluded.
func (r *HttpResolver) Usable(address string) error {
	_, domain, err := Split(address)
	if err != nil {
		return err
	}
	if r.excluded[domain] {
		return fmt.Errorf("%w: %s", ErrExcludedDomain, domain)
	}
	return nil
}

func (r *HttpResolver) FetchInvoice(ctx context.Context, address string, sats uint64) (string, error) {
	if err := r.Usable(address); err != nil {
		return "", err
	}
	user, domain, _ := Split(address)

	var pr payRequest
	if err := r.getJSON(ctx, r.URLForAddress(user, domain), &pr); err != nil {
		return "", err
	}
	if pr.Status == "ERROR" {
		return "", fmt.Errorf("%w: %s", ErrBadResponse, pr.Reason)
	}
	if pr.Tag != "payRequest" || pr.Callback == "" {
		return "", fmt.Errorf("%w: not a pay request", ErrBadResponse)
	}

	msat := sats * 1000
	if (pr.MinSendable > 0 && msat < pr.MinSendable) || (pr.MaxSendable > 0 && msat > pr.MaxSendable) {
		return "", fmt.Errorf("%w: %d msat not in [%d, %d]", ErrAmountOutOfRange, msat, pr.MinSendable, pr.MaxSendable)
	}

	cb, err := url.Parse(pr.Callback)
	if err != nil {
		return "", fmt.Errorf("%w: callback %v", ErrBadResponse, err)
	}
	q := cb.Query()
	q.Set("amount", strconv.FormatUint(msat, 10))
	cb.RawQuery = q.Encode()

	var inv invoiceResponse
	if err := r.getJSON(ctx, cb.String(), &inv); err != nil {
		return "", err
	}
	if inv.Status == "ERROR" || inv.Pr == "" {
		return "", fmt.Errorf("%w: no invoice: %s", ErrBadResponse, inv.Reason)
	}

	logger.WithFields(logger.Fields{"address": address, "sats": sats}).Debug("invoice fetched")
	return inv.Pr, nil
}

func (r *HttpResolver) getJSON(ctx context.Context, target string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}
