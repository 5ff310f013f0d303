// Demo runs one checkout end to end against the simulated mint and an
// in-memory relay, then opens every message as its recipient.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/checkout"
	"github.com/shopkit/checkout-go/cmd"
	"github.com/shopkit/checkout-go/common"
	"github.com/shopkit/checkout-go/giftwrap"
	"github.com/shopkit/checkout-go/logconfig"
	"github.com/shopkit/checkout-go/mintwallet"
	"github.com/shopkit/checkout-go/relay"
	"github.com/shopkit/checkout-go/signers"
)

func mustSigner() *signers.LocalSigner {
	s, err := signers.NewRandomLocalSigner()
	if err != nil {
		logger.Fatalf("failed to create key: %v", err)
	}
	return s
}

func mustNpub(s *signers.LocalSigner) string {
	npub, err := s.Npub()
	if err != nil {
		logger.Fatalf("failed to encode npub: %v", err)
	}
	return npub
}

func mustNsec(s *signers.LocalSigner) string {
	nsec, err := s.Nsec()
	if err != nil {
		logger.Fatalf("failed to encode nsec: %v", err)
	}
	return nsec
}

func main() {
	logconfig.ConfigInfoLogger()

	dir, err := os.MkdirTemp("", "checkout-demo")
	if err != nil {
		logger.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	service, buyer, seller, donation := mustSigner(), mustSigner(), mustSigner(), mustSigner()

	csc := cmd.DefaultCheckoutServerConfig()
	csc.DbFilePath = filepath.Join(dir, "checkout.db")
	csc.SignerKey = mustNsec(service)
	csc.DonationPubkey = mustNpub(donation)
	csc.QuotePollInterval = 100 * time.Millisecond
	csc.NotifyPacing = 50 * time.Millisecond

	mint := mintwallet.NewSimulatedMint(mintwallet.SimConfig{URL: "https://mint.demo.local", PayAfterChecks: 3})
	pub := relay.NewMemoryPublisher()

	ctx := context.Background()
	server, err := cmd.NewCheckoutServer(csc, mint, pub, ctx)
	if err != nil {
		logger.Fatalf("failed to create checkout server: %v", err)
	}
	defer server.Close()

	sess, err := server.Service.Start(ctx, &checkout.Request{
		BuyerPubkey: mustNpub(buyer),
		Currency:    "sats",
		Items: []checkout.Item{{
			SellerPubkey: mustNpub(seller),
			Amount:       1000,
			Product: agreement.ProductMeta{
				Title:          "Raw milk",
				ProductAddress: "30402:" + seller.Pubkey() + ":raw-milk",
				Quantity:       2,
				SelectedVolume: "1 gallon",
				RequiredField:  "Preferred pickup day",
				AdditionalInfo: "Saturday",
			},
			Pickup: "Farm stand, 9am to noon",
		}},
	})
	if err != nil {
		logger.Fatalf("failed to start checkout: %v", err)
	}
	fmt.Printf("session %s: pay %d sats to %s\n", sess.Id, sess.Amount, common.Shorten(sess.Invoice, 24))

	out, err := server.Service.Complete(ctx, sess.Id)
	if err != nil {
		logger.Fatalf("checkout failed: %v", err)
	}
	for _, oo := range out.Orders {
		fmt.Printf("order %s: %s, seller got %d sats, donation %d sats\n",
			oo.Order.OrderId, oo.Result.Channel, oo.Result.SellerPaid, oo.Result.DonationAmount)
	}
	for _, w := range out.Warnings {
		fmt.Printf("warning: %v\n", w)
	}

	recipients := []struct {
		name   string
		signer *signers.LocalSigner
	}{{"seller", seller}, {"donation", donation}, {"buyer", buyer}}
	for _, r := range recipients {
		for _, ev := range pub.For(r.signer.Pubkey()) {
			rumor, err := giftwrap.Open(ctx, r.signer, ev)
			if err != nil {
				fmt.Printf("%s cannot open %s: %v\n", r.name, ev.ID, err)
				continue
			}
			fmt.Printf("%-8s [%s] %s\n", r.name, rumor.TagValue("subject"), common.Shorten(rumor.Content, 72))
		}
	}
}
