// Server = mint wallet + checkout pipeline + db + http reporter.
// All components are configured via envionment variables (strings!).

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/checkout"
	"github.com/shopkit/checkout-go/checkoutdb"
	"github.com/shopkit/checkout-go/common"
	"github.com/shopkit/checkout-go/database"
	"github.com/shopkit/checkout-go/lnaddress"
	"github.com/shopkit/checkout-go/mintwallet"
	"github.com/shopkit/checkout-go/notify"
	"github.com/shopkit/checkout-go/proofledger"
	"github.com/shopkit/checkout-go/quote"
	"github.com/shopkit/checkout-go/relay"
	"github.com/shopkit/checkout-go/reporter"
	"github.com/shopkit/checkout-go/settlement"
	"github.com/shopkit/checkout-go/signers"
)

// Default params for server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	MINT_MODE_SIMULATED = "simulated"

	// quote polling: 40 x 2.1s
	DefaultQuotePollAttempts = 40
	DefaultQuotePollInterval = 2100 * time.Millisecond

	// notification delivery
	DefaultNotifyAttempts = 3
	DefaultNotifyBackoff  = 1 * time.Second
	DefaultNotifyPacing   = 500 * time.Millisecond

	// lightning payout target = floor(seller * ratio) - flat
	DefaultMeltFeeRatio = 0.98
	DefaultMeltFeeFlat  = 2

	// external calls
	lnurlTimeout      = 10 * time.Second
	relayDialTimeout  = 5 * time.Second
	relayAckTimeout   = 5 * time.Second
	DefaultHttpIp     = "0.0.0.0"
	DefaultHttpPort   = "8080"
	DefaultDbFilePath = "checkout.db"
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type CheckoutServerConfig struct {
	// mint side
	MintURL  string // mint url written into tokens
	MintMode string // only "simulated" is built in

	// state side
	DbFilePath string // db file path

	// messaging side
	Relays         []string // wss:// relay urls
	SignerKey      string   // nsec or hex key the messages are sealed with
	DonationPubkey string   // npub or hex of the donation recipient

	// payouts
	ExcludedLnDomains []string
	MeltFeeRatio      float64
	MeltFeeFlat       uint64
	Sellers           agreement.StaticProfiles

	// timing
	QuotePollAttempts int
	QuotePollInterval time.Duration
	NotifyAttempts    int
	NotifyBackoff     time.Duration
	NotifyPacing      time.Duration

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080
}

// DefaultCheckoutServerConfig returns a config with every default filled in.
func DefaultCheckoutServerConfig() *CheckoutServerConfig {
	return &CheckoutServerConfig{
		MintMode:          MINT_MODE_SIMULATED,
		DbFilePath:        DefaultDbFilePath,
		MeltFeeRatio:      DefaultMeltFeeRatio,
		MeltFeeFlat:       DefaultMeltFeeFlat,
		Sellers:           agreement.StaticProfiles{},
		QuotePollAttempts: DefaultQuotePollAttempts,
		QuotePollInterval: DefaultQuotePollInterval,
		NotifyAttempts:    DefaultNotifyAttempts,
		NotifyBackoff:     DefaultNotifyBackoff,
		NotifyPacing:      DefaultNotifyPacing,
		HttpIp:            DefaultHttpIp,
		HttpPort:          DefaultHttpPort,
	}
}

// CheckoutServer holds the objects that consists of the checkout server.
type CheckoutServer struct {
	Wallet     mintwallet.Wallet
	Db         *database.DB
	CheckoutDb *checkoutdb.CheckoutDB
	Signer     *signers.LocalSigner
	Publisher  relay.Publisher
	Service    *checkout.Service
	Reporter   *reporter.HttpReporter
}

// NewMintWallet creates the wallet selected by mode.
func NewMintWallet(mode string, mintURL string) (mintwallet.Wallet, error) {
	switch mode {
	case MINT_MODE_SIMULATED, "":
		return mintwallet.NewSimulatedMint(mintwallet.SimConfig{URL: mintURL}), nil
	default:
		return nil, fmt.Errorf("unsupported mint mode %q", mode)
	}
}

// NewCheckoutServer wires the checkout pipeline. publisher may be nil, in
// which case a websocket publisher over csc.Relays is created.
// ctx is the parent of every background checkout.
func NewCheckoutServer(csc *CheckoutServerConfig, wallet mintwallet.Wallet, publisher relay.Publisher, ctx context.Context) (*CheckoutServer, error) {
	signer, err := signers.NewLocalSigner(csc.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("signer key: %w", err)
	}
	donationPubkey, err := common.NormalizePubkey(csc.DonationPubkey)
	if err != nil {
		return nil, fmt.Errorf("donation pubkey: %w", err)
	}
	npub, err := signer.Npub()
	if err != nil {
		return nil, fmt.Errorf("signer npub: %w", err)
	}
	logger.WithField("npub", npub).Info("messages are sealed by")

	db, err := database.Open(csc.DbFilePath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	checkoutDb, err := checkoutdb.NewCheckoutDB(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkout db: %w", err)
	}

	if publisher == nil {
		publisher = relay.NewWebsocketPublisher(&relay.Config{
			Relays:      csc.Relays,
			DialTimeout: relayDialTimeout,
			AckTimeout:  relayAckTimeout,
		})
	}

	resolver := lnaddress.NewHttpResolver(&lnaddress.Config{
		Timeout:         lnurlTimeout,
		ExcludedDomains: csc.ExcludedLnDomains,
	})

	quotes := quote.NewManager(&quote.Config{
		MaxAttempts: csc.QuotePollAttempts,
		Interval:    csc.QuotePollInterval,
	}, wallet, checkoutDb)

	engine := settlement.NewEngine(&settlement.Config{
		MeltFeeRatio:   csc.MeltFeeRatio,
		MeltFeeFlat:    csc.MeltFeeFlat,
		DonationPubkey: donationPubkey,
	}, proofledger.New(wallet), resolver)

	sequencer := notify.NewSequencer(&notify.Config{
		MaxAttempts: csc.NotifyAttempts,
		Backoff:     csc.NotifyBackoff,
		Pacing:      csc.NotifyPacing,
	}, signer, publisher, checkoutDb)

	service := checkout.NewService(ctx, quotes, engine, sequencer, csc.Sellers, checkoutDb, wallet.MintURL())

	return &CheckoutServer{
		Wallet:     wallet,
		Db:         db,
		CheckoutDb: checkoutDb,
		Signer:     signer,
		Publisher:  publisher,
		Service:    service,
		Reporter:   reporter.NewHttpReporter(csc.HttpIp, csc.HttpPort, service, checkoutDb),
	}, nil
}

// Close waits for background checkouts and releases the db and relays.
func (s *CheckoutServer) Close() {
	s.Service.Wait()
	if ws, ok := s.Publisher.(*relay.WebsocketPublisher); ok {
		ws.Close()
	}
	s.Db.Close()
}

// Create, then start the checkout server and wait.
// Press Ctrl-C to kill the server.
func StartCheckoutServerAndWait(csc *CheckoutServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	wallet, err := NewMintWallet(csc.MintMode, csc.MintURL)
	if err != nil {
		logger.Fatalf("failed to create mint wallet: %v", err)
	}
	server, err := NewCheckoutServer(csc, wallet, nil, ctx)
	if err != nil {
		logger.Fatalf("failed to create checkout server: %v", err)
	}

	// Turn on the http server
	go server.Reporter.Run()

	sig := <-sigCh
	fmt.Printf("Received signal: %v, cancelling context...\n", sig)
	cancel()
	server.Close()
}
