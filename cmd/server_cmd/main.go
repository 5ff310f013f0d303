package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/shopkit/checkout-go/cmd"
	"github.com/shopkit/checkout-go/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "CHECKOUT_CONFIG"
)

func main() {
	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	// Without a file every key comes from the environment.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	if _config_file != "" {
		fmt.Printf("Checkout server configuration file = %s\n", _config_file)
		if !cmd.FileExists(_config_file) {
			fmt.Printf("Checkout server configuration file not found: %s\n", _config_file)
			return
		}
		if !initializeViper(_config_file) {
			return
		}
	}

	logconfig.ConfigLogger(viper.GetString("LOG_LEVEL"))

	// Make the configuration
	csc, err := PrepareCheckoutServerConfig()
	if err != nil {
		fmt.Printf("Error loading checkout server configuration: %v\n", err)
		return
	}

	fmt.Println("Starting checkout server... press Ctrl+C to kill the server")
	// Start server and block.
	cmd.StartCheckoutServerAndWait(csc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

func setDefaults() {
	viper.SetDefault("MINT_MODE", cmd.MINT_MODE_SIMULATED)
	viper.SetDefault("DB_FILE_PATH", cmd.DefaultDbFilePath)
	viper.SetDefault("HTTP_IP", cmd.DefaultHttpIp)
	viper.SetDefault("HTTP_PORT", cmd.DefaultHttpPort)
	viper.SetDefault("QUOTE_POLL_ATTEMPTS", cmd.DefaultQuotePollAttempts)
	viper.SetDefault("QUOTE_POLL_INTERVAL", cmd.DefaultQuotePollInterval)
	viper.SetDefault("NOTIFY_ATTEMPTS", cmd.DefaultNotifyAttempts)
	viper.SetDefault("NOTIFY_BACKOFF", cmd.DefaultNotifyBackoff)
	viper.SetDefault("NOTIFY_PACING", cmd.DefaultNotifyPacing)
	viper.SetDefault("MELT_FEE_RATIO", cmd.DefaultMeltFeeRatio)
	viper.SetDefault("MELT_FEE_FLAT", cmd.DefaultMeltFeeFlat)
	viper.SetDefault("LOG_LEVEL", "production")
}

// PrepareCheckoutServerConfig reads configuration variables and returns a CheckoutServerConfig.
func PrepareCheckoutServerConfig() (*cmd.CheckoutServerConfig, error) {
	setDefaults()

	// *** prepare objects that aren't string type ***
	sellers, err := cmd.ParseSellers(viper.GetString("SELLERS"))
	if err != nil {
		return nil, err
	}
	// *** end of preparing objects ***

	return &cmd.CheckoutServerConfig{
		// mint side
		MintURL:  viper.GetString("MINT_URL"),
		MintMode: viper.GetString("MINT_MODE"),
		// state side
		DbFilePath: viper.GetString("DB_FILE_PATH"),
		// messaging side
		Relays:         cmd.SplitList(viper.GetString("RELAYS")),
		SignerKey:      viper.GetString("SIGNER_NSEC"),
		DonationPubkey: viper.GetString("DONATION_PUBKEY"),
		// payouts
		ExcludedLnDomains: cmd.SplitList(viper.GetString("EXCLUDED_LN_DOMAINS")),
		MeltFeeRatio:      viper.GetFloat64("MELT_FEE_RATIO"),
		MeltFeeFlat:       viper.GetUint64("MELT_FEE_FLAT"),
		Sellers:           sellers,
		// timing
		QuotePollAttempts: viper.GetInt("QUOTE_POLL_ATTEMPTS"),
		QuotePollInterval: viper.GetDuration("QUOTE_POLL_INTERVAL"),
		NotifyAttempts:    viper.GetInt("NOTIFY_ATTEMPTS"),
		NotifyBackoff:     viper.GetDuration("NOTIFY_BACKOFF"),
		NotifyPacing:      viper.GetDuration("NOTIFY_PACING"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}, nil
}
