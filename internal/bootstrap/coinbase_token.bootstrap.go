package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/krobus00/market-collector/internal/config"
	"github.com/krobus00/market-collector/internal/entity"
	"github.com/krobus00/market-collector/internal/service/credential"
	"github.com/krobus00/market-collector/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// PrintCoinbaseToken signs one CDP jwt from the configured coinbase key, for
// calling the REST api by hand.
func PrintCoinbaseToken(cmd *cobra.Command, args []string) {
	exchangeName, _ := cmd.Flags().GetString("exchange")
	uri, _ := cmd.Flags().GetString("uri")
	keyFile, _ := cmd.Flags().GetString("keyFile")

	exchange := entity.ExchangeName(strings.ToLower(strings.TrimSpace(exchangeName)))
	cfg := config.Env.Exchanges[string(exchange)].Credential
	cfg.Type = credential.SignerTypeCoinbaseJWT
	if uri != "" {
		cfg.URI = uri
	}
	if keyFile != "" {
		cfg.KeyFile = keyFile
	}

	signer, err := credential.NewSigner(exchange, cfg)
	util.ContinueOrFatal(err)

	cred, err := signer.Sign(context.Background(), time.Now().UTC())
	util.ContinueOrFatal(err)

	logrus.WithFields(logrus.Fields{
		"key_name":   cred.APIKey,
		"expires_at": cred.ExpiresAt.Format(time.RFC3339),
	}).Info("signed coinbase jwt")

	fmt.Fprintln(cmd.OutOrStdout(), cred.Signature)
}
