package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/app"
	"vanish-drop/internal/auth"
	"vanish-drop/internal/config"
	"vanish-drop/internal/telegram"
)

// Flag variables.
var (
	tokenOperator int64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "vanish-drop",
	Short:         "Telegram bot that hands out self-destructing media behind channel membership checks.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the HTTP server (default).",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin API token for an operator.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if !cfg.AdminAPIEnabled() {
			return errors.New("ADMIN_API_SECRET is not set, the admin API is disabled")
		}
		operatorID := tokenOperator
		if operatorID == 0 {
			operatorID = cfg.PrimaryOperatorID
		}

		tok, err := auth.CreateToken(operatorID, auth.TokenConfig{
			Secret: cfg.AdminSecret,
			Expiry: cfg.TokenExpiry,
			Issuer: "vanish-drop",
		})
		if err != nil {
			return errors.Wrap(err, "create token")
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenOperator, "operator", 0,
		"Operator id the token is issued to. Defaults to the primary operator.")

	rootCmd.AddCommand(serveCmd, tokenCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	jww.SetStdoutThreshold(cfg.LogThreshold())
	gin.SetMode(cfg.GinMode)

	client, err := telegram.New(cfg.BotToken)
	if err != nil {
		return errors.Wrap(err, "connect to telegram")
	}
	jww.INFO.Printf("vanish-drop %s running as @%s", app.Version, client.Username())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.New(ctx, cfg, client).Run()
}
