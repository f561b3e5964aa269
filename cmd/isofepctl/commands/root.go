// Package commands implements the isofepctl cobra command tree: an
// interactive/one-shot CLI that drives an in-process fisc.Client
// against a running front-end processor.
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/isofep/internal/fisc"
	"github.com/dantte-lp/isofep/internal/framer"
)

var (
	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	mode        string
	sendAddr    string
	recvAddr    string
	unifiedAddr string
	connTimeout time.Duration
)

// rootCmd is the top-level cobra command for isofepctl.
var rootCmd = &cobra.Command{
	Use:   "isofepctl",
	Short: "CLI client for an ISO 8583 front-end processor",
	Long:  "isofepctl connects directly to a front-end processor over TCP and drives ISO 8583 exchanges.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "dual", "connection mode: dual or unified")
	rootCmd.PersistentFlags().StringVar(&sendAddr, "send-addr", "127.0.0.1:7001", "send-side address (dual mode)")
	rootCmd.PersistentFlags().StringVar(&recvAddr, "receive-addr", "127.0.0.1:7002", "receive-side address (dual mode)")
	rootCmd.PersistentFlags().StringVar(&unifiedAddr, "unified-addr", "127.0.0.1:7000", "unified address (unified mode)")
	rootCmd.PersistentFlags().DurationVar(&connTimeout, "timeout", 5*time.Second, "connect/sign-on/request timeout")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: table, json")

	rootCmd.AddCommand(echoCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// dialAndSignOn builds a fisc.Client from the persistent connection
// flags, connects, and signs on. The caller owns the returned client
// and must Close it.
func dialAndSignOn() (*fisc.Client, error) {
	fiscMode, err := parseMode(mode)
	if err != nil {
		return nil, err
	}

	cfg := fisc.Config{
		Mode:            fiscMode,
		FailureStrategy: fisc.FailWhenBothDown,
		SendAddr:        sendAddr,
		ReceiveAddr:     recvAddr,
		UnifiedAddr:     unifiedAddr,
		Framer:          framer.DefaultConfig(),
		ConnectTimeout:  connTimeout,
		ReadTimeout:     connTimeout,
		SignOnTimeout:   connTimeout,
	}

	client, err := fisc.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("construct client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), connTimeout)
	defer cancel()
	if err := client.SignOn(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sign on: %w", err)
	}

	return client, nil
}

func parseMode(s string) (fisc.Mode, error) {
	switch s {
	case "unified":
		return fisc.ModeUnified, nil
	case "dual":
		return fisc.ModeDual, nil
	default:
		return 0, fmt.Errorf("unknown mode %q, expected dual or unified", s)
	}
}
