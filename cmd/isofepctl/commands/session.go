package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/isofep/internal/iso8583"
)

var errInvalidFieldFlag = errors.New("--field must be FIELD=VALUE, e.g. --field 4=000000010000")

// --- echo ---

func echoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "echo",
		Short: "Connect, sign on, send a network management echo, and print the response",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := dialAndSignOn()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
			defer cancel()

			resp, err := client.SendAndReceive(ctx, iso8583.NewEcho(""), connTimeout)
			if err != nil {
				return fmt.Errorf("echo: %w", err)
			}

			out, err := formatMessage(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format response: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

// --- send ---

func sendCmd() *cobra.Command {
	var mti string
	var fields []string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Connect, sign on, send a request with the given MTI/fields, and print the response",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := iso8583.New(mti)
			for _, kv := range fields {
				field, value, err := parseFieldFlag(kv)
				if err != nil {
					return err
				}
				req.Set(field, value)
			}

			client, err := dialAndSignOn()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
			defer cancel()

			resp, err := client.SendAndReceive(ctx, req, connTimeout)
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}

			out, err := formatMessage(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format response: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&mti, "mti", "0200", "message type indicator, e.g. 0200")
	flags.StringArrayVar(&fields, "field", nil, "field=value pair, repeatable, e.g. --field 4=000000010000")

	return cmd
}

// parseFieldFlag splits "FIELD=VALUE" into a field number and its value.
func parseFieldFlag(kv string) (int, string, error) {
	parts := strings.SplitN(kv, "=", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("%q: %w", kv, errInvalidFieldFlag)
	}
	field, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("%q: %w", kv, errInvalidFieldFlag)
	}
	return field, parts[1], nil
}
