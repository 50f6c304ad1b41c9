package main

import (
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"instantsend/client"
	"instantsend/crypto"
	"instantsend/native/escrow"
)

var escrowNow = time.Now

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}

	switch args[0] {
	case "send":
		return runEscrowSend(args[1:], stdout, stderr)
	case "redeem":
		return runEscrowRedeem(args[1:], stdout, stderr)
	case "reclaim":
		return runEscrowReclaim(args[1:], stdout, stderr)
	case "derive":
		return runEscrowDerive(args[1:], stdout, stderr)
	case "get":
		return runEscrowGet(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func escrowUsage() string {
	return `Usage: instantsend-cli escrow <subcommand>

Subcommands:
  send    --key <file> --amount N --secret <s> --expires <when> [--mint <addr>]
  redeem  --key <file> --secret <s> [--mint <addr>]
  reclaim --key <file> (--secret <s> | --address <addr>) [--mint <addr>]
  derive  --secret <s> [--mint <addr>]
  get     --address <addr>

--expires accepts +duration (e.g. +24h), an RFC3339 timestamp or a unix time.`
}

func printEscrowError(stderr io.Writer, msg string) int {
	fmt.Fprintln(stderr, "Error:", msg)
	return 1
}

// parseAssetFlag maps an optional --mint value onto the asset class.
func parseAssetFlag(mint string) (escrow.AssetClass, error) {
	if strings.TrimSpace(mint) == "" {
		return escrow.NativeAsset(), nil
	}
	addr, err := crypto.DecodeAddress(mint)
	if err != nil {
		return escrow.AssetClass{}, fmt.Errorf("--mint: %w", err)
	}
	return escrow.TokenAsset(addr.Array()), nil
}

// parseExpiry accepts "+duration", RFC3339, or a raw unix timestamp.
func parseExpiry(raw string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("--expires is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		d, err := time.ParseDuration(strings.TrimPrefix(trimmed, "+"))
		if err != nil {
			return 0, fmt.Errorf("--expires: %w", err)
		}
		if d <= 0 {
			return 0, fmt.Errorf("--expires duration must be positive")
		}
		return now.Add(d).Unix(), nil
	}
	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return ts.Unix(), nil
	}
	unix, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--expires must be +duration, RFC3339 or unix seconds")
	}
	return unix, nil
}

func runEscrowSend(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow send", stderr)
	var (
		keyFile   string
		amountStr string
		secret    string
		expires   string
		mint      string
	)
	fs.StringVar(&keyFile, "key", "", "keystore file of the sender")
	fs.StringVar(&amountStr, "amount", "", "amount in base units")
	fs.StringVar(&secret, "secret", "", "redemption secret (only its hash leaves this machine)")
	fs.StringVar(&expires, "expires", "", "expiry as +duration, RFC3339 or unix seconds")
	fs.StringVar(&mint, "mint", "", "token mint address (omit for the native coin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if keyFile == "" {
		return printEscrowError(stderr, "--key is required")
	}
	if secret == "" {
		return printEscrowError(stderr, "--secret is required")
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok || amount.Sign() <= 0 {
		return printEscrowError(stderr, "--amount must be a positive integer")
	}
	asset, err := parseAssetFlag(mint)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}
	expiresAt, err := parseExpiry(expires, escrowNow())
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}
	key, err := loadKey(keyFile)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}

	ctx, cancel := callContext()
	defer cancel()
	addr, err := newClient().Initialize(ctx, key, asset, amount, expiresAt, secret)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Escrow created at %s\n", addr.String())
	fmt.Fprintf(stdout, "Amount: %s, expires: %s\n", amount.String(), time.Unix(expiresAt, 0).UTC().Format(time.RFC3339))
	fmt.Fprintln(stdout, "Keep the secret safe; it is the only way to redeem before expiry.")
	return 0
}

func runEscrowRedeem(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow redeem", stderr)
	var (
		keyFile string
		secret  string
		mint    string
	)
	fs.StringVar(&keyFile, "key", "", "keystore file of the recipient")
	fs.StringVar(&secret, "secret", "", "redemption secret")
	fs.StringVar(&mint, "mint", "", "token mint address (omit for the native coin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if keyFile == "" {
		return printEscrowError(stderr, "--key is required")
	}
	if secret == "" {
		return printEscrowError(stderr, "--secret is required")
	}
	asset, err := parseAssetFlag(mint)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}
	key, err := loadKey(keyFile)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}

	ctx, cancel := callContext()
	defer cancel()
	amount, err := newClient().Redeem(ctx, key, asset, secret)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Redeemed %s to %s\n", amount.String(), key.PubKey().Address().String())
	return 0
}

func runEscrowReclaim(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow reclaim", stderr)
	var (
		keyFile string
		secret  string
		address string
		mint    string
	)
	fs.StringVar(&keyFile, "key", "", "keystore file of the original sender")
	fs.StringVar(&secret, "secret", "", "redemption secret")
	fs.StringVar(&address, "address", "", "escrow address, if the secret was not kept")
	fs.StringVar(&mint, "mint", "", "token mint address (omit for the native coin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if keyFile == "" {
		return printEscrowError(stderr, "--key is required")
	}
	if secret == "" && address == "" {
		return printEscrowError(stderr, "provide --secret or --address")
	}
	asset, err := parseAssetFlag(mint)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}
	key, err := loadKey(keyFile)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}

	ctx, cancel := callContext()
	defer cancel()
	c := newClient()
	var amount *big.Int
	if secret != "" {
		amount, err = c.Reclaim(ctx, key, asset, secret)
	} else {
		var addr crypto.Address
		addr, err = crypto.DecodeAddress(address)
		if err != nil {
			return printEscrowError(stderr, fmt.Sprintf("--address: %v", err))
		}
		amount, err = c.ReclaimAt(ctx, key, asset, addr)
	}
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Reclaimed %s to %s\n", amount.String(), key.PubKey().Address().String())
	return 0
}

func runEscrowDerive(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow derive", stderr)
	var (
		secret string
		mint   string
	)
	fs.StringVar(&secret, "secret", "", "redemption secret")
	fs.StringVar(&mint, "mint", "", "token mint address (omit for the native coin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if secret == "" {
		return printEscrowError(stderr, "--secret is required")
	}
	asset, err := parseAssetFlag(mint)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}
	addr, err := client.DeriveEscrowAddress(asset, secret)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, addr.String())
	return 0
}

func runEscrowGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow get", stderr)
	var address string
	fs.StringVar(&address, "address", "", "escrow address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if address == "" {
		return printEscrowError(stderr, "--address is required")
	}
	addr, err := crypto.DecodeAddress(address)
	if err != nil {
		return printEscrowError(stderr, fmt.Sprintf("--address: %v", err))
	}

	ctx, cancel := callContext()
	defer cancel()
	record, err := newClient().Escrow(ctx, addr)
	if err != nil {
		return printEscrowError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Address:    %s\n", record.Address)
	fmt.Fprintf(stdout, "Sender:     %s\n", record.Sender)
	if record.Asset.Kind == "token" {
		fmt.Fprintf(stdout, "Asset:      token (mint %s)\n", record.Asset.Mint)
	} else {
		fmt.Fprintf(stdout, "Asset:      native\n")
	}
	fmt.Fprintf(stdout, "Amount:     %s\n", record.Amount)
	fmt.Fprintf(stdout, "Expires:    %s\n", time.Unix(record.ExpiresAt, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(stdout, "Redeemed:   %t\n", record.Redeemed)
	fmt.Fprintf(stdout, "Commitment: %s\n", record.Commitment)
	return 0
}
