package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"

	"instantsend/crypto"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate-key", stderr)
	var out string
	fs.StringVar(&out, "out", "wallet.json", "path of the keystore file to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	passphrase, err := requirePassphrase()
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintln(stderr, "Error: failed to generate key:", err)
		return 1
	}
	if err := crypto.SaveToKeystore(out, key, passphrase); err != nil {
		fmt.Fprintln(stderr, "Error: failed to save keystore:", err)
		return 1
	}
	fmt.Fprintf(stdout, "New key saved to %s\n", out)
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address().String())
	return 0
}

func requirePassphrase() (string, error) {
	passphrase, ok := lookupPassphrase()
	if !ok {
		return "", fmt.Errorf("set %s to the keystore passphrase", passphraseEnv)
	}
	if strings.TrimSpace(passphrase) == "" {
		return "", fmt.Errorf("%s must not be empty", passphraseEnv)
	}
	return passphrase, nil
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		fmt.Fprintln(stderr, "Usage: balance <address> [--mint <address>]")
		return 1
	}
	address := args[0]
	fs := newFlagSet("balance", stderr)
	var mint string
	fs.StringVar(&mint, "mint", "", "token mint address (omit for the native coin)")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	addr, err := crypto.DecodeAddress(address)
	if err != nil {
		fmt.Fprintln(stderr, "Error: invalid address:", err)
		return 1
	}

	ctx, cancel := callContext()
	defer cancel()
	c := newClient()

	if mint != "" {
		balance, err := c.TokenBalance(ctx, addr, mint)
		if err != nil {
			fmt.Fprintln(stderr, "Error:", err)
			return 1
		}
		fmt.Fprintf(stdout, "Balance of %s (mint %s): %s\n", address, mint, balance.String())
		return 0
	}

	balance, nonce, err := c.Account(ctx, addr)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	fmt.Fprintf(stdout, "Balance of %s: %s (nonce %d)\n", address, balance.String(), nonce)
	return 0
}

func runTransfer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer", stderr)
	var (
		keyFile   string
		to        string
		amountStr string
	)
	fs.StringVar(&keyFile, "key", "", "keystore file of the sender")
	fs.StringVar(&to, "to", "", "recipient bech32 address")
	fs.StringVar(&amountStr, "amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if keyFile == "" || to == "" || amountStr == "" {
		fmt.Fprintln(stderr, "Error: --key, --to and --amount are required")
		return 1
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok || amount.Sign() <= 0 {
		fmt.Fprintln(stderr, "Error: --amount must be a positive integer")
		return 1
	}
	toAddr, err := crypto.DecodeAddress(to)
	if err != nil {
		fmt.Fprintln(stderr, "Error: invalid recipient:", err)
		return 1
	}
	key, err := loadKey(keyFile)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	ctx, cancel := callContext()
	defer cancel()
	if err := newClient().Transfer(ctx, key, toAddr, amount); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	fmt.Fprintf(stdout, "Sent %s to %s\n", amount.String(), to)
	return 0
}
