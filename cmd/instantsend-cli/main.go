package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"instantsend/client"
	"instantsend/crypto"
)

const (
	rpcTokenEnv   = "ISND_RPC_TOKEN"
	rpcURLEnv     = "ISND_RPC_URL"
	passphraseEnv = "ISND_KEYSTORE_PASSPHRASE"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv(rpcTokenEnv)

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv(rpcURLEnv)); url != "" {
		return url
	}
	return "http://127.0.0.1:8645"
}

// applyGlobalFlags strips flags that apply to every command before the
// subcommand dispatch sees the arguments.
func applyGlobalFlags(args []string) ([]string, error) {
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a URL argument")
			}
			i++
			rpcEndpoint = args[i]
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		default:
			remaining = append(remaining, arg)
		}
	}
	if strings.TrimSpace(rpcEndpoint) == "" {
		return nil, fmt.Errorf("rpc endpoint must not be empty")
	}
	return remaining, nil
}

func newClient() *client.Client {
	return client.New(rpcEndpoint, rpcAuthToken)
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// lookupPassphrase is a seam for tests.
var lookupPassphrase = func() (string, bool) {
	return os.LookupEnv(passphraseEnv)
}

// loadKey decrypts the keystore file named by path. The passphrase comes from
// the environment so it never shows up in shell history.
func loadKey(path string) (*crypto.PrivateKey, error) {
	passphrase, ok := lookupPassphrase()
	if !ok {
		return nil, fmt.Errorf("set %s to the keystore passphrase", passphraseEnv)
	}
	return crypto.LoadFromKeystore(path, passphrase)
}

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	switch args[0] {
	case "generate-key":
		code := runGenerateKey(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
	case "balance":
		code := runBalance(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
	case "transfer":
		code := runTransfer(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
	case "escrow":
		code := runEscrowCommand(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: instantsend-cli [--rpc <url>] <command> [arguments]

Commands:
  generate-key --out <file>                     Create a new keypair keystore file
  balance <address> [--mint <address>]          Show an account balance and nonce
  transfer --key <file> --to <addr> --amount N  Move native coins between accounts
  escrow <subcommand>                           Hashed-time-locked escrow operations

Escrow subcommands:
  escrow send     Lock funds under a secret commitment
  escrow redeem   Claim locked funds by revealing the secret
  escrow reclaim  Return expired funds to the sender
  escrow derive   Compute the escrow address for a secret
  escrow get      Inspect the record stored at an escrow address

Environment:
  ` + rpcURLEnv + `              RPC endpoint (default http://127.0.0.1:8645)
  ` + rpcTokenEnv + `            Bearer token for transaction submission
  ` + passphraseEnv + `  Keystore passphrase`)
}
