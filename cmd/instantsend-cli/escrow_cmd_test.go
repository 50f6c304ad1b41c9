package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"instantsend/crypto"
	"instantsend/native/escrow"
)

func TestParseExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()

	got, err := parseExpiry("+24h", now)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if want := now.Add(24 * time.Hour).Unix(); got != want {
		t.Fatalf("duration expiry: got %d want %d", got, want)
	}

	got, err = parseExpiry("2026-09-01T12:00:00Z", now)
	if err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	if want := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC).Unix(); got != want {
		t.Fatalf("rfc3339 expiry: got %d want %d", got, want)
	}

	got, err = parseExpiry("1800000000", now)
	if err != nil || got != 1_800_000_000 {
		t.Fatalf("unix expiry: got %d err=%v", got, err)
	}

	for _, bad := range []string{"", "+0s", "+-3h", "yesterday"} {
		if _, err := parseExpiry(bad, now); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseAssetFlag(t *testing.T) {
	asset, err := parseAssetFlag("")
	if err != nil {
		t.Fatalf("native: %v", err)
	}
	if asset != escrow.NativeAsset() {
		t.Fatalf("empty mint must mean native, got %+v", asset)
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	mint := key.PubKey().Address()
	asset, err = parseAssetFlag(mint.String())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if asset.Kind != escrow.AssetToken || asset.Mint != mint.Array() {
		t.Fatalf("token asset mismatch: %+v", asset)
	}

	if _, err := parseAssetFlag("garbage"); err == nil {
		t.Fatal("malformed mint must be rejected")
	}
}

func TestApplyGlobalFlags(t *testing.T) {
	orig := rpcEndpoint
	defer func() { rpcEndpoint = orig }()

	args, err := applyGlobalFlags([]string{"--rpc", "http://node:1234", "balance", "isd1xyz"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rpcEndpoint != "http://node:1234" {
		t.Fatalf("endpoint: %s", rpcEndpoint)
	}
	if len(args) != 2 || args[0] != "balance" {
		t.Fatalf("remaining args: %v", args)
	}

	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatal("dangling --rpc must error")
	}

	args, err = applyGlobalFlags([]string{"--rpc=http://other:1", "escrow"})
	if err != nil || rpcEndpoint != "http://other:1" {
		t.Fatalf("equals form: endpoint=%s err=%v", rpcEndpoint, err)
	}
	if len(args) != 1 || args[0] != "escrow" {
		t.Fatalf("remaining args: %v", args)
	}
}

func TestEscrowCommandValidation(t *testing.T) {
	var stdout, stderr bytes.Buffer

	if code := runEscrowCommand(nil, &stdout, &stderr); code == 0 {
		t.Fatal("no subcommand must fail")
	}
	if !strings.Contains(stderr.String(), "Usage") {
		t.Fatalf("usage not printed: %s", stderr.String())
	}

	stderr.Reset()
	if code := runEscrowCommand([]string{"send", "--amount", "10"}, &stdout, &stderr); code == 0 {
		t.Fatal("send without --key must fail")
	}
	if !strings.Contains(stderr.String(), "--key") {
		t.Fatalf("missing flag not reported: %s", stderr.String())
	}

	stderr.Reset()
	if code := runEscrowCommand([]string{"derive"}, &stdout, &stderr); code == 0 {
		t.Fatal("derive without --secret must fail")
	}

	stderr.Reset()
	if code := runEscrowCommand([]string{"reclaim", "--key", "wallet.json"}, &stdout, &stderr); code == 0 {
		t.Fatal("reclaim without secret or address must fail")
	}
}

func TestEscrowDeriveWritesAddress(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runEscrowDerive([]string{"--secret", "derive me"}, &stdout, &stderr); code != 0 {
		t.Fatalf("derive failed: %s", stderr.String())
	}
	out := strings.TrimSpace(stdout.String())
	decoded, err := crypto.DecodeAddress(out)
	if err != nil {
		t.Fatalf("output %q is not an address: %v", out, err)
	}
	commitment, err := escrow.Commit("derive me")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	want, err := escrow.DeriveAddress(escrow.NativeAsset(), commitment)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if decoded.Array() != want {
		t.Fatal("printed address does not match the derivation")
	}
}
