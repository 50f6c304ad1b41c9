package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"instantsend/core/events"
	"instantsend/core/types"
	"instantsend/crypto"
	"instantsend/native/escrow"
	"instantsend/storage"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewNode(storage.NewMemDB(), logger)
}

func newTestKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func fundKey(t *testing.T, node *Node, key *crypto.PrivateKey, amount int64) {
	t.Helper()
	addr := key.PubKey().Address()
	account, err := node.State().GetAccount(addr.Bytes())
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	account.Balance = big.NewInt(amount)
	if err := node.State().PutAccount(addr.Bytes(), account); err != nil {
		t.Fatalf("put account: %v", err)
	}
}

func signedTx(t *testing.T, key *crypto.PrivateKey, txType types.TxType, nonce uint64, payload interface{}) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{Type: txType, Nonce: nonce}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		tx.Data = data
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func initPayload(t *testing.T, secret string, amount int64, expiresAt int64) InitEscrowPayload {
	t.Helper()
	commitment, err := escrow.Commit(secret)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return InitEscrowPayload{
		Asset:      AssetPayload{Kind: "native"},
		Amount:     big.NewInt(amount),
		ExpiresAt:  expiresAt,
		Commitment: hex.EncodeToString(commitment[:]),
	}
}

func TestEscrowLifecycleOverTransactions(t *testing.T) {
	node := newTestNode(t)
	node.SetNowFunc(func() int64 { return 1_000 })
	sender := newTestKey(t)
	recipient := newTestKey(t)
	fundKey(t, node, sender, 1_000_000)

	secret := "correct horse battery staple"
	receipt, err := node.ApplyTransaction(signedTx(t, sender, types.TxTypeInitEscrow, 0, initPayload(t, secret, 1_000_000, 2_000)))
	if err != nil {
		t.Fatalf("init escrow: %v", err)
	}
	commitment, _ := escrow.Commit(secret)
	wantAddr, _ := escrow.DeriveAddress(escrow.NativeAsset(), commitment)
	if receipt.EscrowAddress != wantAddr {
		t.Fatalf("receipt address mismatch: got %x want %x", receipt.EscrowAddress, wantAddr)
	}
	if len(receipt.Events) != 1 {
		t.Fatalf("init events: got %d want 1", len(receipt.Events))
	}
	if receipt.Events[len(receipt.Events)-1].Type != events.TypeEscrowInitialized {
		t.Fatalf("last init event type: %s", receipt.Events[len(receipt.Events)-1].Type)
	}

	senderAcc, _ := node.GetAccount(sender.PubKey().Address().Bytes())
	if senderAcc.Balance.Sign() != 0 {
		t.Fatalf("sender balance after lock: %s", senderAcc.Balance)
	}
	if senderAcc.Nonce != 1 {
		t.Fatalf("sender nonce after init: %d", senderAcc.Nonce)
	}

	record, ok := node.EscrowGet(wantAddr)
	if !ok || record.Redeemed {
		t.Fatalf("stored record missing or redeemed: %+v ok=%t", record, ok)
	}

	redeemTx := signedTx(t, recipient, types.TxTypeRedeemEscrow, 0, RedeemEscrowPayload{
		Asset:  AssetPayload{Kind: "native"},
		Secret: secret,
	})
	receipt, err = node.ApplyTransaction(redeemTx)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if receipt.Amount.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("redeem amount: %s", receipt.Amount)
	}
	recipientAcc, _ := node.GetAccount(recipient.PubKey().Address().Bytes())
	if recipientAcc.Balance.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("recipient balance: %s", recipientAcc.Balance)
	}

	record, ok = node.EscrowGet(wantAddr)
	if !ok || !record.Redeemed {
		t.Fatal("record must remain as a redeemed tombstone")
	}
}

func TestNonceOrderingAndReplay(t *testing.T) {
	node := newTestNode(t)
	sender := newTestKey(t)
	recipient := newTestKey(t)
	fundKey(t, node, sender, 100)

	tx := &types.Transaction{
		Type:  types.TxTypeTransfer,
		Nonce: 0,
		To:    recipient.PubKey().Address().Bytes(),
		Value: big.NewInt(10),
	}
	if err := tx.Sign(sender.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := node.ApplyTransaction(tx); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Replaying the identical signed transaction must fail on the nonce.
	if _, err := node.ApplyTransaction(tx); !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("replay: got %v", err)
	}

	future := &types.Transaction{
		Type:  types.TxTypeTransfer,
		Nonce: 5,
		To:    recipient.PubKey().Address().Bytes(),
		Value: big.NewInt(10),
	}
	if err := future.Sign(sender.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := node.ApplyTransaction(future); !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("nonce gap: got %v", err)
	}
}

func TestSelfTransferCannotMint(t *testing.T) {
	node := newTestNode(t)
	sender := newTestKey(t)
	fundKey(t, node, sender, 100)
	addr := sender.PubKey().Address()

	tx := &types.Transaction{
		Type:  types.TxTypeTransfer,
		Nonce: 0,
		To:    addr.Bytes(),
		Value: big.NewInt(10),
	}
	if err := tx.Sign(sender.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := node.ApplyTransaction(tx); err != nil {
		t.Fatalf("self-transfer: %v", err)
	}
	account, _ := node.GetAccount(addr.Bytes())
	if account.Balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("self-transfer changed the balance: got %s want 100", account.Balance)
	}
	if account.Nonce != 1 {
		t.Fatalf("self-transfer must still consume the nonce, got %d", account.Nonce)
	}
}

func TestFailedTransactionConsumesNoNonce(t *testing.T) {
	node := newTestNode(t)
	sender := newTestKey(t)
	fundKey(t, node, sender, 100)

	bad := signedTx(t, sender, types.TxTypeRedeemEscrow, 0, RedeemEscrowPayload{
		Asset:  AssetPayload{Kind: "native"},
		Secret: "no such escrow",
	})
	if _, err := node.ApplyTransaction(bad); !errors.Is(err, escrow.ErrNotFound) {
		t.Fatalf("redeem unknown: got %v", err)
	}
	account, _ := node.GetAccount(sender.PubKey().Address().Bytes())
	if account.Nonce != 0 {
		t.Fatalf("failed transaction consumed nonce: %d", account.Nonce)
	}

	// The same nonce is still good for a valid transaction.
	good := signedTx(t, sender, types.TxTypeInitEscrow, 0, initPayload(t, "retry secret", 100, time.Now().Unix()+3600))
	if _, err := node.ApplyTransaction(good); err != nil {
		t.Fatalf("retry with same nonce: %v", err)
	}
}

func TestUnsignedTransactionRejected(t *testing.T) {
	node := newTestNode(t)
	if _, err := node.ApplyTransaction(&types.Transaction{Type: types.TxTypeTransfer}); err == nil {
		t.Fatal("unsigned transaction must be rejected")
	}
}

func TestReclaimOverTransactions(t *testing.T) {
	node := newTestNode(t)
	node.SetNowFunc(func() int64 { return 1_000 })
	sender := newTestKey(t)
	stranger := newTestKey(t)
	fundKey(t, node, sender, 500)

	secret := "reclaim me later"
	receipt, err := node.ApplyTransaction(signedTx(t, sender, types.TxTypeInitEscrow, 0, initPayload(t, secret, 500, 2_000)))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	escrowAddr := crypto.NewAddress(receipt.EscrowAddress[:])

	// Premature reclaim by address fails and keeps the nonce unspent.
	premature := signedTx(t, sender, types.TxTypeReclaimEscrow, 1, ReclaimEscrowPayload{
		Asset:   AssetPayload{Kind: "native"},
		Address: escrowAddr.String(),
	})
	if _, err := node.ApplyTransaction(premature); !errors.Is(err, escrow.ErrNotExpired) {
		t.Fatalf("premature reclaim: got %v", err)
	}

	// A stranger with the secret still cannot reclaim.
	node.SetNowFunc(func() int64 { return 3_000 })
	theft := signedTx(t, stranger, types.TxTypeReclaimEscrow, 0, ReclaimEscrowPayload{
		Asset:  AssetPayload{Kind: "native"},
		Secret: secret,
	})
	if _, err := node.ApplyTransaction(theft); !errors.Is(err, escrow.ErrReclaimForbidden) {
		t.Fatalf("stranger reclaim: got %v", err)
	}

	reclaim := signedTx(t, sender, types.TxTypeReclaimEscrow, 1, ReclaimEscrowPayload{
		Asset:  AssetPayload{Kind: "native"},
		Secret: secret,
	})
	receipt, err = node.ApplyTransaction(reclaim)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if receipt.Amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("reclaim amount: %s", receipt.Amount)
	}
	account, _ := node.GetAccount(sender.PubKey().Address().Bytes())
	if account.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("sender balance after reclaim: %s", account.Balance)
	}
}

func TestApplyGenesis(t *testing.T) {
	node := newTestNode(t)
	key := newTestKey(t)
	addr := key.PubKey().Address()
	mint := newTestKey(t).PubKey().Address()

	doc := &GenesisDoc{
		Alloc: map[string]string{addr.String(): "1000000"},
		Tokens: map[string]map[string]string{
			mint.String(): {addr.String(): "250"},
		},
	}
	if err := node.ApplyGenesis(doc); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	account, _ := node.GetAccount(addr.Bytes())
	if account.Balance.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("genesis balance: %s", account.Balance)
	}
	tokenBal, err := node.TokenBalance(mint.Array(), addr.Bytes())
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	if tokenBal.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("genesis token balance: %s", tokenBal)
	}

	if err := node.ApplyGenesis(&GenesisDoc{Alloc: map[string]string{"not-bech32": "1"}}); err == nil {
		t.Fatal("malformed genesis address must be rejected")
	}
}
