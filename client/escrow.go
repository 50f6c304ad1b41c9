package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"instantsend/core"
	"instantsend/core/types"
	"instantsend/crypto"
	"instantsend/native/escrow"
)

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
	Mint    string `json:"mint,omitempty"`
}

type sendTransactionResult struct {
	EscrowAddress string        `json:"escrowAddress,omitempty"`
	Amount        string        `json:"amount,omitempty"`
	Events        []types.Event `json:"events,omitempty"`
}

// EscrowState mirrors the node's view of one escrow record.
type EscrowState struct {
	Address    string            `json:"address"`
	Sender     string            `json:"sender"`
	Asset      core.AssetPayload `json:"asset"`
	Amount     string            `json:"amount"`
	ExpiresAt  int64             `json:"expiresAt"`
	Redeemed   bool              `json:"redeemed"`
	Commitment string            `json:"commitment"`
	CreatedAt  int64             `json:"createdAt"`
}

// DeriveEscrowAddress computes the escrow address for (asset, secret) without
// touching the network, so callers can pre-check existence and state.
func DeriveEscrowAddress(asset escrow.AssetClass, secret string) (crypto.Address, error) {
	commitment, err := escrow.Commit(secret)
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := escrow.DeriveAddress(asset, commitment)
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.NewAddress(addr[:]), nil
}

// Account returns the native balance and nonce for an address.
func (c *Client) Account(ctx context.Context, address crypto.Address) (*big.Int, uint64, error) {
	var result balanceResult
	if err := c.call(ctx, "isnd_getBalance", []interface{}{map[string]string{"address": address.String()}}, &result); err != nil {
		return nil, 0, err
	}
	balance, ok := new(big.Int).SetString(result.Balance, 10)
	if !ok {
		return nil, 0, fmt.Errorf("%w: malformed balance %q", ErrSubmissionFailed, result.Balance)
	}
	return balance, result.Nonce, nil
}

// TokenBalance returns the balance of the given mint held by an address.
func (c *Client) TokenBalance(ctx context.Context, address crypto.Address, mint string) (*big.Int, error) {
	var result balanceResult
	params := map[string]string{"address": address.String(), "mint": mint}
	if err := c.call(ctx, "isnd_getBalance", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(result.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed balance %q", ErrSubmissionFailed, result.Balance)
	}
	return balance, nil
}

// Escrow fetches the record stored at the derived address, if any.
func (c *Client) Escrow(ctx context.Context, address crypto.Address) (*EscrowState, error) {
	var result EscrowState
	if err := c.call(ctx, "escrow_get", []interface{}{map[string]string{"address": address.String()}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) signAndSend(ctx context.Context, key *crypto.PrivateKey, txType types.TxType, data []byte) (*sendTransactionResult, error) {
	sender := key.PubKey().Address()
	_, nonce, err := c.Account(ctx, sender)
	if err != nil {
		return nil, err
	}
	tx := &types.Transaction{
		Type:  txType,
		Nonce: nonce,
		Data:  data,
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return nil, err
	}
	var result sendTransactionResult
	if err := c.call(ctx, "isnd_sendTransaction", []interface{}{tx}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Initialize locks amount under a commitment to secret and returns the escrow
// address. The caller must persist the secret out-of-band; only its hash ever
// leaves this process.
func (c *Client) Initialize(ctx context.Context, key *crypto.PrivateKey, asset escrow.AssetClass, amount *big.Int, expiresAt int64, secret string) (crypto.Address, error) {
	commitment, err := escrow.Commit(secret)
	if err != nil {
		return crypto.Address{}, err
	}
	payload, err := marshalPayload(core.InitEscrowPayload{
		Asset:      core.FormatAsset(asset),
		Amount:     amount,
		ExpiresAt:  expiresAt,
		Commitment: hex.EncodeToString(commitment[:]),
	})
	if err != nil {
		return crypto.Address{}, err
	}
	result, err := c.signAndSend(ctx, key, types.TxTypeInitEscrow, payload)
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.DecodeAddress(result.EscrowAddress)
}

// Redeem claims locked funds by revealing the secret and returns the amount
// credited to the signer's account.
func (c *Client) Redeem(ctx context.Context, key *crypto.PrivateKey, asset escrow.AssetClass, secret string) (*big.Int, error) {
	payload, err := marshalPayload(core.RedeemEscrowPayload{
		Asset:  core.FormatAsset(asset),
		Secret: secret,
	})
	if err != nil {
		return nil, err
	}
	result, err := c.signAndSend(ctx, key, types.TxTypeRedeemEscrow, payload)
	if err != nil {
		return nil, err
	}
	return parseAmount(result.Amount)
}

// Reclaim returns expired funds to the sender, locating the record by secret.
func (c *Client) Reclaim(ctx context.Context, key *crypto.PrivateKey, asset escrow.AssetClass, secret string) (*big.Int, error) {
	payload, err := marshalPayload(core.ReclaimEscrowPayload{
		Asset:  core.FormatAsset(asset),
		Secret: secret,
	})
	if err != nil {
		return nil, err
	}
	result, err := c.signAndSend(ctx, key, types.TxTypeReclaimEscrow, payload)
	if err != nil {
		return nil, err
	}
	return parseAmount(result.Amount)
}

// ReclaimAt is Reclaim for callers that kept the derived address instead of
// the secret.
func (c *Client) ReclaimAt(ctx context.Context, key *crypto.PrivateKey, asset escrow.AssetClass, address crypto.Address) (*big.Int, error) {
	payload, err := marshalPayload(core.ReclaimEscrowPayload{
		Asset:   core.FormatAsset(asset),
		Address: address.String(),
	})
	if err != nil {
		return nil, err
	}
	result, err := c.signAndSend(ctx, key, types.TxTypeReclaimEscrow, payload)
	if err != nil {
		return nil, err
	}
	return parseAmount(result.Amount)
}

// Transfer moves native coins between two accounts.
func (c *Client) Transfer(ctx context.Context, key *crypto.PrivateKey, to crypto.Address, amount *big.Int) error {
	sender := key.PubKey().Address()
	_, nonce, err := c.Account(ctx, sender)
	if err != nil {
		return err
	}
	tx := &types.Transaction{
		Type:  types.TxTypeTransfer,
		Nonce: nonce,
		To:    to.Bytes(),
		Value: amount,
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return err
	}
	return c.call(ctx, "isnd_sendTransaction", []interface{}{tx}, nil)
}

func marshalPayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed amount %q", ErrSubmissionFailed, raw)
	}
	return amount, nil
}
