package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"instantsend/core/events"
	"instantsend/core/types"
	"instantsend/crypto"
	"instantsend/native/escrow"
)

var (
	// ErrInvalidNonce signals a replayed or out-of-order transaction.
	ErrInvalidNonce = errors.New("core: invalid transaction nonce")
	// ErrInvalidPayload signals an undecodable transaction payload.
	ErrInvalidPayload = errors.New("core: invalid transaction payload")
	// ErrUnknownTxType signals an unsupported transaction type.
	ErrUnknownTxType = errors.New("core: unknown transaction type")
)

// Receipt summarises the observable outcome of one applied transaction.
type Receipt struct {
	EscrowAddress [20]byte
	Amount        *big.Int
	Events        []types.Event
}

// AssetPayload is the wire form of an asset class.
type AssetPayload struct {
	Kind string `json:"kind"`           // "native" or "token"
	Mint string `json:"mint,omitempty"` // bech32 mint address for tokens
}

// InitEscrowPayload is carried in the Data field of a TxTypeInitEscrow
// transaction. The ledger only ever sees the commitment, never the secret.
type InitEscrowPayload struct {
	Asset      AssetPayload `json:"asset"`
	Amount     *big.Int     `json:"amount"`
	ExpiresAt  int64        `json:"expiresAt"`
	Commitment string       `json:"commitment"` // hex-encoded 32-byte digest
}

// RedeemEscrowPayload reveals the secret at redemption time.
type RedeemEscrowPayload struct {
	Asset  AssetPayload `json:"asset"`
	Secret string       `json:"secret"`
}

// ReclaimEscrowPayload locates the record either by secret or by the
// pre-derived address.
type ReclaimEscrowPayload struct {
	Asset   AssetPayload `json:"asset"`
	Secret  string       `json:"secret,omitempty"`
	Address string       `json:"address,omitempty"`
}

// ParseAsset converts the wire form into the engine's asset class.
func ParseAsset(p AssetPayload) (escrow.AssetClass, error) {
	switch p.Kind {
	case "native":
		return escrow.NativeAsset(), nil
	case "token":
		mint, err := crypto.DecodeAddress(p.Mint)
		if err != nil {
			return escrow.AssetClass{}, fmt.Errorf("%w: mint: %v", ErrInvalidPayload, err)
		}
		return escrow.TokenAsset(mint.Array()), nil
	default:
		return escrow.AssetClass{}, fmt.Errorf("%w: asset kind %q", ErrInvalidPayload, p.Kind)
	}
}

// FormatAsset converts an asset class into its wire form.
func FormatAsset(asset escrow.AssetClass) AssetPayload {
	if asset.Kind == escrow.AssetToken {
		return AssetPayload{Kind: "token", Mint: crypto.NewAddress(asset.Mint[:]).String()}
	}
	return AssetPayload{Kind: "native"}
}

func parseCommitment(raw string) ([32]byte, error) {
	var commitment [32]byte
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return commitment, fmt.Errorf("%w: commitment: %v", ErrInvalidPayload, err)
	}
	if len(decoded) != len(commitment) {
		return commitment, fmt.Errorf("%w: commitment must be %d bytes", ErrInvalidPayload, len(commitment))
	}
	copy(commitment[:], decoded)
	return commitment, nil
}

// ApplyTransaction authenticates, orders and executes a transaction as one
// atomic step. The sender is whoever the signature recovers to; the node
// never sees private key material. A failing transaction leaves no state
// change behind, including the nonce.
func (n *Node) ApplyTransaction(tx *types.Transaction) (*Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("core: nil transaction")
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	from, err := tx.From()
	if err != nil {
		return nil, err
	}
	account, err := n.state.GetAccount(from)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != account.Nonce {
		return nil, fmt.Errorf("%w: got %d want %d", ErrInvalidNonce, tx.Nonce, account.Nonce)
	}
	original := account.Clone()
	account.Nonce++
	if err := n.state.PutAccount(from, account); err != nil {
		return nil, err
	}

	eventsBefore := len(n.eventLog)
	receipt, err := n.dispatch(from, tx)
	if err != nil {
		// The transition had no effect; restore the pre-transaction account
		// so the nonce is not consumed either.
		if restoreErr := n.state.PutAccount(from, original); restoreErr != nil {
			return nil, errors.Join(err, fmt.Errorf("core: rollback nonce: %w", restoreErr))
		}
		return nil, err
	}
	receipt.Events = append([]types.Event(nil), n.eventLog[eventsBefore:]...)
	return receipt, nil
}

func (n *Node) dispatch(from []byte, tx *types.Transaction) (*Receipt, error) {
	var sender [20]byte
	copy(sender[:], from)

	switch tx.Type {
	case types.TxTypeTransfer:
		return n.applyTransfer(sender, tx)
	case types.TxTypeInitEscrow:
		return n.applyInitEscrow(sender, tx)
	case types.TxTypeRedeemEscrow:
		return n.applyRedeemEscrow(sender, tx)
	case types.TxTypeReclaimEscrow:
		return n.applyReclaimEscrow(sender, tx)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTxType, tx.Type)
	}
}

func (n *Node) applyTransfer(sender [20]byte, tx *types.Transaction) (*Receipt, error) {
	if len(tx.To) != 20 {
		return nil, fmt.Errorf("%w: transfer recipient must be 20 bytes", ErrInvalidPayload)
	}
	var to [20]byte
	copy(to[:], tx.To)
	amount := big.NewInt(0)
	if tx.Value != nil {
		amount = new(big.Int).Set(tx.Value)
	}
	if err := n.state.Transfer(sender, to, escrow.NativeAsset(), amount); err != nil {
		return nil, err
	}
	n.eventLog = append(n.eventLog, *events.Transfer{From: sender, To: to, Amount: amount}.Event())
	n.logger.Info("transfer applied",
		"from", crypto.NewAddress(sender[:]).String(),
		"to", crypto.NewAddress(to[:]).String(),
		"amount", amount.String())
	return &Receipt{Amount: amount}, nil
}

func (n *Node) applyInitEscrow(sender [20]byte, tx *types.Transaction) (*Receipt, error) {
	var payload InitEscrowPayload
	if err := json.Unmarshal(tx.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	asset, err := ParseAsset(payload.Asset)
	if err != nil {
		return nil, err
	}
	commitment, err := parseCommitment(payload.Commitment)
	if err != nil {
		return nil, err
	}
	esc, addr, err := n.engine.Initialize(sender, asset, payload.Amount, payload.ExpiresAt, commitment)
	if err != nil {
		return nil, err
	}
	n.logger.Info("escrow initialized",
		"address", crypto.NewAddress(addr[:]).String(),
		"asset", asset.String(),
		"amount", esc.Amount.String(),
		"expiresAt", esc.ExpiresAt)
	return &Receipt{EscrowAddress: addr, Amount: new(big.Int).Set(esc.Amount)}, nil
}

func (n *Node) applyRedeemEscrow(sender [20]byte, tx *types.Transaction) (*Receipt, error) {
	var payload RedeemEscrowPayload
	if err := json.Unmarshal(tx.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	asset, err := ParseAsset(payload.Asset)
	if err != nil {
		return nil, err
	}
	esc, err := n.engine.Redeem(sender, asset, payload.Secret)
	if err != nil {
		return nil, err
	}
	addr, err := escrow.DeriveAddress(asset, esc.Commitment)
	if err != nil {
		return nil, err
	}
	n.logger.Info("escrow redeemed",
		"address", crypto.NewAddress(addr[:]).String(),
		"recipient", crypto.NewAddress(sender[:]).String(),
		"amount", esc.Amount.String())
	return &Receipt{EscrowAddress: addr, Amount: new(big.Int).Set(esc.Amount)}, nil
}

func (n *Node) applyReclaimEscrow(sender [20]byte, tx *types.Transaction) (*Receipt, error) {
	var payload ReclaimEscrowPayload
	if err := json.Unmarshal(tx.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	asset, err := ParseAsset(payload.Asset)
	if err != nil {
		return nil, err
	}
	var (
		esc  *escrow.Escrow
		addr [20]byte
	)
	switch {
	case payload.Secret != "":
		esc, err = n.engine.Reclaim(sender, asset, payload.Secret)
		if err != nil {
			return nil, err
		}
		addr, err = escrow.DeriveAddress(asset, esc.Commitment)
		if err != nil {
			return nil, err
		}
	case payload.Address != "":
		decoded, decodeErr := crypto.DecodeAddress(payload.Address)
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: address: %v", ErrInvalidPayload, decodeErr)
		}
		addr = decoded.Array()
		esc, err = n.engine.ReclaimAt(sender, asset, addr)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: reclaim needs a secret or an address", ErrInvalidPayload)
	}
	n.logger.Info("escrow reclaimed",
		"address", crypto.NewAddress(addr[:]).String(),
		"sender", crypto.NewAddress(sender[:]).String(),
		"amount", esc.Amount.String())
	return &Receipt{EscrowAddress: addr, Amount: new(big.Int).Set(esc.Amount)}, nil
}
