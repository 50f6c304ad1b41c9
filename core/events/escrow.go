package events

import (
	"math/big"
	"strconv"

	"instantsend/core/types"
	"instantsend/crypto"
)

const (
	TypeEscrowInitialized = "escrow.initialized"
	TypeEscrowRedeemed    = "escrow.redeemed"
	TypeEscrowReclaimed   = "escrow.reclaimed"
	TypeTransfer          = "transfer"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// EscrowInitialized is emitted when funds are locked under a commitment.
type EscrowInitialized struct {
	Address   [20]byte
	Sender    [20]byte
	Asset     string
	Amount    *big.Int
	ExpiresAt int64
	CreatedAt int64
}

func (EscrowInitialized) EventType() string { return TypeEscrowInitialized }

func (e EscrowInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowInitialized,
		Attributes: map[string]string{
			"address":   crypto.NewAddress(e.Address[:]).String(),
			"sender":    crypto.NewAddress(e.Sender[:]).String(),
			"asset":     e.Asset,
			"amount":    formatAmount(e.Amount),
			"expiresAt": strconv.FormatInt(e.ExpiresAt, 10),
			"createdAt": strconv.FormatInt(e.CreatedAt, 10),
		},
	}
}

// EscrowRedeemed is emitted when the secret path releases the funds.
type EscrowRedeemed struct {
	Address   [20]byte
	Recipient [20]byte
	Asset     string
	Amount    *big.Int
}

func (EscrowRedeemed) EventType() string { return TypeEscrowRedeemed }

func (e EscrowRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowRedeemed,
		Attributes: map[string]string{
			"address":   crypto.NewAddress(e.Address[:]).String(),
			"recipient": crypto.NewAddress(e.Recipient[:]).String(),
			"asset":     e.Asset,
			"amount":    formatAmount(e.Amount),
		},
	}
}

// EscrowReclaimed is emitted when the expiry path returns funds to the sender.
type EscrowReclaimed struct {
	Address [20]byte
	Sender  [20]byte
	Asset   string
	Amount  *big.Int
}

func (EscrowReclaimed) EventType() string { return TypeEscrowReclaimed }

func (e EscrowReclaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowReclaimed,
		Attributes: map[string]string{
			"address": crypto.NewAddress(e.Address[:]).String(),
			"sender":  crypto.NewAddress(e.Sender[:]).String(),
			"asset":   e.Asset,
			"amount":  formatAmount(e.Amount),
		},
	}
}

// Transfer is emitted for plain native transfers.
type Transfer struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTransfer,
		Attributes: map[string]string{
			"from":   crypto.NewAddress(e.From[:]).String(),
			"to":     crypto.NewAddress(e.To[:]).String(),
			"amount": formatAmount(e.Amount),
		},
	}
}
