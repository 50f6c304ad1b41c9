package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"instantsend/native/escrow"
)

func escrowStorageKey(addr [20]byte) []byte {
	return hashedKey(escrowRecordPrefix, addr[:])
}

type storedEscrow struct {
	Sender     [20]byte
	Amount     *big.Int
	ExpiresAt  *big.Int
	Redeemed   bool
	AssetKind  uint8
	Mint       [20]byte
	Commitment [32]byte
	CreatedAt  *big.Int
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	if e == nil {
		return nil
	}
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	return &storedEscrow{
		Sender:     e.Sender,
		Amount:     amount,
		ExpiresAt:  big.NewInt(e.ExpiresAt),
		Redeemed:   e.Redeemed,
		AssetKind:  uint8(e.Asset.Kind),
		Mint:       e.Asset.Mint,
		Commitment: e.Commitment,
		CreatedAt:  big.NewInt(e.CreatedAt),
	}
}

func (s *storedEscrow) toEscrow() (*escrow.Escrow, error) {
	if s == nil {
		return nil, fmt.Errorf("escrow: nil storage record")
	}
	out := &escrow.Escrow{
		Sender:     s.Sender,
		Amount:     big.NewInt(0),
		Redeemed:   s.Redeemed,
		Asset:      escrow.AssetClass{Kind: escrow.AssetKind(s.AssetKind), Mint: s.Mint},
		Commitment: s.Commitment,
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if s.ExpiresAt != nil {
		out.ExpiresAt = s.ExpiresAt.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if !out.Asset.Valid() {
		return nil, escrow.ErrInvalidAsset
	}
	return out, nil
}

// EscrowPut persists the record under its derived address. Records are never
// deleted; a redeemed record stays as a tombstone.
func (m *Manager) EscrowPut(addr [20]byte, e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredEscrow(sanitized))
	if err != nil {
		return err
	}
	return m.write(escrowStorageKey(addr), encoded)
}

// EscrowGet loads the record stored at the derived address, if any.
func (m *Manager) EscrowGet(addr [20]byte) (*escrow.Escrow, bool) {
	data, err := m.load(escrowStorageKey(addr))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedEscrow)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toEscrow()
	if err != nil {
		return nil, false
	}
	return record, true
}

// Transfer moves amount of the given asset between two accounts as a single
// all-or-nothing step, creating the receiving balance entry if it does not
// exist yet. A native transfer touches the account records; a token transfer
// touches the per-mint balance entries.
func (m *Manager) Transfer(from, to [20]byte, asset escrow.AssetClass, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return escrow.ErrInvalidAmount
	}
	if !asset.Valid() {
		return escrow.ErrInvalidAsset
	}
	if asset.Kind == escrow.AssetToken {
		return m.transferToken(from, to, asset.Mint, amount)
	}
	return m.transferNative(from, to, amount)
}

func (m *Manager) transferNative(from, to [20]byte, amount *big.Int) error {
	fromAcc, err := m.GetAccount(from[:])
	if err != nil {
		return err
	}
	// A self-transfer must not load the account twice: the credit copy would
	// overwrite the debit on the final put. It conserves value by definition,
	// so only the funds check applies.
	if from == to {
		if fromAcc.Balance.Cmp(amount) < 0 {
			return escrow.ErrInsufficientFunds
		}
		return nil
	}
	toAcc, err := m.GetAccount(to[:])
	if err != nil {
		return err
	}
	original := fromAcc.Clone()

	rollbacks := make([]func(), 0, 2)
	revert := func() {
		for i := len(rollbacks) - 1; i >= 0; i-- {
			if rollbacks[i] != nil {
				rollbacks[i]()
			}
		}
	}
	rollback, err := MustSubBalance(fromAcc.Balance, amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return escrow.ErrInsufficientFunds
		}
		return err
	}
	rollbacks = append(rollbacks, rollback)
	rollback, err = MustAddBalance(toAcc.Balance, amount)
	if err != nil {
		revert()
		return err
	}
	rollbacks = append(rollbacks, rollback)

	if err := m.PutAccount(from[:], fromAcc); err != nil {
		revert()
		return err
	}
	if err := m.PutAccount(to[:], toAcc); err != nil {
		revert()
		if restoreErr := m.PutAccount(from[:], original); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback sender: %w", restoreErr))
		}
		return err
	}
	return nil
}

func (m *Manager) transferToken(from, to [20]byte, mint [20]byte, amount *big.Int) error {
	fromBal, err := m.TokenBalance(mint, from[:])
	if err != nil {
		return err
	}
	if from == to {
		if fromBal.Cmp(amount) < 0 {
			return escrow.ErrInsufficientFunds
		}
		return nil
	}
	toBal, err := m.TokenBalance(mint, to[:])
	if err != nil {
		return err
	}
	original := new(big.Int).Set(fromBal)

	if _, err := MustSubBalance(fromBal, amount); err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return escrow.ErrInsufficientFunds
		}
		return err
	}
	if _, err := MustAddBalance(toBal, amount); err != nil {
		return err
	}

	if err := m.setTokenBalance(mint, from[:], fromBal); err != nil {
		return err
	}
	if err := m.setTokenBalance(mint, to[:], toBal); err != nil {
		if restoreErr := m.setTokenBalance(mint, from[:], original); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("state: rollback sender: %w", restoreErr))
		}
		return err
	}
	return nil
}

// MintToken credits freshly issued token units to an address. It exists for
// genesis seeding and tests; regular transactions can only move existing
// balances.
func (m *Manager) MintToken(mint [20]byte, addr []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return escrow.ErrInvalidAmount
	}
	balance, err := m.TokenBalance(mint, addr)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	return m.setTokenBalance(mint, addr, balance)
}
