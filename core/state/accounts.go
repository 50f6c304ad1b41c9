package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"instantsend/core/types"
)

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func accountStateKey(addr []byte) []byte {
	return hashedKey(accountPrefix, addr)
}

func ensureAccountDefaults(account *types.Account) {
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
}

// GetAccount loads the account stored under the provided address. Unknown
// addresses yield a zero-value account rather than an error so first-touch
// credits need no provisioning step.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	data, err := m.load(accountStateKey(addr))
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if len(data) > 0 {
		stored := new(storedAccount)
		if err := rlp.DecodeBytes(data, stored); err != nil {
			return nil, err
		}
		account.Nonce = stored.Nonce
		account.Balance = stored.Balance
	}
	ensureAccountDefaults(account)
	return account, nil
}

// PutAccount persists the account under the provided address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("account must not be nil")
	}
	ensureAccountDefaults(account)
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("account balance must not be negative")
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{
		Nonce:   account.Nonce,
		Balance: account.Balance,
	})
	if err != nil {
		return err
	}
	return m.write(accountStateKey(addr), encoded)
}

func tokenBalanceKey(mint [20]byte, addr []byte) []byte {
	return hashedKey(tokenBalancePrefix, mint[:], addr)
}

// TokenBalance returns the balance of the given mint held by addr. Absent
// entries read as zero.
func (m *Manager) TokenBalance(mint [20]byte, addr []byte) (*big.Int, error) {
	data, err := m.load(tokenBalanceKey(mint, addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(data), nil
}

func (m *Manager) setTokenBalance(mint [20]byte, addr []byte, balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return fmt.Errorf("token balance must not be negative")
	}
	return m.write(tokenBalanceKey(mint, addr), balance.Bytes())
}
