package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"instantsend/crypto"
)

// GenesisDoc seeds the ledger with initial balances. Alloc maps bech32
// addresses to native amounts; Tokens maps a mint address to its initial
// holder balances.
type GenesisDoc struct {
	Alloc  map[string]string            `json:"alloc"`
	Tokens map[string]map[string]string `json:"tokens,omitempty"`
}

// LoadGenesis reads a genesis document from disk.
func LoadGenesis(path string) (*GenesisDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := &GenesisDoc{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	return doc, nil
}

// ApplyGenesis writes the initial balances into state. It is only meant to
// run against an empty store.
func (n *Node) ApplyGenesis(doc *GenesisDoc) error {
	if doc == nil {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	for rawAddr, rawAmount := range doc.Alloc {
		addr, err := crypto.DecodeAddress(rawAddr)
		if err != nil {
			return fmt.Errorf("genesis: alloc address %q: %w", rawAddr, err)
		}
		amount, ok := new(big.Int).SetString(rawAmount, 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("genesis: alloc amount %q must be a non-negative integer", rawAmount)
		}
		account, err := n.state.GetAccount(addr.Bytes())
		if err != nil {
			return err
		}
		account.Balance = amount
		if err := n.state.PutAccount(addr.Bytes(), account); err != nil {
			return err
		}
	}
	for rawMint, holders := range doc.Tokens {
		mint, err := crypto.DecodeAddress(rawMint)
		if err != nil {
			return fmt.Errorf("genesis: mint address %q: %w", rawMint, err)
		}
		for rawAddr, rawAmount := range holders {
			addr, err := crypto.DecodeAddress(rawAddr)
			if err != nil {
				return fmt.Errorf("genesis: token holder %q: %w", rawAddr, err)
			}
			amount, ok := new(big.Int).SetString(rawAmount, 10)
			if !ok || amount.Sign() <= 0 {
				return fmt.Errorf("genesis: token amount %q must be a positive integer", rawAmount)
			}
			if err := n.state.MintToken(mint.Array(), addr.Bytes(), amount); err != nil {
				return err
			}
		}
	}
	return nil
}
