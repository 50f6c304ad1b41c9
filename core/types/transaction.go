package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer      TxType = 0x01 // A standard transfer of the native coin
	TxTypeInitEscrow    TxType = 0x02 // Lock funds under a secret commitment
	TxTypeRedeemEscrow  TxType = 0x03 // Claim locked funds by revealing the secret
	TxTypeReclaimEscrow TxType = 0x04 // Sender takes back locked funds after expiry
)

var errUnsignedTransaction = errors.New("types: transaction is not signed")

// Transaction is the unit of state change submitted to the ledger. Data
// carries the JSON-encoded payload for the escrow transaction types.
type Transaction struct {
	Type  TxType   `json:"type"`
	Nonce uint64   `json:"nonce"`
	To    []byte   `json:"to,omitempty"`
	Value *big.Int `json:"value,omitempty"`
	Data  []byte   `json:"data,omitempty"`

	// Sender's secp256k1 signature over Hash().
	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// Hash covers every field a signer commits to. Signatures are excluded so the
// digest is stable across signing.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		Type  TxType
		Nonce uint64
		To    []byte
		Value *big.Int
		Data  []byte
	}{tx.Type, tx.Nonce, tx.To, tx.Value, tx.Data}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// Sign populates R, S and V with the sender's signature over the hash.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the 20-byte sender address from the signature. The result is
// memoised on the transaction.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, errUnsignedTransaction
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	rBytes := tx.R.Bytes()
	sBytes := tx.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 {
		return nil, errors.New("types: malformed signature")
	}
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	v := tx.V.Uint64()
	if v < 27 {
		return nil, errors.New("types: malformed recovery id")
	}
	sig[64] = byte(v - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}
