package escrow

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain-separation tags keep native and token escrows from ever colliding on
// the same commitment, and keep vault addresses out of both spaces.
var (
	nativeEscrowTag = []byte("instantsend/escrow/native/v1")
	tokenEscrowTag  = []byte("instantsend/escrow/token/v1")
	tokenVaultTag   = []byte("instantsend/escrow/vault/v1")
)

func deriveAddress(parts ...[]byte) [20]byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	hash := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// DeriveAddress maps (asset class, commitment) to the unique address holding
// the escrow record. The mapping is reproducible by anyone who knows the
// secret and asset class, and no private key corresponds to the result, so
// only the state machine can ever move funds held there.
func DeriveAddress(asset AssetClass, commitment [32]byte) ([20]byte, error) {
	if !asset.Valid() {
		return [20]byte{}, ErrInvalidAsset
	}
	if asset.Kind == AssetToken {
		return deriveAddress(tokenEscrowTag, asset.Mint[:], commitment[:]), nil
	}
	return deriveAddress(nativeEscrowTag, commitment[:]), nil
}

// DeriveVault maps a token escrow to the sub-account that holds its token
// balance. Keeping token custody off the record address means a record can
// never be confused with a balance entry.
func DeriveVault(escrowAddr [20]byte, mint [20]byte) [20]byte {
	return deriveAddress(tokenVaultTag, escrowAddr[:], mint[:])
}
