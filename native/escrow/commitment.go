package escrow

import (
	"crypto/sha256"
	"unicode/utf8"
)

// Commit turns a human-memorable secret into the fixed-size commitment used
// both as the unlock credential and as the derivation seed for the escrow
// address. The ledger only ever sees this digest until redemption time.
func Commit(secret string) ([32]byte, error) {
	if !utf8.ValidString(secret) {
		return [32]byte{}, ErrInvalidSecret
	}
	return sha256.Sum256([]byte(secret)), nil
}
