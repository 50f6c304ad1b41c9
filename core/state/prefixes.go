package state

var (
	accountPrefix      = []byte("account:")
	escrowRecordPrefix = []byte("escrow:")
	tokenBalancePrefix = []byte("token-balance:")
)
