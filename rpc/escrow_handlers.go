package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"instantsend/core"
	"instantsend/core/types"
	"instantsend/crypto"
	"instantsend/native/escrow"
	"instantsend/observability/metrics"
)

const (
	codeEscrowInvalidParams = -32041
	codeEscrowNotFound      = -32042
	codeEscrowForbidden     = -32043
	codeEscrowConflict      = -32044
	codeEscrowInternal      = -32045
)

type balanceParams struct {
	Address string `json:"address"`
	Mint    string `json:"mint,omitempty"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
	Mint    string `json:"mint,omitempty"`
}

type escrowAddressParams struct {
	Asset      core.AssetPayload `json:"asset"`
	Secret     string            `json:"secret,omitempty"`
	Commitment string            `json:"commitment,omitempty"`
}

type escrowAddressResult struct {
	Address string `json:"address"`
}

type escrowGetParams struct {
	Address string `json:"address"`
}

type escrowJSON struct {
	Address    string            `json:"address"`
	Sender     string            `json:"sender"`
	Asset      core.AssetPayload `json:"asset"`
	Amount     string            `json:"amount"`
	ExpiresAt  int64             `json:"expiresAt"`
	Redeemed   bool              `json:"redeemed"`
	Commitment string            `json:"commitment"`
	CreatedAt  int64             `json:"createdAt"`
}

type sendTransactionResult struct {
	EscrowAddress string        `json:"escrowAddress,omitempty"`
	Amount        string        `json:"amount,omitempty"`
	Events        []types.Event `json:"events,omitempty"`
}

// escrowErrorCode maps a state machine failure to a stable RPC error. Logical
// failures are definitive; only internal faults map to the retryable server
// code.
func escrowErrorCode(err error) (int, int, string) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		return http.StatusNotFound, codeEscrowNotFound, "escrow_not_found"
	case errors.Is(err, escrow.ErrAlreadyRedeemed):
		return http.StatusConflict, codeEscrowConflict, "already_redeemed"
	case errors.Is(err, escrow.ErrAlreadyExists):
		return http.StatusConflict, codeEscrowConflict, "commitment_in_use"
	case errors.Is(err, escrow.ErrReclaimForbidden):
		return http.StatusForbidden, codeEscrowForbidden, "reclaim_forbidden"
	case errors.Is(err, escrow.ErrNotExpired):
		return http.StatusConflict, codeEscrowConflict, "not_yet_expired"
	case errors.Is(err, escrow.ErrInvalidSecret):
		return http.StatusBadRequest, codeEscrowInvalidParams, "invalid_secret"
	case errors.Is(err, escrow.ErrInvalidExpiration),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidAsset),
		errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, core.ErrInvalidNonce),
		errors.Is(err, core.ErrInvalidPayload),
		errors.Is(err, core.ErrUnknownTxType):
		return http.StatusBadRequest, codeEscrowInvalidParams, "invalid_params"
	default:
		return http.StatusInternalServerError, codeEscrowInternal, "internal_error"
	}
}

func singleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var tx types.Transaction
	if err := singleParam(req, &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := s.node.ApplyTransaction(&tx)
	if err != nil {
		status, code, message := escrowErrorCode(err)
		metrics.Escrow().ObserveRejected(message)
		writeError(w, status, req.ID, code, message, err.Error())
		return
	}
	result := sendTransactionResult{Events: receipt.Events}
	if receipt.Amount != nil {
		result.Amount = receipt.Amount.String()
	}
	if receipt.EscrowAddress != ([20]byte{}) {
		result.EscrowAddress = crypto.NewAddress(receipt.EscrowAddress[:]).String()
	}
	switch tx.Type {
	case types.TxTypeInitEscrow:
		metrics.Escrow().ObserveInitialized(assetLabel(receipt.Events))
	case types.TxTypeRedeemEscrow:
		metrics.Escrow().ObserveRedeemed(assetLabel(receipt.Events))
	case types.TxTypeReclaimEscrow:
		metrics.Escrow().ObserveReclaimed(assetLabel(receipt.Events))
	}
	writeResult(w, req.ID, result)
}

func assetLabel(evts []types.Event) string {
	for _, evt := range evts {
		if asset, ok := evt.Attributes["asset"]; ok {
			return asset
		}
	}
	return "unknown"
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := crypto.DecodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.Mint != "" {
		mint, err := crypto.DecodeAddress(params.Mint)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		balance, err := s.node.TokenBalance(mint.Array(), addr.Bytes())
		if err != nil {
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
			return
		}
		writeResult(w, req.ID, balanceResult{Address: params.Address, Mint: params.Mint, Balance: balance.String()})
		return
	}
	account, err := s.node.GetAccount(addr.Bytes())
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, balanceResult{
		Address: params.Address,
		Balance: account.Balance.String(),
		Nonce:   account.Nonce,
	})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowGetParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := crypto.DecodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	record, ok := s.node.EscrowGet(addr.Array())
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeEscrowNotFound, "escrow_not_found", params.Address)
		return
	}
	writeResult(w, req.ID, escrowJSON{
		Address:    params.Address,
		Sender:     crypto.NewAddress(record.Sender[:]).String(),
		Asset:      core.FormatAsset(record.Asset),
		Amount:     record.Amount.String(),
		ExpiresAt:  record.ExpiresAt,
		Redeemed:   record.Redeemed,
		Commitment: hex.EncodeToString(record.Commitment[:]),
		CreatedAt:  record.CreatedAt,
	})
}

func (s *Server) handleEscrowDeriveAddress(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowAddressParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	asset, err := core.ParseAsset(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	var commitment [32]byte
	switch {
	case params.Secret != "":
		commitment, err = escrow.Commit(params.Secret)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_secret", err.Error())
			return
		}
	case params.Commitment != "":
		decoded, decodeErr := hex.DecodeString(params.Commitment)
		if decodeErr != nil || len(decoded) != len(commitment) {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "commitment must be 32 hex-encoded bytes")
			return
		}
		copy(commitment[:], decoded)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "secret or commitment required")
		return
	}
	addr, err := escrow.DeriveAddress(asset, commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, escrowAddressResult{Address: crypto.NewAddress(addr[:]).String()})
}
