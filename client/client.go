// Package client implements the orchestration boundary of the escrow ledger:
// it hashes secrets locally so the ledger stays secret-blind, signs
// transactions with a caller-supplied keypair and submits them over JSON-RPC.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"instantsend/native/escrow"
)

// ErrSubmissionFailed wraps transport and finality failures. Nothing was
// applied on the ledger, so the same call is always safe to retry.
var ErrSubmissionFailed = errors.New("client: ledger submission failed")

// RPCError is a logical failure reported by the node. It is definitive:
// retrying with the same input will fail the same way.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is a thin JSON-RPC client for the instantsend node.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// New creates a client for the given RPC endpoint. The auth token is required
// for transaction submission only.
func New(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// mapLogicalError translates the node's stable error messages back into the
// escrow package sentinels so callers can branch with errors.Is.
func mapLogicalError(obj *jsonRPCErrorObj) error {
	var sentinel error
	switch obj.Message {
	case "escrow_not_found":
		sentinel = escrow.ErrNotFound
	case "already_redeemed":
		sentinel = escrow.ErrAlreadyRedeemed
	case "commitment_in_use":
		sentinel = escrow.ErrAlreadyExists
	case "reclaim_forbidden":
		sentinel = escrow.ErrReclaimForbidden
	case "not_yet_expired":
		sentinel = escrow.ErrNotExpired
	case "invalid_secret":
		sentinel = escrow.ErrInvalidSecret
	}
	rpcErr := &RPCError{Code: obj.Code, Message: obj.Message, Data: obj.Data}
	if sentinel != nil {
		// Both stay in the chain: errors.Is finds the sentinel, errors.As
		// still surfaces the code and data.
		return fmt.Errorf("%w: %w", sentinel, rpcErr)
	}
	return rpcErr
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrSubmissionFailed, err)
	}
	var decoded jsonRPCResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrSubmissionFailed, err)
	}
	if decoded.Error != nil {
		return mapLogicalError(decoded.Error)
	}
	if out != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("%w: decode result: %v", ErrSubmissionFailed, err)
		}
	}
	return nil
}
