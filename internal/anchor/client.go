// Package anchor writes fingerprint existence records to the elo-chain
// program over JSON-RPC. It is a best-effort collaborator: callers treat
// every error here as recoverable.
package anchor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrAnchorRejected means the ledger (or its signer) refused the write.
	ErrAnchorRejected = errors.New("anchor write rejected")
	// ErrAnchorUnavailable means the RPC endpoint could not be reached or
	// returned a transport-level failure.
	ErrAnchorUnavailable = errors.New("anchor ledger unavailable")
)

type Client struct {
	rpcURL    string
	programID string
	payer     *Keypair
	httpc     *http.Client
}

func New(rpcURL, programID string, payer *Keypair) *Client {
	return &Client{
		rpcURL:    rpcURL,
		programID: programID,
		payer:     payer,
		httpc:     &http.Client{Timeout: 30 * time.Second},
	}
}

// EnsureScopeAccount creates the per-scope account if absent. The program
// treats re-creation as a no-op, so this is safe to repeat.
func (c *Client) EnsureScopeAccount(ctx context.Context, scopeID, payer string) error {
	_, err := c.send(ctx, payer, encodeBatch(CreateScopeAccount{ScopeID: scopeID}))
	return err
}

// AnchorFingerprint records a fingerprint on the ledger and returns the
// transaction reference. For network scopes the scope-account creation rides
// in the same signed batch as the anchor write, so a signer interaction can
// never leave the account created but the fingerprint unrecorded.
func (c *Client) AnchorFingerprint(ctx context.Context, scopeID string, meta FileMeta, payer string) (string, error) {
	ins := []Instruction{}
	if scopeID != "" {
		ins = append(ins, CreateScopeAccount{ScopeID: scopeID})
	}
	ins = append(ins, AnchorFile{Meta: meta, ScopeID: scopeID})
	return c.send(ctx, payer, encodeBatch(ins...))
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result string    `json:"result"`
	Error  *rpcError `json:"error"`
}

// send signs the instruction payload with the payer keypair and submits it as
// a base64 transaction blob. The on-behalf-of principal travels as metadata;
// the server payer funds and signs the write.
func (c *Client) send(ctx context.Context, principal string, payload []byte) (string, error) {
	tx := map[string]any{
		"program_id": c.programID,
		"payer":      c.payer.Address(),
		"principal":  principal,
		"payload":    base64.StdEncoding.EncodeToString(payload),
		"signature":  base64.StdEncoding.EncodeToString(c.payer.sign(payload)),
	}
	blob, err := json.Marshal(tx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendTransaction",
		Params:  []any{base64.StdEncoding.EncodeToString(blob), map[string]string{"encoding": "base64"}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnchorUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: rpc status %d", ErrAnchorUnavailable, resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding rpc response: %v", ErrAnchorUnavailable, err)
	}
	if out.Error != nil {
		if isRejection(out.Error) {
			return "", fmt.Errorf("%w: %s", ErrAnchorRejected, out.Error.Message)
		}
		return "", fmt.Errorf("%w: rpc error %d: %s", ErrAnchorUnavailable, out.Error.Code, out.Error.Message)
	}
	if out.Result == "" {
		return "", fmt.Errorf("%w: empty transaction reference", ErrAnchorUnavailable)
	}
	return out.Result, nil
}

func isRejection(e *rpcError) bool {
	// -32002/-32003 are the simulate/verify failure codes; anything the
	// ledger explicitly refused is a rejection rather than an outage.
	if e.Code == -32002 || e.Code == -32003 {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "reject")
}
