// Package pinata is the content store client: it pins bytes to IPFS through
// the Pinata API and returns the content fingerprint plus a gateway URL.
package pinata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

var (
	// ErrStoreUnavailable means credentials are absent or rejected by the
	// authentication probe; nothing was uploaded.
	ErrStoreUnavailable = errors.New("content store unavailable")
	// ErrUploadRejected means the store refused the payload itself.
	ErrUploadRejected = errors.New("content store rejected upload")
)

const (
	defaultBaseURL    = "https://api.pinata.cloud"
	defaultGatewayURL = "https://gateway.pinata.cloud/ipfs/"
	defaultLimit      = 5 * 1024 * 1024 * 1024 // free-tier default when the API omits it
)

type Client struct {
	baseURL    string
	gatewayURL string
	apiKey     string
	secretKey  string
	httpc      *http.Client
}

// PinResult describes one pinned file.
type PinResult struct {
	Fingerprint  string `json:"fingerprint"`
	RetrievalURL string `json:"retrieval_url"`
	Size         int64  `json:"size"`
}

// Stats is the account-level storage usage.
type Stats struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

func New(baseURL, gatewayURL, apiKey, secretKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if gatewayURL == "" {
		gatewayURL = defaultGatewayURL
	}
	return &Client{
		baseURL:    baseURL,
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		secretKey:  secretKey,
		httpc:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Configured reports whether credentials are present at all.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.secretKey != ""
}

// TestAuthentication probes the credentials before first use.
func (c *Client) TestAuthentication(ctx context.Context) error {
	if !c.Configured() {
		return fmt.Errorf("%w: missing API keys", ErrStoreUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/testAuthentication", nil)
	if err != nil {
		return err
	}
	c.setAuth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: authentication probe returned %d", ErrStoreUnavailable, resp.StatusCode)
	}
	return nil
}

// Upload pins the bytes and returns the content descriptor. The returned
// fingerprint is validated as a CID carrying a sha2-256 multihash.
func (c *Client) Upload(ctx context.Context, data []byte, name string) (*PinResult, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: missing API keys", ErrStoreUnavailable)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	meta, _ := json.Marshal(map[string]any{
		"name": name,
		"keyvalues": map[string]string{
			"uploadedAt": time.Now().UTC().Format(time.RFC3339),
			"size":       fmt.Sprintf("%d", len(data)),
		},
	})
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setAuth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: credentials rejected", ErrStoreUnavailable)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUploadRejected, resp.StatusCode, msg)
	}

	var out struct {
		IpfsHash string `json:"IpfsHash"`
		PinSize  int64  `json:"PinSize"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUploadRejected, err)
	}
	if err := validateFingerprint(out.IpfsHash); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadRejected, err)
	}

	size := out.PinSize
	if size == 0 {
		size = int64(len(data))
	}
	return &PinResult{
		Fingerprint:  out.IpfsHash,
		RetrievalURL: c.gatewayURL + out.IpfsHash,
		Size:         size,
	}, nil
}

// ListPinned returns currently pinned files.
func (c *Client) ListPinned(ctx context.Context) ([]PinResult, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: missing API keys", ErrStoreUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/pinList?status=pinned&pageLimit=100", nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: pin list returned %d", ErrStoreUnavailable, resp.StatusCode)
	}

	var out struct {
		Rows []struct {
			IpfsPinHash string `json:"ipfs_pin_hash"`
			Size        int64  `json:"size"`
		} `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	results := make([]PinResult, 0, len(out.Rows))
	for _, r := range out.Rows {
		results = append(results, PinResult{
			Fingerprint:  r.IpfsPinHash,
			RetrievalURL: c.gatewayURL + r.IpfsPinHash,
			Size:         r.Size,
		})
	}
	return results, nil
}

// StorageStats returns used/limit bytes for the account.
func (c *Client) StorageStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Limit: defaultLimit}
	if !c.Configured() {
		return stats, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/userPinnedDataTotal", nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return stats, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stats, nil
	}

	var out struct {
		PinSizeTotal int64 `json:"pin_size_total"`
		PinSizeLimit int64 `json:"pin_size_limit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return stats, nil
	}
	stats.Used = out.PinSizeTotal
	if out.PinSizeLimit > 0 {
		stats.Limit = out.PinSizeLimit
	}
	return stats, nil
}

func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("pinata_api_key", c.apiKey)
	req.Header.Set("pinata_secret_api_key", c.secretKey)
}

// validateFingerprint checks the store handed back a real CID whose multihash
// is sha2-256, which is what the rest of the system assumes.
func validateFingerprint(s string) error {
	c, err := cid.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	if c.Prefix().MhType != mh.SHA2_256 {
		return fmt.Errorf("unexpected multihash type %d in fingerprint %q", c.Prefix().MhType, s)
	}
	return nil
}
