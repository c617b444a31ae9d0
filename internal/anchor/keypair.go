package anchor

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Keypair is the server-held payer identity that signs anchor writes.
type Keypair struct {
	priv ed25519.PrivateKey
}

// ParseKey accepts a hex-encoded ed25519 seed (32 bytes) or full private
// key (64 bytes).
func ParseKey(hexKey string) (*Keypair, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decoding payer key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return &Keypair{priv: ed25519.NewKeyFromSeed(raw)}, nil
	case ed25519.PrivateKeySize:
		return &Keypair{priv: ed25519.PrivateKey(raw)}, nil
	default:
		return nil, fmt.Errorf("payer key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// LoadKeypair reads a hex key file.
func LoadKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading payer key file: %w", err)
	}
	return ParseKey(string(data))
}

// Generate creates a fresh keypair (used by tests and first-run setup).
func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &Keypair{priv: priv}, nil
}

// Address is the hex-encoded public key.
func (k *Keypair) Address() string {
	return hex.EncodeToString(k.priv.Public().(ed25519.PublicKey))
}

func (k *Keypair) sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}
