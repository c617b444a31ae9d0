// Package auth binds HTTP requests to a wallet principal. Connecting is a
// nonce challenge: the wallet signs the challenge with the ed25519 key behind
// its address and gets a JWT session in return.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Auth struct {
	secret []byte
	expiry time.Duration

	mu           sync.Mutex
	challenges   map[string]challenge
	challengeTTL time.Duration
}

type challenge struct {
	nonce     string
	expiresAt time.Time
}

type Claims struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func New(secret string, expiryMinutes, challengeExpirySec int) *Auth {
	if challengeExpirySec <= 0 {
		challengeExpirySec = 300
	}
	return &Auth{
		secret:       []byte(secret),
		expiry:       time.Duration(expiryMinutes) * time.Minute,
		challenges:   make(map[string]challenge),
		challengeTTL: time.Duration(challengeExpirySec) * time.Second,
	}
}

// NewChallenge issues a nonce the wallet must sign to prove control of the
// address. Reissuing replaces any pending challenge for the address.
func (a *Auth) NewChallenge(address string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(raw)

	a.mu.Lock()
	a.challenges[address] = challenge{nonce: nonce, expiresAt: time.Now().Add(a.challengeTTL)}
	a.mu.Unlock()
	return nonce, nil
}

// ChallengeMessage is the exact byte string the wallet signs.
func ChallengeMessage(address, nonce string) []byte {
	return []byte("hashguard login " + address + " " + nonce)
}

// VerifyChallenge checks the signature over the pending nonce. The address is
// the hex-encoded ed25519 public key; signature is hex as well. The challenge
// is consumed whether or not verification succeeds.
func (a *Auth) VerifyChallenge(address, signature string) error {
	a.mu.Lock()
	ch, ok := a.challenges[address]
	delete(a.challenges, address)
	a.mu.Unlock()

	if !ok || time.Now().After(ch.expiresAt) {
		return fmt.Errorf("no pending challenge for address")
	}

	pub, err := hex.DecodeString(address)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("address is not a valid public key")
	}
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("malformed signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), ChallengeMessage(address, ch.nonce), sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

func (a *Auth) GenerateToken(address, username string) (string, error) {
	claims := Claims{
		Address:  address,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ExtractClaims reads the JWT from the Authorization header (Bearer token).
// Returns nil if no valid token is present (for public endpoints).
func (a *Auth) ExtractClaims(r *http.Request) *Claims {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil
	}
	claims, err := a.ValidateToken(parts[1])
	if err != nil {
		return nil
	}
	return claims
}
