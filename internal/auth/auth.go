// Package auth produces the short-lived bearer tokens the venue's
// account endpoints accept, signed with the account's ed25519 API key.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 10 * time.Minute

// Credentials holds one account's signing material.
type Credentials struct {
	AccountIndex int
	APIKeyIndex  int
	PrivateKey   ed25519.PrivateKey
}

// LoadCredentials builds credentials from a hex-encoded ed25519 key.
// Both the 32-byte seed and the 64-byte expanded form are accepted; a
// 0x prefix is tolerated.
func LoadCredentials(accountIndex, apiKeyIndex int, privateKeyHex string) (*Credentials, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}

	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("private key length %d, want %d or %d bytes",
			len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}

	return &Credentials{
		AccountIndex: accountIndex,
		APIKeyIndex:  apiKeyIndex,
		PrivateKey:   key,
	}, nil
}

// Token issues a bearer token valid for ttl:
//
//	<deadline>:<account_index>:<api_key_index>:<signature>
//
// The signature covers the three leading fields.
func (c *Credentials) Token(ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if len(c.PrivateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("credentials have no private key")
	}

	deadline := time.Now().Add(ttl).Unix()
	message := fmt.Sprintf("%d:%d:%d", deadline, c.AccountIndex, c.APIKeyIndex)
	sig := ed25519.Sign(c.PrivateKey, []byte(message))

	return message + ":" + base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifyToken checks a token's signature and deadline against a public
// key and returns the account index it was issued for.
func VerifyToken(pub ed25519.PublicKey, token string) (int, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return 0, fmt.Errorf("token has %d fields, want 4", len(parts))
	}

	deadline, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse deadline: %w", err)
	}
	if time.Now().Unix() > deadline {
		return 0, fmt.Errorf("token expired")
	}

	accountIndex, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("parse account index: %w", err)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return 0, fmt.Errorf("decode signature: %w", err)
	}

	message := strings.Join(parts[:3], ":")
	if !ed25519.Verify(pub, []byte(message), sig) {
		return 0, fmt.Errorf("signature mismatch")
	}
	return accountIndex, nil
}
