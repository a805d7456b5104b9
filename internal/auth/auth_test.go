package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"
)

func testSeedHex(t *testing.T) (string, ed25519.PublicKey) {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return hex.EncodeToString(seed), ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
}

func TestLoadCredentials_Seed(t *testing.T) {
	seedHex, _ := testSeedHex(t)

	creds, err := LoadCredentials(3, 1, seedHex)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if creds.AccountIndex != 3 || creds.APIKeyIndex != 1 {
		t.Errorf("indices = %d/%d, want 3/1", creds.AccountIndex, creds.APIKeyIndex)
	}
	if len(creds.PrivateKey) != ed25519.PrivateKeySize {
		t.Errorf("key size = %d, want %d", len(creds.PrivateKey), ed25519.PrivateKeySize)
	}
}

func TestLoadCredentials_HexPrefix(t *testing.T) {
	seedHex, _ := testSeedHex(t)

	if _, err := LoadCredentials(1, 0, "0x"+seedHex); err != nil {
		t.Errorf("LoadCredentials with 0x prefix failed: %v", err)
	}
}

func TestLoadCredentials_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not hex", "zzzz"},
		{"wrong length", "deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadCredentials(1, 0, tt.key); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestToken_RoundTrip(t *testing.T) {
	seedHex, pub := testSeedHex(t)
	creds, err := LoadCredentials(7, 2, seedHex)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}

	token, err := creds.Token(time.Minute)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if strings.Count(token, ":") != 3 {
		t.Fatalf("token = %q, want 4 colon-separated fields", token)
	}

	accountIndex, err := VerifyToken(pub, token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if accountIndex != 7 {
		t.Errorf("account index = %d, want 7", accountIndex)
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	seedHex, pub := testSeedHex(t)
	creds, _ := LoadCredentials(7, 2, seedHex)

	// Sign a token whose deadline is already in the past.
	deadline := time.Now().Add(-time.Minute).Unix()
	message := fmt.Sprintf("%d:%d:%d", deadline, creds.AccountIndex, creds.APIKeyIndex)
	sig := ed25519.Sign(creds.PrivateKey, []byte(message))
	token := message + ":" + base64.RawURLEncoding.EncodeToString(sig)

	if _, err := VerifyToken(pub, token); err == nil {
		t.Error("VerifyToken accepted an expired token")
	}
}

func TestVerifyToken_Tampered(t *testing.T) {
	seedHex, pub := testSeedHex(t)
	creds, _ := LoadCredentials(7, 2, seedHex)

	token, _ := creds.Token(time.Minute)
	parts := strings.Split(token, ":")
	parts[1] = "99"
	if _, err := VerifyToken(pub, strings.Join(parts, ":")); err == nil {
		t.Error("VerifyToken accepted a tampered token")
	}
}
