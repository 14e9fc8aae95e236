package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Minter issues short-lived EdDSA-signed tokens authorizing one
// outbound agent call. Minting is pure given the clock and key; a
// fresh token is expected per HTTP attempt.
type Minter struct {
	Issuer string
	Key    ed25519.PrivateKey
	TTL    time.Duration
	Now    func() time.Time
}

const defaultTTL = 30 * time.Minute

// Mint returns a signed token for one call to the given audience.
// Signing failure indicates a configuration defect and is fatal to
// the call, never retried.
func (m Minter) Mint(userID, audience string) (string, error) {
	if len(m.Key) == 0 {
		return "", errors.New("credential: signing key not configured")
	}
	if userID == "" {
		return "", errors.New("credential: subject required")
	}
	if audience == "" {
		return "", errors.New("credential: audience required")
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	ttl := m.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	issued := now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    m.Issuer,
		Subject:   userID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.Key)
	if err != nil {
		return "", fmt.Errorf("credential: sign token: %w", err)
	}
	return token, nil
}

// Public returns the verification key matching the signing key.
func (m Minter) Public() ed25519.PublicKey {
	if len(m.Key) == 0 {
		return nil
	}
	return m.Key.Public().(ed25519.PublicKey)
}

// Generate creates a new Ed25519 signing key.
func Generate() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	return key, err
}

// LoadKey reads a PKCS#8 PEM-encoded Ed25519 private key.
func LoadKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("credential: no PEM block in %s", path)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("credential: parse key %s: %w", path, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("credential: %s is not an Ed25519 key", path)
	}
	return key, nil
}

// SaveKey writes the key as PKCS#8 PEM with owner-only permissions.
func SaveKey(path string, key ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return os.WriteFile(path, data, 0o600)
}
