package credential

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestMintAndVerify(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	issued := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	m := Minter{
		Issuer: "coachline",
		Key:    key,
		TTL:    15 * time.Minute,
		Now:    func() time.Time { return issued },
	}
	token, err := m.Mint("user-1", "data-agent")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithTimeFunc(func() time.Time { return issued }))
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.Public(), nil
	}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Issuer != "coachline" || claims.Subject != "user-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "data-agent" {
		t.Fatalf("unexpected audience %v", claims.Audience)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 15*time.Minute {
		t.Fatalf("expected 15m lifetime, got %v", got)
	}
}

func TestMintDefaultsLifetime(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	m := Minter{Issuer: "coachline", Key: key}
	token, err := m.Mint("user-1", "aud")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.NewParser().ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.Public(), nil
	}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != defaultTTL {
		t.Fatalf("expected default lifetime, got %v", got)
	}
}

func TestMintValidation(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := (Minter{}).Mint("user-1", "aud"); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := (Minter{Key: key}).Mint("", "aud"); err == nil {
		t.Fatalf("expected missing subject error")
	}
	if _, err := (Minter{Key: key}).Mint("user-1", ""); err == nil {
		t.Fatalf("expected missing audience error")
	}
}

func TestSaveAndLoadKey(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "credential.pem")
	if err := SaveKey(path, key); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !key.Equal(loaded) {
		t.Fatalf("loaded key does not match the saved key")
	}
	if _, err := LoadKey(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatalf("expected error for missing key file")
	}
}
