package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	randomSize = 32
	macInfo    = "billsdk-csrf-v1"
)

// GenerateToken returns "<random>.<signature>": 32 random bytes and their
// HMAC-SHA256, both hex encoded.
func GenerateToken(secret string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}

	buf := make([]byte, randomSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	random := hex.EncodeToString(buf)

	sig, err := sign(random, secret)
	if err != nil {
		return "", err
	}
	return random + "." + sig, nil
}

// VerifyToken checks that token was produced by GenerateToken with secret.
func VerifyToken(token, secret string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	random, sig, ok := strings.Cut(token, ".")
	if !ok || random == "" || sig == "" {
		return ErrInvalidToken
	}

	expected, err := sign(random, secret)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

func sign(random, secret string) (string, error) {
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(macInfo)), key); err != nil {
		return "", fmt.Errorf("csrf: derive key: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(random))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
