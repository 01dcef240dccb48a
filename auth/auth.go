// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidToken     = errors.New("invalid token format")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// NewIdentityToken creates a random secure token for a participant.
// This is the opaque identity the vote ledger keys votes by.
func NewIdentityToken() (string, error) {
	b := make([]byte, 24) // 24 bytes = 192 bits of entropy
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate identity token: %w", err)
	}
	// URL-safe base64 without padding
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "="), nil
}

// SignToken appends an HMAC-SHA256 signature so the token can travel in a
// cookie and be verified without server-side storage.
func SignToken(token, secret string) string {
	return token + "." + signature(token, secret)
}

// VerifyToken checks a signed token and returns the bare identity token.
func VerifyToken(signed, secret string) (string, error) {
	i := strings.LastIndexByte(signed, '.')
	if i <= 0 || i == len(signed)-1 {
		return "", ErrInvalidToken
	}
	token, sig := signed[:i], signed[i+1:]
	if !hmac.Equal([]byte(sig), []byte(signature(token, secret))) {
		return "", ErrInvalidSignature
	}
	return token, nil
}

func signature(token, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(token))
	sum := h.Sum(nil)
	// Use URL-safe base64 and trim padding for cleaner cookies
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}
