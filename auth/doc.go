// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth issues and verifies participant identity tokens.

Issuance is a separate capability from voting: the HTTP layer resolves or
mints the identity before it calls the vote service, which only ever sees an
already-resolved token.

# Identity Tokens

Identity tokens are random 24-byte (192-bit) secrets:

	token, err := auth.NewIdentityToken()

Tokens are URL-safe base64 encoded without padding.

# Signed Cookies

Tokens are stored client side as token.signature, where the signature is an
HMAC-SHA256 of the token under the session secret:

	value := auth.SignToken(token, secret)
	token, err := auth.VerifyToken(value, secret)

A tampered or unsigned value fails with ErrInvalidSignature or
ErrInvalidToken, and the caller mints a fresh identity.
*/
package auth
