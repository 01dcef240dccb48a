// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"time"

	"github.com/danielhkuo/livepoll/auth"
)

const (
	SessionCookie = "sessionId"
	sessionMaxAge = 30 * 24 * time.Hour
)

// resolveIdentity returns the caller's identity token from the signed
// session cookie. A missing or tampered cookie gets a fresh identity, which
// is set on the response before any vote logic runs.
func resolveIdentity(w http.ResponseWriter, r *http.Request, secret string) (string, error) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if identity, err := auth.VerifyToken(c.Value, secret); err == nil {
			return identity, nil
		}
	}

	identity, err := auth.NewIdentityToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    auth.SignToken(identity, secret),
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return identity, nil
}
