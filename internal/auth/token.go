// Package auth holds the client side of authentication: tokens are issued
// by the external collaborator, this package only stores and attaches them.
package auth

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned when a stored token is already past its
// expiry; presenting it to the backend would only earn a 401.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenSource yields the bearer credential to attach to backend calls.
type TokenSource interface {
	Token() (string, error)
}

// Static wraps a fixed token string.
type Static string

func (s Static) Token() (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", nil
	}
	if err := checkExpiry(token); err != nil {
		return "", err
	}
	return token, nil
}

// FileSource reads the token from a file on each call, so a refreshed
// token on disk is picked up without restarting.
type FileSource struct {
	Path string
}

func (f *FileSource) Token() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", nil
	}
	if err := checkExpiry(token); err != nil {
		return "", err
	}
	return token, nil
}

// checkExpiry parses the token without verifying its signature; the key
// lives on the server and validation is the collaborator's job. Only the
// exp claim is inspected, and only when the token actually is a JWT.
func checkExpiry(token string) error {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Opaque credential; let the backend judge it.
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if time.Now().After(exp.Time) {
		return ErrTokenExpired
	}
	return nil
}

// FromConfig picks a token source: file path wins over the inline token.
func FromConfig(token, tokenFile string) TokenSource {
	if tokenFile != "" {
		return &FileSource{Path: tokenFile}
	}
	return Static(token)
}
