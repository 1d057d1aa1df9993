package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const maxAuthAttempts = 3

// AuthHandler manages challenge-response authentication
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler. An empty secret
// disables authentication.
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// Enabled reports whether clients must authenticate.
func (a *AuthHandler) Enabled() bool {
	return a.sharedSecret != ""
}

// GenerateChallenge generates a cryptographically random 32-byte challenge
func (a *AuthHandler) GenerateChallenge() (string, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(challenge), nil
}

// Sign returns the hex HMAC-SHA256 of challenge under secret.
func Sign(secret, challenge string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature verifies an HMAC-SHA256 signature against a challenge
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	expected := Sign(a.sharedSecret, challenge)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// VerifySecret checks a shared secret presented in an HTTP header.
func (a *AuthHandler) VerifySecret(secret string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(secret)) == 1
}

// HandleAuthResponse checks a client's signature of its pending challenge.
// The returned frame is sent back to the client; close is true once the
// client has used up its attempts.
func (a *AuthHandler) HandleAuthResponse(client *Client, signature string) (result Frame, close bool) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.challenge == "" {
		return Frame{Type: "auth_result", Message: "no challenge found"}, false
	}

	if !a.VerifySignature(client.challenge, signature) {
		client.authAttempts++
		if client.authAttempts >= maxAuthAttempts {
			return Frame{Type: "auth_result", Message: "too many failed attempts"}, true
		}
		return Frame{Type: "auth_result", Message: "invalid signature"}, false
	}

	client.authenticated = true
	client.authAttempts = 0
	client.challenge = ""
	return Frame{Type: "auth_result", OK: true}, false
}
