// Package auth derives the authenticated user id from the backend-issued
// bearer token. The id names the client's personal queues on the broker
// (/user/queue/...), so it must be known before subscribing.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned when the token carries no subject claim.
var ErrNoSubject = errors.New("auth: token has no subject claim")

// UserID extracts the `sub` claim without verifying the signature. The
// client merely holds the token; validating it is the server's job.
func UserID(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}
