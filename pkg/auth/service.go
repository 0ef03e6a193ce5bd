// Package auth authenticates service-to-service calls and provider webhooks.
package auth

import (
	"crypto/subtle"
	"errors"
	"os"
)

var (
	ErrMissingServiceToken = errors.New("service token not provided")
	ErrInvalidServiceToken = errors.New("invalid service token")
)

// ValidateServiceToken compares token with expected in constant time.
func ValidateServiceToken(token, expected string) error {
	if token == "" {
		return ErrMissingServiceToken
	}
	if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return ErrInvalidServiceToken
	}
	return nil
}

// GetServiceToken reads SERVICE_TOKEN from the environment.
func GetServiceToken() string {
	return os.Getenv("SERVICE_TOKEN")
}
