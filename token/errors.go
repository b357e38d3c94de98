package token

import "errors"

var (
	// ErrMalformed is returned for tokens that cannot be parsed or carry an
	// incomplete or inconsistent claim set.
	ErrMalformed = errors.New("token malformed")
	// ErrExpired is returned for correctly signed tokens past their exp.
	ErrExpired = errors.New("token expired")
	// ErrSignatureInvalid is returned when the signature does not verify or the
	// header names an algorithm other than the configured one.
	ErrSignatureInvalid = errors.New("token signature invalid")
)
