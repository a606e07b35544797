package model

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic save lost against a
	// concurrent writer and must be retried from a fresh read.
	ErrConflict = errors.New("revision conflict")
	// ErrInvalidState is returned when an auth request or SRP session is
	// used outside its allowed transitions.
	ErrInvalidState = errors.New("invalid request state")
	// ErrVerificationFailed is returned on any proof mismatch. It carries
	// no detail about which part of the check failed.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrMFARequired is returned when login completion needs a verified
	// multi-factor token first.
	ErrMFARequired = errors.New("multi-factor authentication required")
	// ErrUnsupported is returned for directory operations that are not
	// implemented. It must surface distinctly, never crash the pipeline.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrCrypto is returned when key derivation or random generation fails.
	ErrCrypto = errors.New("crypto provider failure")
)
