package storeguard

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownPolicy is returned when a named policy does not exist
	ErrUnknownPolicy = errors.New("unknown rate limit policy")

	// ErrUnknownStore is returned for an unsupported store type
	ErrUnknownStore = errors.New("unknown store type")

	// ErrStoreFailed is returned when store operations fail
	ErrStoreFailed = errors.New("store operation failed")

	// ErrInvalidIP is returned when an admin call names something that is not an IP
	ErrInvalidIP = errors.New("invalid IP address")
)
