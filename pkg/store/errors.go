package store

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested apartment or payment does not exist.
var ErrNotFound = errors.New("record not found")

// FailureKind classifies a store error so the caller can pick between
// surfacing it and falling back to the local snapshot.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureConnectivity
	FailureAuth
	FailureSchema
	FailureNotFound
)

// Classify maps a store error onto the failure taxonomy by message pattern.
// The hosted service does not return structured error codes for every case,
// so this mirrors what the driver actually reports.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	if errors.Is(err, ErrNotFound) {
		return FailureNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "does not exist") && strings.Contains(msg, "relation"):
		return FailureSchema
	case strings.Contains(msg, "password authentication failed"),
		strings.Contains(msg, "sqlstate 28"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "role") && strings.Contains(msg, "does not exist"):
		return FailureAuth
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "connection reset"):
		return FailureConnectivity
	}
	return FailureUnknown
}

// FailureMessage renders a user-facing description for a classified failure.
func FailureMessage(kind FailureKind) string {
	switch kind {
	case FailureConnectivity:
		return "could not reach the data service, check your connection"
	case FailureAuth:
		return "data service credentials are invalid, check the configuration"
	case FailureSchema:
		return "expected tables are missing, check the database setup"
	case FailureNotFound:
		return "record not found"
	default:
		return "unexpected data service error"
	}
}
