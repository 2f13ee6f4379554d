package psa

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of upstream errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// ConfigurationError indicates missing or invalid tenant credentials. It is
// fatal to the specific call, never to the process.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// UpstreamError represents a failure reported by the PSA API.
type UpstreamError struct {
	StatusCode int
	Op         string
	Entity     string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error on %s %s (status %d): %s: %v",
			e.Class(), e.Op, e.Entity, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error on %s %s (status %d): %s",
		e.Class(), e.Op, e.Entity, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Class categorizes the error for observability and handling.
func (e *UpstreamError) Class() ErrorClass {
	switch {
	case e.StatusCode == 0:
		return ErrorClassNetwork
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusNotFound
}

// StatusCode extracts the upstream HTTP status from err, or 502 when the
// error carries none (network failures, wrapped errors).
func StatusCode(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.StatusCode != 0 {
		return ue.StatusCode
	}
	return http.StatusBadGateway
}
