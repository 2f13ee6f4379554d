package psa

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestUpstreamError_Class(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		expected   ErrorClass
	}{
		{"network error without status", 0, ErrorClassNetwork},
		{"bad request", 400, ErrorClassClient},
		{"not found", 404, ErrorClassClient},
		{"last client status", 499, ErrorClassClient},
		{"server error", 500, ErrorClassServer},
		{"bad gateway", 502, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &UpstreamError{StatusCode: tt.statusCode, Op: "query", Entity: "tickets"}
			if got := err.Class(); got != tt.expected {
				t.Errorf("Class() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestUpstreamError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := &UpstreamError{Op: "connect", Entity: "system", Message: "request failed", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}

	var ue *UpstreamError
	if !errors.As(error(err), &ue) {
		t.Error("errors.As should match *UpstreamError")
	}
}

func TestIsNotFound(t *testing.T) {
	notFound := &UpstreamError{StatusCode: http.StatusNotFound, Op: "get", Entity: "tickets"}
	if !IsNotFound(notFound) {
		t.Error("IsNotFound should be true for 404")
	}
	if IsNotFound(&UpstreamError{StatusCode: 500}) {
		t.Error("IsNotFound should be false for 500")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("IsNotFound should be false for non-upstream errors")
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"upstream 404", &UpstreamError{StatusCode: 404}, 404},
		{"upstream 503", &UpstreamError{StatusCode: 503}, 503},
		{"network error", &UpstreamError{}, http.StatusBadGateway},
		{"plain error", errors.New("boom"), http.StatusBadGateway},
		{"wrapped upstream", fmt.Errorf("outer: %w", &UpstreamError{StatusCode: 429}), 429},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.expected {
				t.Errorf("StatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestConfigurationError_Message(t *testing.T) {
	err := &ConfigurationError{Field: "company_id", Message: "must not be empty"}
	want := "configuration error: company_id: must not be empty"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
