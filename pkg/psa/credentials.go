package psa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// TenantCredentials identifies one tenant against the PSA API. The tuple is
// immutable once constructed and lives only in process memory: it is used to
// derive pool cache keys and to authenticate upstream calls, nothing else.
type TenantCredentials struct {
	// CompanyID is the tenant's company identifier at the PSA platform.
	CompanyID string

	// PublicKey is the integration's public API key.
	PublicKey string

	// PrivateKey is the integration's secret API key.
	PrivateKey string

	// Endpoint overrides the default upstream base URL when non-empty.
	Endpoint string
}

// Validate checks that the credential tuple is usable.
func (c TenantCredentials) Validate() error {
	switch {
	case strings.TrimSpace(c.CompanyID) == "":
		return &ConfigurationError{Field: "company_id", Message: "must not be empty"}
	case strings.TrimSpace(c.PublicKey) == "":
		return &ConfigurationError{Field: "public_key", Message: "must not be empty"}
	case strings.TrimSpace(c.PrivateKey) == "":
		return &ConfigurationError{Field: "private_key", Message: "must not be empty"}
	}
	return nil
}

// CacheKey derives the deterministic pool key for this credential tuple.
//
// The key is an HMAC-SHA256 over (company, public key, endpoint) keyed by the
// private key, so equal tuples always map to the same key while distinct
// tuples collide with negligible probability, and the secret itself never
// appears in logs or map keys.
func (c TenantCredentials) CacheKey() string {
	mac := hmac.New(sha256.New, []byte(c.PrivateKey))
	mac.Write([]byte(c.CompanyID))
	mac.Write([]byte{0})
	mac.Write([]byte(c.PublicKey))
	mac.Write([]byte{0})
	mac.Write([]byte(c.Endpoint))
	return hex.EncodeToString(mac.Sum(nil))
}

// ShortKey returns a truncated cache key suitable for log fields.
func (c TenantCredentials) ShortKey() string {
	key := c.CacheKey()
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
