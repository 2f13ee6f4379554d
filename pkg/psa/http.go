package psa

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/psagate/psa-gateway/pkg/pagination"
)

// DefaultTimeout bounds a single upstream HTTP call.
const DefaultTimeout = 30 * time.Second

// ConnectOptions configures upstream handle construction.
type ConnectOptions struct {
	// BaseURL is the upstream API root, e.g. "https://psa.example.com".
	// Overridden by the credential tuple's Endpoint when set.
	BaseURL string

	// HTTPClient overrides the default client (used by tests).
	HTTPClient *http.Client

	// Logger receives boundary-level debug logging.
	Logger zerolog.Logger
}

// restClient implements Client over the PSA REST API.
type restClient struct {
	http    *http.Client
	baseURL string
	creds   TenantCredentials
	logger  zerolog.Logger
}

// queryEnvelope is the upstream wire shape for paged queries.
type queryEnvelope struct {
	Items      []json.RawMessage `json:"items"`
	TotalCount int               `json:"totalCount"`
}

// errorEnvelope is the upstream wire shape for error responses.
type errorEnvelope struct {
	Message string `json:"message"`
}

// Connect constructs an authenticated upstream handle for one tenant.
//
// Construction probes the API with a lightweight authenticated request, so it
// is slow and may fail with a connection or authentication error. Failures
// propagate to the caller; the pool never caches a failed handle.
func Connect(ctx context.Context, creds TenantCredentials, opts ConnectOptions) (Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	baseURL := opts.BaseURL
	if creds.Endpoint != "" {
		baseURL = creds.Endpoint
	}
	if baseURL == "" {
		return nil, &ConfigurationError{Field: "endpoint", Message: "no upstream base URL configured"}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	c := &restClient{
		http:    httpClient,
		baseURL: baseURL,
		creds:   creds,
		logger:  opts.Logger.With().Str("tenant", creds.ShortKey()).Logger(),
	}

	if _, err := c.do(ctx, "connect", "system", http.MethodGet, "/v1/system/info", nil); err != nil {
		return nil, err
	}

	c.logger.Info().Str("base_url", baseURL).Msg("Connected to PSA API")
	return c, nil
}

// Query fetches one page of records for entity.
func (c *restClient) Query(ctx context.Context, entity, filter string, pageSize, page int) (*pagination.Page, error) {
	if pageSize <= 0 {
		pageSize = 25
	}
	if page <= 0 {
		page = 1
	}

	q := url.Values{}
	if filter != "" {
		q.Set("conditions", filter)
	}
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))

	body, err := c.do(ctx, "query", entity, http.MethodGet, "/v1/"+entity+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var env queryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &UpstreamError{Op: "query", Entity: entity, Message: "malformed query response", Err: err}
	}

	return &pagination.Page{
		Items:      env.Items,
		TotalItems: env.TotalCount,
		Number:     page,
		Size:       pageSize,
	}, nil
}

// Get fetches a single record by id.
func (c *restClient) Get(ctx context.Context, entity, id string) (json.RawMessage, error) {
	return c.do(ctx, "get", entity, http.MethodGet, "/v1/"+entity+"/"+url.PathEscape(id), nil)
}

// Create inserts a record.
func (c *restClient) Create(ctx context.Context, entity string, data json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, "create", entity, http.MethodPost, "/v1/"+entity, data)
}

// Update patches a record.
func (c *restClient) Update(ctx context.Context, entity, id string, data json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, "update", entity, http.MethodPatch, "/v1/"+entity+"/"+url.PathEscape(id), data)
}

// Delete removes a record.
func (c *restClient) Delete(ctx context.Context, entity, id string) error {
	_, err := c.do(ctx, "delete", entity, http.MethodDelete, "/v1/"+entity+"/"+url.PathEscape(id), nil)
	return err
}

// do executes one upstream HTTP call and translates failures into the
// gateway error taxonomy.
func (c *restClient) do(ctx context.Context, op, entity, method, path string, body json.RawMessage) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &UpstreamError{Op: op, Entity: entity, Message: "create request", Err: err}
	}

	req.SetBasicAuth(c.creds.CompanyID+"+"+c.creds.PublicKey, c.creds.PrivateKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("operation", op).Str("entity", entity).Msg("Upstream request failed")
		return nil, &UpstreamError{Op: op, Entity: entity, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Op: op, Entity: entity, Message: "read response", Err: err}
	}

	if resp.StatusCode >= 400 {
		message := resp.Status
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil && env.Message != "" {
			message = env.Message
		}

		c.logger.Warn().
			Str("operation", op).
			Str("entity", entity).
			Int("status_code", resp.StatusCode).
			Msg("Upstream error response")

		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Op:         op,
			Entity:     entity,
			Message:    message,
		}
	}

	return data, nil
}
