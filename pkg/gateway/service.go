// Package gateway is the service layer: it resolves a tenant's pooled
// client, pushes every upstream call through the execution gate, and wraps
// query results with a pagination verdict before returning them.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/psagate/psa-gateway/pkg/pagination"
	"github.com/psagate/psa-gateway/pkg/pool"
	"github.com/psagate/psa-gateway/pkg/psa"
	"github.com/psagate/psa-gateway/pkg/ratelimit"
)

// Service mediates all caller traffic to the upstream API.
type Service struct {
	pool   *pool.Pool
	gate   *ratelimit.Gate
	logger zerolog.Logger
}

// NewService wires the pool and gate into the service layer.
func NewService(p *pool.Pool, gate *ratelimit.Gate, logger zerolog.Logger) *Service {
	return &Service{
		pool:   p,
		gate:   gate,
		logger: logger,
	}
}

// Query fetches one page and wraps it with its completeness verdict. A
// partial page is never returned silently: the INCOMPLETE verdict and its
// next action are always present in the envelope.
func (s *Service) Query(ctx context.Context, creds psa.TenantCredentials, entity, filter string, pageSize, page int) (*pagination.Envelope, error) {
	client, err := s.pool.Acquire(ctx, creds)
	if err != nil {
		return nil, err
	}

	var result *pagination.Page
	err = s.gate.Execute(ctx, "query", func(ctx context.Context) error {
		var qerr error
		result, qerr = client.Query(ctx, entity, filter, pageSize, page)
		return qerr
	})
	if err != nil {
		return nil, err
	}

	verdict := pagination.Evaluate(*result)
	s.logger.Debug().
		Str("entity", entity).
		Str("tenant", creds.ShortKey()).
		Str("status", string(verdict.Status)).
		Int("page", verdict.CurrentPage).
		Int("total_pages", verdict.TotalPages).
		Msg(verdict.Instruction)

	return pagination.NewEnvelope(*result, verdict), nil
}

// Get fetches a single record.
func (s *Service) Get(ctx context.Context, creds psa.TenantCredentials, entity, id string) (json.RawMessage, error) {
	client, err := s.pool.Acquire(ctx, creds)
	if err != nil {
		return nil, err
	}

	var record json.RawMessage
	err = s.gate.Execute(ctx, "get", func(ctx context.Context) error {
		var gerr error
		record, gerr = client.Get(ctx, entity, id)
		return gerr
	})
	return record, err
}

// Create inserts a record.
func (s *Service) Create(ctx context.Context, creds psa.TenantCredentials, entity string, data json.RawMessage) (json.RawMessage, error) {
	client, err := s.pool.Acquire(ctx, creds)
	if err != nil {
		return nil, err
	}

	var record json.RawMessage
	err = s.gate.Execute(ctx, "create", func(ctx context.Context) error {
		var cerr error
		record, cerr = client.Create(ctx, entity, data)
		return cerr
	})
	return record, err
}

// Update patches a record.
func (s *Service) Update(ctx context.Context, creds psa.TenantCredentials, entity, id string, data json.RawMessage) (json.RawMessage, error) {
	client, err := s.pool.Acquire(ctx, creds)
	if err != nil {
		return nil, err
	}

	var record json.RawMessage
	err = s.gate.Execute(ctx, "update", func(ctx context.Context) error {
		var uerr error
		record, uerr = client.Update(ctx, entity, id, data)
		return uerr
	})
	return record, err
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, creds psa.TenantCredentials, entity, id string) error {
	client, err := s.pool.Acquire(ctx, creds)
	if err != nil {
		return err
	}

	return s.gate.Execute(ctx, "delete", func(ctx context.Context) error {
		return client.Delete(ctx, entity, id)
	})
}

// ClientCount reports the number of pooled upstream clients.
func (s *Service) ClientCount() int {
	return s.pool.Size()
}
