// Package psa is the boundary to the upstream PSA API. It exposes a narrow
// entity-store interface (query/get/create/update/delete) and translates all
// upstream wire shapes at this boundary so nothing upstream-specific leaks
// into the admission gate or the pagination engine.
package psa

import (
	"context"
	"encoding/json"

	"github.com/psagate/psa-gateway/pkg/pagination"
)

// Client is the narrow interface to the upstream entity store. Entities are
// opaque names (tickets, companies, contacts, ...); records are raw JSON.
type Client interface {
	// Query fetches one page of records matching filter. Page is 1-indexed.
	Query(ctx context.Context, entity, filter string, pageSize, page int) (*pagination.Page, error)

	// Get fetches a single record by id.
	Get(ctx context.Context, entity, id string) (json.RawMessage, error)

	// Create inserts a record and returns the created representation.
	Create(ctx context.Context, entity string, data json.RawMessage) (json.RawMessage, error)

	// Update patches a record and returns the updated representation.
	Update(ctx context.Context, entity, id string, data json.RawMessage) (json.RawMessage, error)

	// Delete removes a record by id.
	Delete(ctx context.Context, entity, id string) error
}
