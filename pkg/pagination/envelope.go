package pagination

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// Envelope is the wire shape returned to callers. The pagination block is
// always present so a partial page can never be mistaken for the full result
// set.
type Envelope struct {
	Items      []json.RawMessage `json:"items"`
	Pagination Verdict           `json:"pagination"`
}

// NewEnvelope wraps a page and its verdict into the wire envelope.
func NewEnvelope(page Page, verdict Verdict) *Envelope {
	items := page.Items
	if items == nil {
		items = []json.RawMessage{}
	}
	return &Envelope{
		Items:      items,
		Pagination: verdict,
	}
}

// Encode marshals the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return gojson.Marshal(e)
}
