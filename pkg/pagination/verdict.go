// Package pagination implements the completeness protocol for paginated
// upstream result sets. Evaluate is purely functional: given one page and the
// upstream's total-count metadata it computes a verdict that tells the caller
// whether the result set is fully retrieved and, if not, exactly which page
// to request next.
package pagination

import (
	"encoding/json"
	"fmt"
)

// Status is the completeness judgment for one page of a larger result set.
type Status string

const (
	// StatusComplete indicates the caller holds the full result set.
	StatusComplete Status = "COMPLETE"

	// StatusIncomplete indicates more pages remain to be fetched.
	StatusIncomplete Status = "INCOMPLETE"
)

// Page is one page of an upstream query result. Number is 1-indexed.
type Page struct {
	Items      []json.RawMessage
	TotalItems int
	Number     int
	Size       int
}

// NextAction describes the exact next step for an incomplete result set.
type NextAction struct {
	Page           int   `json:"page"`
	RemainingPages []int `json:"remainingPages"`
}

// Verdict is the computed completeness judgment for a page.
type Verdict struct {
	Status              Status `json:"status"`
	CurrentPage         int    `json:"currentPage"`
	TotalPages          int    `json:"totalPages"`
	ItemsInThisResponse int    `json:"itemsInThisResponse"`
	TotalItems          int    `json:"totalItems"`

	// NextAction is present only when Status is INCOMPLETE.
	NextAction *NextAction `json:"nextAction,omitempty"`

	// Instruction names the next page to request in plain words. It is
	// carried for logs and events, not on the wire envelope.
	Instruction string `json:"-"`
}

// Evaluate computes the completeness verdict for a page.
//
// A page is COMPLETE when the current page reaches the computed total page
// count, or when the upstream returned fewer items than the page size. The
// short-page rule defends against upstreams whose total-count metadata lags
// behind the actual data.
func Evaluate(page Page) Verdict {
	totalPages := ceilDiv(page.TotalItems, page.Size)

	v := Verdict{
		CurrentPage:         page.Number,
		TotalPages:          totalPages,
		ItemsInThisResponse: len(page.Items),
		TotalItems:          page.TotalItems,
	}

	if page.Number >= totalPages || len(page.Items) < page.Size {
		v.Status = StatusComplete
		v.Instruction = "all pages retrieved"
		return v
	}

	v.Status = StatusIncomplete
	remaining := make([]int, 0, totalPages-page.Number)
	for p := page.Number + 1; p <= totalPages; p++ {
		remaining = append(remaining, p)
	}
	v.NextAction = &NextAction{
		Page:           page.Number + 1,
		RemainingPages: remaining,
	}
	v.Instruction = fmt.Sprintf("result set incomplete: request page %d of %d next", page.Number+1, totalPages)
	return v
}

// ceilDiv returns ceil(a/b), treating a non-positive divisor as zero pages.
func ceilDiv(a, b int) int {
	if b <= 0 || a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
