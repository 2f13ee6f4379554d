package pagination

import "sync"

// Verifier accumulates page observations across repeated calls and validates
// that a caller actually walked the full result set instead of trusting a
// single verdict. Safe for concurrent use.
type Verifier struct {
	mu         sync.Mutex
	totalItems int
	pages      map[int]int // page number -> item count
}

// NewVerifier creates an empty verifier.
func NewVerifier() *Verifier {
	return &Verifier{
		pages: make(map[int]int),
	}
}

// Record stores one observation. Re-recording the same page replaces the
// earlier count rather than double-counting it.
func (v *Verifier) Record(page, itemCount, totalItems int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.pages[page] = itemCount
	if totalItems > v.totalItems {
		v.totalItems = totalItems
	}
}

// IsComplete reports whether the recorded item counts cover the largest
// total-item count observed so far.
func (v *Verifier) IsComplete() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	sum := 0
	for _, count := range v.pages {
		sum += count
	}
	return sum >= v.totalItems
}

// Observed returns the number of items recorded and the total expected.
func (v *Verifier) Observed() (recorded, total int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, count := range v.pages {
		recorded += count
	}
	return recorded, v.totalItems
}

// PagesSeen returns the number of distinct pages recorded.
func (v *Verifier) PagesSeen() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pages)
}
