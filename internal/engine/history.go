package engine

import (
	"sort"
	"sync"
	"time"
)

// HistoryEntry is the last observed status for one order.
type HistoryEntry struct {
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

// HistoryStore keeps one entry per order id. Presence of an entry means the
// order was seen in an earlier cycle; absence means the row is new.
type HistoryStore struct {
	mu      sync.Mutex
	entries map[string]HistoryEntry
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{entries: map[string]HistoryEntry{}}
}

func (h *HistoryStore) Get(orderID string) (HistoryEntry, bool) {
	h.mu.Lock()
	e, ok := h.entries[orderID]
	h.mu.Unlock()
	return e, ok
}

func (h *HistoryStore) Put(orderID, status string, observedAt time.Time) {
	h.mu.Lock()
	h.entries[orderID] = HistoryEntry{OrderID: orderID, Status: status, ObservedAt: observedAt}
	h.mu.Unlock()
}

// Restore seeds the store from persisted records. In-memory entries win so a
// rehydrate after the first cycle never rolls the store backwards.
func (h *HistoryStore) Restore(entries []HistoryEntry) {
	h.mu.Lock()
	for _, e := range entries {
		if _, ok := h.entries[e.OrderID]; !ok {
			h.entries[e.OrderID] = e
		}
	}
	h.mu.Unlock()
}

// Entries returns a snapshot sorted by order id.
func (h *HistoryStore) Entries() []HistoryEntry {
	h.mu.Lock()
	out := make([]HistoryEntry, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, e)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (h *HistoryStore) Len() int {
	h.mu.Lock()
	n := len(h.entries)
	h.mu.Unlock()
	return n
}

// Reset drops every entry. The next cycle treats all rows as new.
func (h *HistoryStore) Reset() {
	h.mu.Lock()
	h.entries = map[string]HistoryEntry{}
	h.mu.Unlock()
}
