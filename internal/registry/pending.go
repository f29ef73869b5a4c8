package registry

import (
	"sync"
	"time"

	"github.com/routetunnel/relay/internal/wire"
)

// result is delivered to a pending sink exactly once: either a response
// frame, or an error explaining why one will never arrive.
type result struct {
	response *wire.Response
	err      error
}

type pendingEntry struct {
	sink     chan result
	deadline time.Time
	resolved bool
}

// pendingTable is a Session's correlation-id → pending-slot map. All
// mutation happens under mu; each entry's sink receives exactly one result,
// from whichever of Complete/Cancel/ExpireDue/DrainAll removes the entry
// first (Remove drops an entry without sending to its sink).
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

// Insert registers a new pending slot for cid. Returns KindDuplicateCorrelation
// if one is already outstanding.
func (t *pendingTable) Insert(cid string, deadline time.Time) (<-chan result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[cid]; exists {
		return nil, newErr(KindDuplicateCorrelation, "correlation id already pending: "+cid)
	}
	entry := &pendingEntry{
		sink:     make(chan result, 1),
		deadline: deadline,
	}
	t.entries[cid] = entry
	return entry.sink, nil
}

// Complete delivers a response to the pending sink for cid. No-op if the
// cid is unknown (already resolved, or never registered — e.g. a response
// for a cancelled/timed-out request arriving late).
func (t *pendingTable) Complete(cid string, resp *wire.Response) {
	t.mu.Lock()
	entry, ok := t.entries[cid]
	if ok {
		delete(t.entries, cid)
	}
	t.mu.Unlock()
	if !ok || entry.resolved {
		return
	}
	entry.resolved = true
	entry.sink <- result{response: resp}
}

// Cancel fails the pending sink for cid with the given error kind/message.
// No-op if absent.
func (t *pendingTable) Cancel(cid string, err error) {
	t.mu.Lock()
	entry, ok := t.entries[cid]
	if ok {
		delete(t.entries, cid)
	}
	t.mu.Unlock()
	if !ok || entry.resolved {
		return
	}
	entry.resolved = true
	entry.sink <- result{err: err}
}

// Remove drops cid without resolving its sink (used when the caller itself
// is giving up — e.g. on ctx cancellation — and will not read from it
// again).
func (t *pendingTable) Remove(cid string) {
	t.mu.Lock()
	delete(t.entries, cid)
	t.mu.Unlock()
}

// ExpireDue atomically removes and fails every entry whose deadline has
// passed, reporting KindTimeout to each.
func (t *pendingTable) ExpireDue(now time.Time) {
	t.mu.Lock()
	var due []*pendingEntry
	for cid, entry := range t.entries {
		if !entry.deadline.After(now) {
			due = append(due, entry)
			delete(t.entries, cid)
		}
	}
	t.mu.Unlock()

	for _, entry := range due {
		if entry.resolved {
			continue
		}
		entry.resolved = true
		entry.sink <- result{err: newErr(KindTimeout, "pending request deadline exceeded")}
	}
}

// DrainAll fails every outstanding entry with the given error kind/message
// and empties the table. Used on detach/close/route-deletion.
func (t *pendingTable) DrainAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, entry := range entries {
		if entry.resolved {
			continue
		}
		entry.resolved = true
		entry.sink <- result{err: err}
	}
}

// Len reports the number of outstanding entries (tests only).
func (t *pendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
