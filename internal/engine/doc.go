// Package engine implements the reconciliation cycle: fetch the current
// order rows, detect new orders and status changes against the history
// store, resolve each change to one message type, gate it through the
// duplicate-prevention ledger and hand the rendered notification to the
// dispatch queue.
//
// At most one cycle is in flight at any time. The recurring timer and the
// manual force-run share a single try-lock; a force-run during a cycle is
// rejected, not queued. Stop cancels future firings but lets the in-flight
// cycle finish.
package engine
