// Package storage provides optional durability for the status-history and
// duplicate-prevention ledgers. The in-memory maps remain authoritative;
// a store only rehydrates them across restarts.
package storage
