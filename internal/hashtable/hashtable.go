// Package hashtable implements the per-peer change detector (spec.md
// §4.4) peer adapters use to derive change types when the underlying
// system only reports current state.
package hashtable

import (
	"github.com/jabolina/go-syncengine/internal/archive"
	"github.com/jabolina/go-syncengine/internal/db"
)

// ChangeType is the classification get_changetype derives.
type ChangeType = archive.ChangeType

const (
	Added      = archive.Added
	Modified   = archive.Modified
	Unmodified = archive.Unmodified
	Deleted    = archive.Deleted
)

// HashTable tracks an (uid -> hash) baseline on disk, plus the in-memory
// "seen this run" set needed to compute deletions.
type HashTable struct {
	store   db.Database
	objtype string

	baseline map[string]string // loaded from disk at Load
	seen     map[string]bool
}

// Load opens or creates the backing table for (path, objtype).
func Load(path, objtype string) (*HashTable, error) {
	store, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := store.Execute(
		`CREATE TABLE IF NOT EXISTS hashtable (uid TEXT PRIMARY KEY, hash TEXT NOT NULL)`); err != nil {
		store.Close()
		return nil, err
	}

	h := &HashTable{store: store, objtype: objtype, baseline: map[string]string{}, seen: map[string]bool{}}
	rows, err := store.QueryTable(`SELECT uid, hash FROM hashtable`)
	if err != nil {
		store.Close()
		return nil, err
	}
	for _, row := range rows {
		h.baseline[row[0]] = row[1]
	}
	return h, nil
}

// Close releases the underlying database connection.
func (h *HashTable) Close() error {
	return h.store.Close()
}

// GetChangeType classifies (uid, hash) against the loaded baseline:
// absent -> Added, present with a different hash -> Modified, present
// with the same hash -> Unmodified.
func (h *HashTable) GetChangeType(uid, hash string) ChangeType {
	old, ok := h.baseline[uid]
	if !ok {
		return Added
	}
	if old != hash {
		return Modified
	}
	return Unmodified
}

// UpdateChange records (uid, hash) in the in-memory map and marks uid as
// seen this run, regardless of change type.
func (h *HashTable) UpdateChange(uid, hash string) {
	h.baseline[uid] = hash
	h.seen[uid] = true
}

// GetDeleted returns every baseline uid that was never marked seen this
// run. Ordering is unspecified.
func (h *HashTable) GetDeleted() []string {
	var deleted []string
	for uid := range h.baseline {
		if !h.seen[uid] {
			deleted = append(deleted, uid)
		}
	}
	return deleted
}

// SlowSync wipes the baseline; the next run will report everything as
// Added.
func (h *HashTable) SlowSync() {
	h.baseline = map[string]string{}
	h.seen = map[string]bool{}
}

// Save persists the current map to disk. Called once at sync-done.
func (h *HashTable) Save() error {
	if err := h.store.Execute(`DELETE FROM hashtable`); err != nil {
		return err
	}
	for uid, hash := range h.baseline {
		if !h.seen[uid] {
			// Deleted uids (never re-updated this run) drop out of the
			// persisted baseline too.
			continue
		}
		if err := h.store.Execute(
			`INSERT INTO hashtable (uid, hash) VALUES (?, ?)`, uid, hash); err != nil {
			return err
		}
	}
	return nil
}
