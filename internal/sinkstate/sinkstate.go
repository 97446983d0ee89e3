// Package sinkstate implements SinkStateDB/Anchor (spec.md §4.5): a tiny
// per-peer (objtype, key) -> value store used for resume tokens. Peer
// adapters typically call Equal during connect and request a slow-sync
// via the PeerProxy callback if it returns false.
package sinkstate

import "github.com/jabolina/go-syncengine/internal/db"

// SinkStateDB is a per-group (objtype, key) -> value store.
type SinkStateDB struct {
	store db.Database
}

// Open opens or creates the backing table at path.
func Open(path string) (*SinkStateDB, error) {
	store, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := store.Execute(
		`CREATE TABLE IF NOT EXISTS sinkstate (
			objtype TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (objtype, key)
		)`); err != nil {
		store.Close()
		return nil, err
	}
	return &SinkStateDB{store: store}, nil
}

// Close releases the underlying database connection.
func (s *SinkStateDB) Close() error {
	return s.store.Close()
}

// Get reads the value stored under (objtype, key), returning "" if absent.
func (s *SinkStateDB) Get(objtype, key string) (string, error) {
	return s.store.QuerySingleString(
		`SELECT value FROM sinkstate WHERE objtype = ? AND key = ?`, objtype, key)
}

// Set stores value under (objtype, key).
func (s *SinkStateDB) Set(objtype, key, value string) error {
	return s.store.Execute(
		`INSERT INTO sinkstate (objtype, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(objtype, key) DO UPDATE SET value = excluded.value`,
		objtype, key, value)
}

// Equal reads the value under (objtype, key) and reports whether it
// equals want.
func (s *SinkStateDB) Equal(objtype, key, want string) (bool, error) {
	got, err := s.Get(objtype, key)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
