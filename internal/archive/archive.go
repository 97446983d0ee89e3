// Package archive is the durable per-group store (spec.md §4.3): mapping
// rows, per-mapping payload snapshots, and the ignored-conflict changelog.
package archive

import (
	"strconv"

	"github.com/jabolina/go-syncengine/internal/db"
	"github.com/jabolina/go-syncengine/internal/errs"
)

// ChangeType mirrors the peer-facing change classification stored
// alongside ignored conflicts.
type ChangeType int

const (
	Unknown ChangeType = iota
	Added
	Modified
	Deleted
	Unmodified
)

// ChangeRow is one row of the changes table: (objtype, id, uid, memberid,
// mappingid, objengine).
type ChangeRow struct {
	ID        int64
	UID       string
	MemberID  string
	MappingID int64
	ObjEngine string
}

// Archive persists mappings, payloads and the ignored-conflict log for one
// group. It outlives any single Engine run; opened once per group session.
type Archive struct {
	store db.Database
}

// Open opens (creating schema if absent) the archive file at path.
func Open(path string) (*Archive, error) {
	store, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	a := &Archive{store: store}
	if err := a.ensureSchema(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			objtype TEXT NOT NULL,
			uid TEXT NOT NULL,
			memberid TEXT NOT NULL,
			mappingid INTEGER NOT NULL,
			objengine TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_objtype ON changes(objtype)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_mapping ON changes(objtype, mappingid)`,
		`CREATE TABLE IF NOT EXISTS archive (
			objtype TEXT NOT NULL,
			mappingid INTEGER NOT NULL,
			data BLOB,
			PRIMARY KEY (objtype, mappingid)
		)`,
		`CREATE TABLE IF NOT EXISTS changelog (
			objtype TEXT NOT NULL,
			memberid TEXT NOT NULL,
			mappingid INTEGER NOT NULL,
			changetype INTEGER NOT NULL,
			PRIMARY KEY (objtype, memberid, mappingid)
		)`,
	}
	for _, stmt := range stmts {
		if err := a.store.Execute(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (a *Archive) Close() error {
	return a.store.Close()
}

// SaveChange inserts (id == 0) or updates a changes row, returning the
// assigned row id. On update, the id never changes.
func (a *Archive) SaveChange(id int64, objtype, uid, memberID string, mappingID int64, objEngine string) (int64, error) {
	if id == 0 {
		if err := a.store.Execute(
			`INSERT INTO changes (objtype, uid, memberid, mappingid, objengine) VALUES (?, ?, ?, ?, ?)`,
			objtype, uid, memberID, mappingID, objEngine,
		); err != nil {
			return 0, err
		}
		return a.store.LastRowID()
	}

	if err := a.store.Execute(
		`UPDATE changes SET uid = ?, memberid = ?, mappingid = ?, objengine = ? WHERE objtype = ? AND id = ?`,
		uid, memberID, mappingID, objEngine, objtype, id,
	); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteChange removes a changes row by (objtype, id). Idempotent.
func (a *Archive) DeleteChange(objtype string, id int64) error {
	return a.store.Execute(`DELETE FROM changes WHERE objtype = ? AND id = ?`, objtype, id)
}

// LoadChanges returns every changes row for objtype, sorted by mapping_id
// ascending, as four parallel sequences (id, uid, mapping_id, member_id).
func (a *Archive) LoadChanges(objtype string) (ids []int64, uids []string, mappingIDs []int64, memberIDs []string, err error) {
	rows, err := a.store.QueryTable(
		`SELECT id, uid, mappingid, memberid FROM changes WHERE objtype = ? ORDER BY mappingid ASC`, objtype)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	for _, row := range rows {
		id, perr := strconv.ParseInt(row[0], 10, 64)
		if perr != nil {
			return nil, nil, nil, nil, errs.Stack(errs.Generic, "corrupt changes.id", perr)
		}
		mappingID, merr := strconv.ParseInt(row[2], 10, 64)
		if merr != nil {
			return nil, nil, nil, nil, errs.Stack(errs.Generic, "corrupt changes.mappingid", merr)
		}
		ids = append(ids, id)
		uids = append(uids, row[1])
		mappingIDs = append(mappingIDs, mappingID)
		memberIDs = append(memberIDs, row[3])
	}
	return ids, uids, mappingIDs, memberIDs, nil
}

// FlushChanges deletes every changes row for objtype. Used on slow-sync.
func (a *Archive) FlushChanges(objtype string) error {
	return a.store.Execute(`DELETE FROM changes WHERE objtype = ?`, objtype)
}

// SaveData stores (or replaces) the full payload snapshot for a mapping.
func (a *Archive) SaveData(objtype string, mappingID int64, data []byte) error {
	return a.store.Execute(
		`INSERT INTO archive (objtype, mappingid, data) VALUES (?, ?, ?)
		 ON CONFLICT(objtype, mappingid) DO UPDATE SET data = excluded.data`,
		objtype, mappingID, db.BindBlob(data))
}

// LoadData reads the payload snapshot for a mapping. Returns found=false
// if no row exists.
func (a *Archive) LoadData(objtype string, mappingID int64) (data []byte, found bool, err error) {
	rows, err := a.store.QueryTable(
		`SELECT data FROM archive WHERE objtype = ? AND mappingid = ?`, objtype, mappingID)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return []byte(rows[0][0]), true, nil
}

// SaveIgnoredConflict logs a mapping that a peer's entry was told to
// ignore during conflict resolution, so the next run re-injects it.
func (a *Archive) SaveIgnoredConflict(objtype, memberID string, mappingID int64, changeType ChangeType) error {
	return a.store.Execute(
		`INSERT INTO changelog (objtype, memberid, mappingid, changetype) VALUES (?, ?, ?, ?)
		 ON CONFLICT(objtype, memberid, mappingid) DO UPDATE SET changetype = excluded.changetype`,
		objtype, memberID, mappingID, int(changeType))
}

// IgnoredConflict is one row of the ignored-conflict changelog.
type IgnoredConflict struct {
	MemberID   string
	MappingID  int64
	ChangeType ChangeType
}

// LoadIgnoredConflicts returns every ignored-conflict row for objtype.
func (a *Archive) LoadIgnoredConflicts(objtype string) ([]IgnoredConflict, error) {
	rows, err := a.store.QueryTable(
		`SELECT memberid, mappingid, changetype FROM changelog WHERE objtype = ?`, objtype)
	if err != nil {
		return nil, err
	}
	var out []IgnoredConflict
	for _, row := range rows {
		mappingID, perr := strconv.ParseInt(row[1], 10, 64)
		if perr != nil {
			return nil, errs.Stack(errs.Generic, "corrupt changelog.mappingid", perr)
		}
		changeType, cerr := strconv.Atoi(row[2])
		if cerr != nil {
			return nil, errs.Stack(errs.Generic, "corrupt changelog.changetype", cerr)
		}
		out = append(out, IgnoredConflict{MemberID: row[0], MappingID: mappingID, ChangeType: ChangeType(changeType)})
	}
	return out, nil
}

// FlushIgnoredConflicts deletes every changelog row for objtype.
func (a *Archive) FlushIgnoredConflicts(objtype string) error {
	return a.store.Execute(`DELETE FROM changelog WHERE objtype = ?`, objtype)
}

// UpdateChangeUID atomically renames a peer's uid, used when a peer
// adapter reassigns a uid after commit_change returns a new_uid.
func (a *Archive) UpdateChangeUID(oldUID, newUID, memberID, objEngine string) error {
	return a.store.Execute(
		`UPDATE changes SET uid = ? WHERE uid = ? AND memberid = ? AND objengine = ?`,
		newUID, oldUID, memberID, objEngine)
}

// GetMixedObjEngines returns the set of other objengine names that share
// at least one mapping id with objEngine, used to coordinate cross-type
// object re-homing.
func (a *Archive) GetMixedObjEngines(objEngine string) ([]string, error) {
	rows, err := a.store.QueryTable(
		`SELECT DISTINCT c2.objengine
		 FROM changes c1
		 JOIN changes c2 ON c1.mappingid = c2.mappingid AND c1.objtype = c2.objtype
		 WHERE c1.objengine = ? AND c2.objengine != ?`,
		objEngine, objEngine)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row[0])
	}
	return out, nil
}

// Stats returns row counts per table. Nothing in internal/telemetry
// reads it.
type Stats struct {
	Changes   int64
	Archived  int64
	Changelog int64
}

func (a *Archive) Stats() (Stats, error) {
	var s Stats
	for _, pair := range []struct {
		table string
		dst   *int64
	}{
		{"changes", &s.Changes},
		{"archive", &s.Archived},
		{"changelog", &s.Changelog},
	} {
		value, err := a.store.QuerySingleString("SELECT COUNT(*) FROM " + pair.table)
		if err != nil {
			return Stats{}, err
		}
		n, perr := strconv.ParseInt(value, 10, 64)
		if perr != nil {
			return Stats{}, errs.Stack(errs.Generic, "corrupt count", perr)
		}
		*pair.dst = n
	}
	return s, nil
}

// Vacuum reclaims free space, periodic sqlite housekeeping.
func (a *Archive) Vacuum() error {
	return a.store.Execute("VACUUM")
}
