package core

import (
	"github.com/jabolina/go-syncengine/internal/archive"
	"github.com/jabolina/go-syncengine/internal/format"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// MappingEntryEngine is the ephemeral, one-sync-run wrapper around a
// durable MappingEntry (spec.md §3). Dirty means the assigned Change must
// be committed to this entry's peer during the write phase.
type MappingEntryEngine struct {
	Entry     *types.MappingEntry
	MappingID int64

	Dirty  bool
	Change *types.Change

	ArchiveRowID int64

	sink *SinkEngine
}

func newMappingEntryEngine(entry *types.MappingEntry, sink *SinkEngine) *MappingEntryEngine {
	return &MappingEntryEngine{Entry: entry, MappingID: entry.MappingID, sink: sink}
}

func (e *MappingEntryEngine) MemberID() string { return e.Entry.MemberID }
func (e *MappingEntryEngine) UID() string      { return e.Entry.UID }

// ApplyCommitResult folds a PeerProxy.CommitChange outcome back into the
// entry: a non-empty newUID means the peer reassigned a uid (typically a
// first ADD), which renames the archive row via UpdateChangeUID (spec.md's
// supplemented update_change_uid path, original_source/opensync_archive.c).
func (e *MappingEntryEngine) ApplyCommitResult(newUID string, arch *archive.Archive, objEngine string) {
	oldUID := e.Entry.UID
	if newUID != "" && newUID != oldUID {
		if oldUID != "" {
			_ = arch.UpdateChangeUID(oldUID, newUID, e.Entry.MemberID, objEngine)
		}
		e.Entry.UID = newUID
	}
	e.Dirty = false
	rowID, err := arch.SaveChange(e.ArchiveRowID, e.sink.ObjType, e.Entry.UID, e.Entry.MemberID, e.MappingID, objEngine)
	if err == nil {
		e.ArchiveRowID = rowID
	}
}

// MappingEngine is the ephemeral wrapper around a Mapping for one sync run
// (spec.md §3/§4.8): the entries participating, whether it is currently
// conflicted, and whether any entry changed since the mapping was loaded.
type MappingEngine struct {
	Mapping  *types.Mapping
	Entries  []*MappingEntryEngine
	Conflict bool
	Synced   bool
}

func newMappingEngine(m *types.Mapping) *MappingEngine {
	return &MappingEngine{Mapping: m, Synced: true}
}

// EntryFor returns this mapping's entry for sink's (member,objtype), or
// nil if none exists yet.
func (m *MappingEngine) EntryFor(sink *SinkEngine) *MappingEntryEngine {
	for _, e := range m.Entries {
		if e.sink == sink {
			return e
		}
	}
	return nil
}

// attach appends entry, flipping Synced false. It does not touch the
// entry's Dirty flag.
func (m *MappingEngine) attach(entry *MappingEntryEngine) {
	m.Entries = append(m.Entries, entry)
	m.Synced = false
}

// detach removes entry from this mapping, used when a SIMILAR-attached
// entry is displaced by a later SAME match (spec.md §4.8).
func (m *MappingEngine) detach(entry *MappingEntryEngine) {
	for i, e := range m.Entries {
		if e == entry {
			m.Entries = append(m.Entries[:i], m.Entries[i+1:]...)
			return
		}
	}
}

// Choose resolves the conflict by picking winner: every other entry is
// marked dirty and receives a copy of winner's Change (spec.md §4.8
// "choose"). Idempotent per invariant I4/P5: re-running with the same
// winner against already-equal entries is a no-op because Multiply only
// ever needs Dirty+Change to be consistent, and copying an identical
// Change onto an already-dirty entry changes nothing observable.
func (m *MappingEngine) Choose(winner *MappingEntryEngine) {
	for _, e := range m.Entries {
		if e == winner {
			continue
		}
		e.Dirty = true
		e.Change = winner.Change.Copy()
		e.Change.UID = e.Entry.UID
	}
	m.Conflict = false
}

// Duplicate clears the conflict and returns, per entry that carries a
// formatted payload, a copy of its Change whose payload went through the
// format's Duplicate operation (passed the entry's current uid). It does
// not create new Mappings, assign new uids or modify any entry: every
// entry keeps its own Change, so a following Multiply treats the mapping
// like any unconflicted one.
func (m *MappingEngine) Duplicate() map[*MappingEntryEngine]*types.Change {
	out := make(map[*MappingEntryEngine]*types.Change, len(m.Entries))
	for _, e := range m.Entries {
		if e.Change == nil || e.Change.Data == nil || e.Change.Data.Format == nil {
			continue
		}
		dup := e.Change.Copy()
		dup.Data.Bytes = e.Change.Data.Format.Duplicate(e.Change.Data.Bytes, e.Change.UID)
		out[e] = dup
	}
	m.Conflict = false
	return out
}

// Ignore resolves the conflict by logging every side's reported change to
// the archive changelog and resetting every entry to a no-op Unmodified
// change, so this run's Multiply/Write see nothing to propagate and the
// next run's reinjectIgnoredConflicts re-raises the same conflict from
// both sides instead of silently picking one (spec.md §4.8 "ignore").
func (m *MappingEngine) Ignore(arch *archive.Archive, objEngine, objtype string) {
	for _, e := range m.Entries {
		if e.Change != nil && e.Change.ChangeType != types.ChangeUnmodified {
			ct := archive.ChangeType(e.Change.ChangeType)
			_ = arch.SaveIgnoredConflict(objtype, e.Entry.MemberID, e.MappingID, ct)
		}
		e.Change = &types.Change{UID: e.Entry.UID, ChangeType: types.ChangeUnmodified}
		e.Dirty = false
	}
	m.Conflict = false
}

// UseLatest resolves the conflict by comparing each entry's format
// revision and delegating to Choose with the maximum (spec.md §4.8
// "use-latest").
func (m *MappingEngine) UseLatest() *MappingEntryEngine {
	var winner *MappingEntryEngine
	var best uint64
	for _, e := range m.Entries {
		if e.Change == nil || e.Change.Data == nil || e.Change.Data.Format == nil {
			continue
		}
		rev := e.Change.Data.Format.Revision(e.Change.Data.Bytes)
		if winner == nil || rev > best {
			winner = e
			best = rev
		}
	}
	if winner != nil {
		m.Choose(winner)
	}
	return winner
}

// Multiply computes per-entry dirty flags after all conflicts are solved
// (spec.md §4.8): the winning entry's change type propagates as ADDED
// (no prior uid) or MODIFIED (had one) to every other entry, DELETED
// propagates as DELETED, and UNMODIFIED never makes anything dirty.
func (m *MappingEngine) Multiply() {
	var winner *MappingEntryEngine
	for _, e := range m.Entries {
		// A dirty entry holds a copy Choose handed it, not its own report.
		if e.Change != nil && !e.Dirty && e.Change.ChangeType != types.ChangeUnmodified {
			winner = e
			break
		}
	}
	if winner == nil {
		return
	}

	for _, e := range m.Entries {
		if e == winner || e.Dirty {
			continue
		}
		switch winner.Change.ChangeType {
		case types.ChangeDeleted:
			e.Dirty = true
			e.Change = &types.Change{UID: e.Entry.UID, ChangeType: types.ChangeDeleted}
		case types.ChangeAdded, types.ChangeModified:
			e.Dirty = true
			ct := types.ChangeModified
			if e.Entry.UID == "" {
				ct = types.ChangeAdded
			}
			cp := winner.Change.Copy()
			cp.UID = e.Entry.UID
			cp.ChangeType = ct
			e.Change = cp
		}
	}
}

// DetectConflict compares candidate against one other entry's change,
// against, using candidate's object format's compare operation, demerging
// both sides through the other peer's capability
// set first (spec.md §4.8) — candidate is reduced to what against's peer
// could produce, and vice versa, so a lossy peer's report isn't flagged
// MISMATCH purely for fields its own capabilities can't carry.
func DetectConflict(candidate *types.Change, against *types.Change, formats *format.Registry, objtype string, candidateCaps []string, againstCaps []string) format.CompareResult {
	if candidate == nil || against == nil || candidate.Data == nil || against.Data == nil {
		return format.Mismatch
	}
	a := candidate.Data.Bytes
	b := against.Data.Bytes
	fmtA := candidate.Data.Format
	fmtB := against.Data.Format
	if merger, ok := fmtB.(format.Mergeable); ok {
		reduced, _ := merger.Demerge(b, candidateCaps)
		b = reduced
	}
	if fmtA == nil {
		return format.Mismatch
	}
	if merger, ok := fmtA.(format.Mergeable); ok {
		reduced, _ := merger.Demerge(a, againstCaps)
		a = reduced
	}
	return fmtA.Compare(a, b)
}
