package core

import (
	"github.com/jabolina/go-syncengine/internal/archive"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// MappingTable is the per-object-type collection of Mappings, loaded from
// and written back to the Archive; it only exists for the duration of one
// sync run (spec.md §3).
type MappingTable struct {
	ObjType string
	Members []string

	mappings map[int64]*types.Mapping
	nextID   int64
}

// LoadMappingTable reads every changes row for objtype and groups it into
// Mappings, filling a fresh empty MappingEntry for any member missing a
// row so invariant I1 ("every Mapping has exactly N entries") holds even
// right after a peer is added to the group.
func LoadMappingTable(arch *archive.Archive, objtype string, members []string) (*MappingTable, error) {
	t := &MappingTable{ObjType: objtype, Members: members, mappings: map[int64]*types.Mapping{}}

	ids, uids, mappingIDs, memberIDs, err := arch.LoadChanges(objtype)
	if err != nil {
		return nil, err
	}
	for i := range ids {
		m := t.mappings[mappingIDs[i]]
		if m == nil {
			m = &types.Mapping{ID: mappingIDs[i]}
			t.mappings[mappingIDs[i]] = m
		}
		m.Entries = append(m.Entries, &types.MappingEntry{
			ID: ids[i], MappingID: mappingIDs[i], MemberID: memberIDs[i], UID: uids[i],
		})
		if mappingIDs[i] >= t.nextID {
			t.nextID = mappingIDs[i] + 1
		}
	}

	for _, m := range t.mappings {
		t.fillMissingEntries(m)
	}
	return t, nil
}

func (t *MappingTable) fillMissingEntries(m *types.Mapping) {
	for _, member := range t.Members {
		if !m.HasEntryFor(member) {
			m.Entries = append(m.Entries, &types.MappingEntry{MappingID: m.ID, MemberID: member})
		}
	}
}

// Mappings returns every loaded Mapping, in no particular order.
func (t *MappingTable) Mappings() []*types.Mapping {
	out := make([]*types.Mapping, 0, len(t.mappings))
	for _, m := range t.mappings {
		out = append(out, m)
	}
	return out
}

// NewMapping allocates a fresh Mapping with mapping_id = max+1 for this
// object type and an empty entry for every group member.
func (t *MappingTable) NewMapping() *types.Mapping {
	m := &types.Mapping{ID: t.nextID}
	t.nextID++
	for _, member := range t.Members {
		m.Entries = append(m.Entries, &types.MappingEntry{MappingID: m.ID, MemberID: member})
	}
	t.mappings[m.ID] = m
	return m
}

// Persist writes every entry of mapping into the archive's changes table.
func (t *MappingTable) Persist(arch *archive.Archive, entries []*MappingEntryEngine, objEngine string) error {
	for _, e := range entries {
		rowID, err := arch.SaveChange(e.ArchiveRowID, t.ObjType, e.Entry.UID, e.Entry.MemberID, e.MappingID, objEngine)
		if err != nil {
			return err
		}
		e.ArchiveRowID = rowID
	}
	return nil
}
