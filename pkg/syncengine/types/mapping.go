package types

// MappingEntry is a durable per-peer slot within a Mapping: it links the
// mapping's identity to one peer's local uid. Fields: id (durable, unique
// within its Mapping row), mapping_id, member_id, uid (may be empty until
// first association).
type MappingEntry struct {
	ID        int64
	MappingID int64
	MemberID  string
	UID       string
}

// Mapping is the cross-peer identity: one MappingEntry per peer in the
// group. Identity is the mapping id itself.
type Mapping struct {
	ID      int64
	Entries []*MappingEntry
}

// EntryFor returns the entry belonging to memberID, or nil.
func (m *Mapping) EntryFor(memberID string) *MappingEntry {
	for _, e := range m.Entries {
		if e.MemberID == memberID {
			return e
		}
	}
	return nil
}

// HasEntryFor reports whether m already carries an entry for memberID.
func (m *Mapping) HasEntryFor(memberID string) bool {
	return m.EntryFor(memberID) != nil
}
