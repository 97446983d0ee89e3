package core

import (
	"github.com/jabolina/go-syncengine/internal/archive"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// Resolver is handed to Callbacks.Conflict alongside the conflicting
// MappingEngine. It is a thin, archive-aware wrapper over
// MappingEngine's own Choose/Duplicate/Ignore/UseLatest so a callback
// never needs direct access to the owning ObjEngine's Archive handle.
type Resolver struct {
	arch      *archive.Archive
	objEngine string
	objtype   string
}

func newResolver(arch *archive.Archive, objEngine, objtype string) *Resolver {
	return &Resolver{arch: arch, objEngine: objEngine, objtype: objtype}
}

// Choose resolves mapping by copying winner's Change onto every other
// entry (spec.md §4.8 "choose").
func (r *Resolver) Choose(mapping *MappingEngine, winner *MappingEntryEngine) {
	mapping.Choose(winner)
}

// UseLatest resolves mapping by picking the entry with the highest format
// revision (spec.md §4.8 "use-latest").
func (r *Resolver) UseLatest(mapping *MappingEngine) *MappingEntryEngine {
	return mapping.UseLatest()
}

// Duplicate clears mapping's conflict and returns MappingEngine.Duplicate's
// per-entry duplicated Changes. No new Mappings are created and the
// mapping's entries are left as they were.
func (r *Resolver) Duplicate(mapping *MappingEngine) map[*MappingEntryEngine]*types.Change {
	return mapping.Duplicate()
}

// Ignore resolves mapping by logging both sides to the archive changelog
// and deferring resolution to the next run (spec.md §4.8 "ignore").
func (r *Resolver) Ignore(mapping *MappingEngine) {
	mapping.Ignore(r.arch, r.objEngine, r.objtype)
}
