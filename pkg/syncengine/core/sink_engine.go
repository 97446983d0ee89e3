package core

import (
	"github.com/jabolina/go-syncengine/internal/archive"
	"github.com/jabolina/go-syncengine/internal/errs"
	"github.com/jabolina/go-syncengine/internal/format"
	"github.com/jabolina/go-syncengine/internal/logging"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// SinkEngine holds per-(peer, object-type) ephemeral state (spec.md §4.7,
// runtime shape from §3). A dummy SinkEngine (Proxy == nil) has no
// matching objtype sink on its peer: it is kept for mapping-entry
// bookkeeping across object types but never issues a PeerProxy call.
type SinkEngine struct {
	ObjType  string
	Ordinal  int
	MemberID string

	Proxy PeerProxy
	Dummy bool

	// Caps is this peer's object-format capability list (spec.md §4.6's
	// discover call, or MemberConfiguration.Capabilities before any
	// discovery happens). Demerge uses it to restrict payload sent to
	// this peer; MappingEngine's conflict detection uses the other
	// sink's Caps when comparing.
	Caps []string

	Entries  []*MappingEntryEngine
	Unmapped []*types.Change

	objEngine *ObjEngine
	connected bool
	log       logging.Logger
}

// NewSinkEngine builds the runtime state for one peer's participation in
// objtype. proxy is nil for a dummy sink.
func NewSinkEngine(objtype string, ordinal int, memberID string, proxy PeerProxy, caps []string, obj *ObjEngine, log logging.Logger) *SinkEngine {
	return &SinkEngine{
		ObjType:   objtype,
		Ordinal:   ordinal,
		MemberID:  memberID,
		Proxy:     proxy,
		Dummy:     proxy == nil,
		Caps:      caps,
		objEngine: obj,
		log:       log,
	}
}

// IsConnected reports whether this sink's last PeerProxy.Connect succeeded
// and it has not been disconnected since. Always false for a dummy sink.
func (s *SinkEngine) IsConnected() bool {
	return s.connected
}

// Connect issues PeerProxy.Connect, or completes immediately for a dummy
// sink.
func (s *SinkEngine) Connect(slowsync bool, done func(slowsyncGranted bool, err *errs.Error)) {
	if s.Dummy {
		done(false, nil)
		return
	}
	s.Proxy.Connect(s.ObjType, slowsync, func(granted bool, err *errs.Error) {
		s.connected = err == nil
		done(granted, err)
	})
}

func (s *SinkEngine) ConnectDone(done func(err *errs.Error)) {
	if s.Dummy {
		done(nil)
		return
	}
	s.Proxy.ConnectDone(s.ObjType, done)
}

// GetChanges streams this sink's changes; every valid Change is appended
// to Unmapped for ObjEngine.mapChanges to place later. A Change failing
// Validate (spec.md §3's archive-boundary invariant) is rejected rather than placed, and fails this sink's phase
// the same way a PeerProxy-reported error would.
func (s *SinkEngine) GetChanges(slowsync bool, done func(err *errs.Error)) {
	if s.Dummy {
		done(nil)
		return
	}
	var ingestErr *errs.Error
	s.Proxy.GetChanges(s.ObjType, slowsync, func(c *types.Change) {
		if verr := c.Validate(); verr != nil {
			s.log.Warnf("sink %s/%d rejected malformed change from %s: %v", s.ObjType, s.Ordinal, s.MemberID, verr)
			errs.SetIfUnset(&ingestErr, errs.Stack(errs.Generic, "malformed change from peer "+s.MemberID, verr))
			return
		}
		s.Unmapped = append(s.Unmapped, c)
	}, func(err *errs.Error) {
		errs.SetIfUnset(&ingestErr, err)
		done(ingestErr)
	})
}

// Demerge stashes the full payload of every non-deleted, dirty entry to
// the archive under its mapping id, then replaces the in-memory payload
// with the capability-restricted demerged form (spec.md §4.7).
func (s *SinkEngine) Demerge(arch *archive.Archive, formats *format.Registry, caps []string) {
	for _, e := range s.Entries {
		if !e.Dirty || e.Change == nil || e.Change.ChangeType == types.ChangeDeleted || e.Change.Data == nil {
			continue
		}
		merger, ok := e.Change.Data.Format.(format.Mergeable)
		if !ok {
			continue
		}
		full := merger.Copy(e.Change.Data.Bytes)
		if err := arch.SaveData(s.ObjType, e.MappingID, full); err != nil {
			s.log.Warnf("sink %s/%d failed stashing full payload for mapping %d: %v", s.ObjType, s.Ordinal, e.MappingID, err)
			continue
		}
		reduced, _ := merger.Demerge(e.Change.Data.Bytes, caps)
		e.Change.Data.Bytes = reduced
	}
}

// ConvertToDest converts the payload of each dirty entry into one of the
// peer's accepted formats for ObjType, using the registry to resolve the
// conversion (spec.md §4.7: "using cached converter paths").
func (s *SinkEngine) ConvertToDest(formats *format.Registry) {
	accepted := formats.Accepted(s.ObjType)
	if len(accepted) == 0 {
		return
	}
	for _, e := range s.Entries {
		if !e.Dirty || e.Change == nil || e.Change.Data == nil || e.Change.Data.Format == nil {
			continue
		}
		name := e.Change.Data.Format.Name()
		wants := false
		for _, a := range accepted {
			if a == name {
				wants = true
				break
			}
		}
		if wants {
			continue
		}
		target, err := formats.Lookup(s.ObjType, accepted[0])
		if err != nil {
			s.log.Warnf("sink %s/%d has no convertible format %s: %v", s.ObjType, s.Ordinal, accepted[0], err)
			continue
		}
		marshaled, err := e.Change.Data.Format.Marshal(e.Change.Data.Bytes)
		if err != nil {
			s.log.Warnf("sink %s/%d failed marshaling for conversion: %v", s.ObjType, s.Ordinal, err)
			continue
		}
		demarshaled, err := target.Demarshal(marshaled)
		if err != nil {
			s.log.Warnf("sink %s/%d failed demarshaling into %s: %v", s.ObjType, s.Ordinal, target.Name(), err)
			continue
		}
		e.Change.Data.Bytes = demarshaled
		e.Change.Data.Format = target
	}
}

// Write commits every dirty entry through PeerProxy.CommitChange, updates
// the archive row of every unmodified entry, and finally raises
// CommittedAll. Per the resolved Open Question ("committed_all on zero
// writable sinks"), a dummy sink acks immediately without any PeerProxy
// call; a real sink with no dirty entries skips CommitChange but still
// calls PeerProxy.CommittedAll.
func (s *SinkEngine) Write(arch *archive.Archive, done func(err *errs.Error)) {
	if s.Dummy {
		done(nil)
		return
	}

	dirty := make([]*MappingEntryEngine, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Dirty {
			dirty = append(dirty, e)
			continue
		}
		if e.Change != nil {
			rowID, err := arch.SaveChange(e.ArchiveRowID, s.ObjType, e.UID(), e.MemberID(), e.MappingID, s.ObjType)
			if err != nil {
				done(errs.Stack(errs.IoError, "failed updating unmodified change row", err))
				return
			}
			e.ArchiveRowID = rowID
		}
	}

	if len(dirty) == 0 {
		s.committedAll(done)
		return
	}

	remaining := len(dirty)
	var firstErr *errs.Error
	for _, e := range dirty {
		entry := e
		s.Proxy.CommitChange(entry.Change, func(newUID string, err *errs.Error) {
			if err != nil {
				errs.SetIfUnset(&firstErr, err)
			} else {
				entry.ApplyCommitResult(newUID, arch, s.ObjType)
			}
			remaining--
			if remaining == 0 {
				if firstErr != nil {
					done(firstErr)
					return
				}
				s.committedAll(done)
			}
		})
	}
}

func (s *SinkEngine) committedAll(done func(err *errs.Error)) {
	s.Proxy.CommittedAll(s.ObjType, done)
}

func (s *SinkEngine) SyncDone(done func(err *errs.Error)) {
	if s.Dummy {
		done(nil)
		return
	}
	s.Proxy.SyncDone(s.ObjType, done)
}

// Disconnect never itself feeds the error arm (spec.md §4.9): the
// callback's error, if any, is only logged.
func (s *SinkEngine) Disconnect(done func()) {
	s.connected = false
	if s.Dummy {
		done()
		return
	}
	s.Proxy.Disconnect(s.ObjType, func(err *errs.Error) {
		if err != nil {
			s.log.Warnf("sink %s/%d disconnect reported error (ignored): %v", s.ObjType, s.Ordinal, err)
		}
		done()
	})
}
