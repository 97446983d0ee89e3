package core

import (
	"github.com/jabolina/go-syncengine/internal/archive"
	"github.com/jabolina/go-syncengine/internal/errs"
	"github.com/jabolina/go-syncengine/internal/format"
	"github.com/jabolina/go-syncengine/internal/logging"
	"github.com/jabolina/go-syncengine/internal/telemetry"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// ObjEngine drives one object type's phase state machine (spec.md §4.9):
// Idle -> Connecting -> Reading -> Mapping -> Resolving -> Multiplying ->
// PreparingWrite -> Writing -> SyncDone -> Disconnecting -> Idle.
type ObjEngine struct {
	ObjType  string
	Sinks    []*SinkEngine
	Table    *MappingTable
	Mappings []*MappingEngine

	Phase    types.Phase
	SlowSync bool

	connects     types.Bitmask
	connectDones types.Bitmask
	getChanges   types.Bitmask
	written      types.Bitmask
	syncDones    types.Bitmask
	disconnects  types.Bitmask
	errors       types.Bitmask
	full         types.Bitmask

	err  *errs.Error
	arch *archive.Archive
	fmts *format.Registry
	cb   *Callbacks
	log  logging.Logger
	tel  *telemetry.Registry

	onPhaseDone func()

	// reportPhase notifies the owning Engine that this ObjEngine reached
	// a phase's end, carrying this run's per-ObjEngine error for that
	// phase (nil on success). The Engine aggregates one report per
	// ObjEngine per phase across the whole group and only then emits the
	// group-level engine_status event (spec.md §4.10: "once all
	// ObjEngines ... have set theirs, the Engine emits the group-level
	// event") — ObjEngine itself never calls cb.EngineStatus directly.
	reportPhase func(event Event, err *errs.Error)
}

// report is reportPhase's nil-safe entry point, mirroring Callbacks'
// nil-safe dispatch style.
func (o *ObjEngine) report(event Event, err *errs.Error) {
	if o.reportPhase != nil {
		o.reportPhase(event, err)
	}
}

// NewObjEngine builds the runtime state for one object type, with one
// SinkEngine per group member (real or dummy, per Member.ObjTypes).
func NewObjEngine(objtype string, members []types.MemberConfiguration, proxies map[string]PeerProxy, arch *archive.Archive, fmts *format.Registry, tel *telemetry.Registry, cb *Callbacks, log logging.Logger) (*ObjEngine, error) {
	o := &ObjEngine{
		ObjType: objtype,
		arch:    arch,
		fmts:    fmts,
		cb:      cb,
		log:     log,
		tel:     tel,
		full:    types.Full(len(members)),
	}

	memberIDs := make([]string, len(members))
	for i, member := range members {
		memberIDs[i] = member.MemberID
		supports := false
		for _, t := range member.ObjTypes {
			if t == objtype {
				supports = true
				break
			}
		}
		var proxy PeerProxy
		if supports {
			proxy = proxies[member.MemberID]
		}
		o.Sinks = append(o.Sinks, NewSinkEngine(objtype, i, member.MemberID, proxy, member.Capabilities, o, log))
	}

	table, err := LoadMappingTable(arch, objtype, memberIDs)
	if err != nil {
		return nil, err
	}
	o.Table = table
	o.rewrapMappings()
	return o, nil
}

func (o *ObjEngine) rewrapMappings() {
	o.Mappings = nil
	for _, m := range o.Table.Mappings() {
		me := newMappingEngine(m)
		for _, entry := range m.Entries {
			sink := o.sinkFor(entry.MemberID)
			ee := newMappingEntryEngine(entry, sink)
			me.Entries = append(me.Entries, ee)
			if sink != nil {
				sink.Entries = append(sink.Entries, ee)
			}
		}
		o.Mappings = append(o.Mappings, me)
	}
}

// resetEntryState clears every mapping entry's ephemeral per-run fields
// (Change/Dirty/Conflict) left over from the previous run, so
// findEmptyEntry's "already filled this run" check in placeChange starts
// from a clean slate each time Connect begins a new run.
func (o *ObjEngine) resetEntryState() {
	for _, m := range o.Mappings {
		m.Conflict = false
		for _, e := range m.Entries {
			e.Change = nil
			e.Dirty = false
		}
	}
}

func (o *ObjEngine) sinkFor(memberID string) *SinkEngine {
	for _, s := range o.Sinks {
		if s.MemberID == memberID {
			return s
		}
	}
	return nil
}

// Error returns this ObjEngine's sticky error for the current run, if any.
func (o *ObjEngine) Error() *errs.Error { return o.err }

func (o *ObjEngine) setErr(next *errs.Error) {
	errs.SetIfUnset(&o.err, next)
}

// runPerSink issues issue against every sink, tallying acks/errors into
// mask/errMask by sink ordinal; once every sink has acked or errored,
// onDone runs exactly once (invariant I3).
func (o *ObjEngine) runPerSink(mask *types.Bitmask, issue func(s *SinkEngine, done func(err *errs.Error)), onDone func()) {
	remaining := len(o.Sinks)
	if remaining == 0 {
		onDone()
		return
	}
	phase := o.Phase
	for _, s := range o.Sinks {
		sink := s
		issue(sink, func(err *errs.Error) {
			if o.Phase != phase {
				// Stale reply: the ObjEngine moved on (e.g. Abort).
				return
			}
			if err != nil {
				o.errors = o.errors.Set(sink.Ordinal)
				o.setErr(err)
				o.cb.memberStatus(sink.MemberID, o.ObjType, EventError, err)
				o.tel.ObserveSinkError(o.ObjType, sink.MemberID)
			} else {
				*mask = mask.Set(sink.Ordinal)
			}
			remaining--
			if remaining == 0 {
				onDone()
			}
		})
	}
}

// Connect starts the connecting phase. slowsync forces every sink to
// reset peer-side resume state (invariant I6, and the stale-lock
// prev_unclean path).
func (o *ObjEngine) Connect(slowsync bool) {
	o.Phase = types.Connecting
	o.SlowSync = o.SlowSync || slowsync
	if o.SlowSync {
		_ = o.arch.FlushChanges(o.ObjType)
		o.Table.mappings = map[int64]*types.Mapping{}
		for _, s := range o.Sinks {
			s.Entries = nil
		}
		o.rewrapMappings()
	}
	o.resetEntryState()

	o.runPerSink(&o.connects, func(s *SinkEngine, done func(*errs.Error)) {
		s.Connect(o.SlowSync, func(granted bool, err *errs.Error) {
			if granted {
				o.SlowSync = true
			}
			done(err)
		})
	}, func() {
		o.runPerSink(&o.connectDones, func(s *SinkEngine, done func(*errs.Error)) {
			s.ConnectDone(done)
		}, func() {
			o.report(EventConnected, o.err)
			o.advance(types.Reading)
		})
	})
}

func (o *ObjEngine) advance(next types.Phase) {
	o.Phase = next
	switch next {
	case types.Reading:
		o.read()
	case types.Mapping:
		o.mapChanges()
	case types.Resolving:
		o.resolve()
	case types.Multiplying:
		o.multiply()
	case types.PreparingWrite:
		o.advance(types.Writing)
	case types.Writing:
		o.write()
	case types.SyncDone:
		o.syncDone()
	case types.Disconnecting:
		o.disconnect()
	}
}

func (o *ObjEngine) read() {
	o.runPerSink(&o.getChanges, func(s *SinkEngine, done func(*errs.Error)) {
		s.GetChanges(o.SlowSync, done)
	}, func() {
		o.reinjectIgnoredConflicts(func() {
			o.report(EventRead, o.err)
			o.advance(types.Mapping)
		})
	})
}

// reinjectIgnoredConflicts re-reads the current state of every entry a
// prior run's "ignore" resolution logged to the archive changelog
// (spec.md §4.8's "ignore" keeps re-raising the same conflict until it is
// actually resolved), via PeerProxy.Read, and feeds each result back into
// mapChanges as if it were freshly reported. The changelog is flushed once
// every row has been reinjected.
func (o *ObjEngine) reinjectIgnoredConflicts(done func()) {
	rows, err := o.arch.LoadIgnoredConflicts(o.ObjType)
	if err != nil || len(rows) == 0 {
		done()
		return
	}
	remaining := len(rows)
	finish := func() {
		remaining--
		if remaining == 0 {
			_ = o.arch.FlushIgnoredConflicts(o.ObjType)
			done()
		}
	}
	for _, row := range rows {
		sink := o.sinkFor(row.MemberID)
		entry := o.entryFor(row.MappingID, row.MemberID)
		if sink == nil || sink.Dummy || entry == nil {
			finish()
			continue
		}
		stub := &types.Change{UID: entry.UID(), ChangeType: types.ChangeType(row.ChangeType)}
		sink.Proxy.Read(stub, func(result *types.Change, rerr *errs.Error) {
			if rerr == nil && result != nil {
				sink.Unmapped = append(sink.Unmapped, result)
			}
			finish()
		})
	}
}

func (o *ObjEngine) entryFor(mappingID int64, memberID string) *MappingEntryEngine {
	for _, m := range o.Mappings {
		if m.Mapping.ID != mappingID {
			continue
		}
		for _, e := range m.Entries {
			if e.Entry.MemberID == memberID {
				return e
			}
		}
	}
	return nil
}

// mapChanges places every sink's unmapped Changes into a Mapping, per
// spec.md §4.8's conflict-detection algorithm.
func (o *ObjEngine) mapChanges() {
	for _, sink := range o.Sinks {
		for _, change := range sink.Unmapped {
			o.placeChange(sink, change)
		}
		sink.Unmapped = nil
	}
	o.detectMappingConflicts()
	o.report(EventPreparedMap, nil)
	o.report(EventMapped, o.err)
	o.advance(types.Resolving)
}

// placeChange homes change into a MappingEntryEngine. A change reporting
// a uid already known to this sink always reattaches to that sink's own
// existing entry (an update to an already-tracked record); this never
// goes through conflict-candidate matching, since it isn't a new arrival
// that might collide with one. Only a uid-less (or never-before-seen)
// change goes through the same/similar/new-mapping matching below, which
// is how two peers' simultaneous brand-new ADDs of the same record are
// detected (spec.md §4.8). detectMappingConflicts, run once every sink's
// changes are placed, is what actually flags a mapping as conflicting
// when more than one of its entries changed this run.
func (o *ObjEngine) placeChange(sink *SinkEngine, change *types.Change) {
	if change.UID != "" {
		if entry := ownEntryByUID(sink, change.UID); entry != nil {
			entry.Change = change
			return
		}
	}

	var sameEntry, similarEntry *MappingEntryEngine
	var similarMapping *MappingEngine

	for _, m := range o.Mappings {
		entry := findEmptyEntry(m, sink)
		if entry == nil || entry.Change != nil {
			continue
		}
		var other *MappingEntryEngine
		for _, e := range m.Entries {
			if e.Change != nil {
				other = e
				break
			}
		}
		if other == nil {
			continue
		}
		result := DetectConflict(change, other.Change, o.fmts, o.ObjType, sink.Caps, other.sink.Caps)
		if result == format.Same {
			sameEntry = entry
			break
		}
		if result == format.Similar && similarEntry == nil {
			similarEntry = entry
			similarMapping = m
		}
	}

	switch {
	case sameEntry != nil:
		sameEntry.Change = change
		stampOwnUID(sameEntry, change)
	case similarEntry != nil:
		similarEntry.Change = change
		stampOwnUID(similarEntry, change)
		similarMapping.Conflict = true
	default:
		m := o.Table.NewMapping()
		me := newMappingEngine(m)
		for _, entry := range m.Entries {
			s := o.sinkFor(entry.MemberID)
			ee := newMappingEntryEngine(entry, s)
			if s == sink {
				ee.Change = change
				stampOwnUID(ee, change)
			}
			me.Entries = append(me.Entries, ee)
			if s != nil {
				s.Entries = append(s.Entries, ee)
			}
		}
		o.Mappings = append(o.Mappings, me)
	}
}

// stampOwnUID records change's uid directly onto the reporting sink's own
// entry. The reporting peer already knows this uid; only the OTHER
// members' entries need a PeerProxy.CommitChange round-trip (and
// therefore Dirty), never the one that just reported the change.
func stampOwnUID(entry *MappingEntryEngine, change *types.Change) {
	if change.UID != "" {
		entry.Entry.UID = change.UID
	}
}

func findEmptyEntry(m *MappingEngine, sink *SinkEngine) *MappingEntryEngine {
	for _, e := range m.Entries {
		if e.sink == sink {
			return e
		}
	}
	return nil
}

// ownEntryByUID finds sink's own entry already homed with uid, across
// every mapping this sink participates in.
func ownEntryByUID(sink *SinkEngine, uid string) *MappingEntryEngine {
	for _, e := range sink.Entries {
		if e.Entry.UID == uid {
			return e
		}
	}
	return nil
}

// detectMappingConflicts flags every mapping where more than one sink
// placed a real (non-Unmodified) change this run, unless every such
// change compares Same (spec.md §4.8: identical content reported by more
// than one peer is not a conflict). Matching-new-ADD conflicts are
// already flagged inline by placeChange's similarEntry path; this pass
// is what catches divergence on an already-established record, where
// each side reattached independently via ownEntryByUID with nothing to
// compare against at placement time.
func (o *ObjEngine) detectMappingConflicts() {
	for _, m := range o.Mappings {
		var changed []*MappingEntryEngine
		for _, e := range m.Entries {
			if e.Change != nil && e.Change.ChangeType != types.ChangeUnmodified {
				changed = append(changed, e)
			}
		}
		if len(changed) < 2 {
			continue
		}
		for _, e := range changed[1:] {
			if DetectConflict(e.Change, changed[0].Change, o.fmts, o.ObjType, e.sink.Caps, changed[0].sink.Caps) != format.Same {
				m.Conflict = true
				break
			}
		}
	}
}

// resolve invokes the conflict callback for every still-conflicting
// mapping. Leaving this phase with any mapping still marked conflict is an
// error: resolve itself records it as this ObjEngine's sticky error (so the
// run ends without EventSuccessful) and reports each such mapping with
// EventError, then advances to Multiplying.
func (o *ObjEngine) resolve() {
	resolver := newResolver(o.arch, o.ObjType, o.ObjType)
	var unresolved []*MappingEngine
	for _, m := range o.Mappings {
		if !m.Conflict {
			continue
		}
		o.cb.conflict(o.ObjType, m, resolver)
		if m.Conflict {
			unresolved = append(unresolved, m)
			o.tel.ObserveConflict("unresolved")
		} else {
			o.cb.mappingStatus(o.ObjType, m.Mapping.ID, EventMapped, nil)
			o.tel.ObserveConflict("resolved")
		}
	}
	if len(unresolved) > 0 {
		o.setErr(errs.New(errs.Generic, "resolution phase ended with unresolved conflicts"))
		for _, m := range unresolved {
			o.cb.mappingStatus(o.ObjType, m.Mapping.ID, EventError, o.err)
		}
	}
	o.report(EventEndConflicts, o.err)
	o.advance(types.Multiplying)
}

func (o *ObjEngine) multiply() {
	for _, m := range o.Mappings {
		m.Multiply()
	}
	o.cb.multiply(o.ObjType)
	o.report(EventMultiplied, o.err)
	o.report(EventPreparedWrite, o.err)
	o.advance(types.PreparingWrite)
}

func (o *ObjEngine) write() {
	for _, sink := range o.Sinks {
		sink.Demerge(o.arch, o.fmts, sink.Caps)
		sink.ConvertToDest(o.fmts)
	}
	o.runPerSink(&o.written, func(s *SinkEngine, done func(*errs.Error)) {
		s.Write(o.arch, done)
	}, func() {
		o.report(EventWritten, o.err)
		o.advance(types.SyncDone)
	})
}

func (o *ObjEngine) syncDone() {
	o.runPerSink(&o.syncDones, func(s *SinkEngine, done func(*errs.Error)) {
		s.SyncDone(done)
	}, func() {
		o.report(EventSyncDone, o.err)
		o.advance(types.Disconnecting)
	})
}

// disconnect is unconditional: every sink always sees a terminal
// disconnect call regardless of earlier errors, and a sink's disconnect
// outcome never re-enters the error arm (spec.md §4.9).
func (o *ObjEngine) disconnect() {
	remaining := len(o.Sinks)
	if remaining == 0 {
		o.finishRun()
		return
	}
	for _, s := range o.Sinks {
		sink := s
		sink.Disconnect(func() {
			o.disconnects = o.disconnects.Set(sink.Ordinal)
			remaining--
			if remaining == 0 {
				o.finishRun()
			}
		})
	}
}

func (o *ObjEngine) finishRun() {
	o.Phase = types.Idle
	o.connects, o.connectDones, o.getChanges, o.written, o.syncDones, o.disconnects, o.errors = 0, 0, 0, 0, 0, 0, 0
	if o.onPhaseDone != nil {
		done := o.onPhaseDone
		o.onPhaseDone = nil
		done()
	}
}

// Abort sets err as this ObjEngine's sticky error and jumps straight to
// the disconnect arm, regardless of which phase is currently in flight
// (spec.md §4.10's abort() path). Already-issued PeerProxy calls are not
// preempted; their eventual replies land on a sink whose phase has
// already moved on and are simply ignored by runPerSink's stale closures.
func (o *ObjEngine) Abort(err *errs.Error) {
	o.setErr(err)
	o.advance(types.Disconnecting)
}
