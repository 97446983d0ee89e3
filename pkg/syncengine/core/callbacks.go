package core

import (
	"github.com/jabolina/go-syncengine/internal/errs"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// Event names the engine_status/member_status/change_status/mapping_status
// values spec.md §4.10 lists.
type Event string

const (
	EventConnected     Event = "connected"
	EventPrevUnclean   Event = "prev_unclean"
	EventRead          Event = "read"
	EventPreparedMap   Event = "prepared_map"
	EventMapped        Event = "mapped"
	EventEndConflicts  Event = "end_conflicts"
	EventMultiplied    Event = "multiplied"
	EventPreparedWrite Event = "prepared_write"
	EventWritten       Event = "written"
	EventSyncDone      Event = "sync_done"
	EventDisconnected  Event = "disconnected"
	EventSuccessful    Event = "successful"
	EventError         Event = "error"
)

// Callbacks is the set of hooks the embedding application supplies to an
// Engine (spec.md §4.10's callback table). Any nil field is simply not
// invoked.
type Callbacks struct {
	EngineStatus  func(event Event, err *errs.Error)
	MemberStatus  func(memberID, objtype string, event Event, err *errs.Error)
	ChangeStatus  func(objtype string, change *types.Change, mappingID int64, event Event, err *errs.Error)
	MappingStatus func(objtype string, mappingID int64, event Event, err *errs.Error)

	// Conflict is invoked once per conflicting MappingEngine. The handler
	// must call exactly one of resolver.Choose/Duplicate/Ignore/UseLatest
	// before returning (spec.md §4.8's idempotency invariant I4 holds
	// regardless of how many times the same resolution is re-applied).
	// resolver wraps the archive-aware side effect of "ignore" (logging to
	// the changelog) so callback code never needs direct access to the
	// engine's Archive. "duplicate" only returns duplicated Changes; it
	// does not move entries into new mappings.
	Conflict func(objtype string, mapping *MappingEngine, resolver *Resolver)

	// Multiply is a summary hook invoked after multiplication, before
	// write begins.
	Multiply func(objtype string)
}

func (c *Callbacks) engineStatus(event Event, err *errs.Error) {
	if c != nil && c.EngineStatus != nil {
		c.EngineStatus(event, err)
	}
}

func (c *Callbacks) memberStatus(memberID, objtype string, event Event, err *errs.Error) {
	if c != nil && c.MemberStatus != nil {
		c.MemberStatus(memberID, objtype, event, err)
	}
}

func (c *Callbacks) changeStatus(objtype string, change *types.Change, mappingID int64, event Event, err *errs.Error) {
	if c != nil && c.ChangeStatus != nil {
		c.ChangeStatus(objtype, change, mappingID, event, err)
	}
}

func (c *Callbacks) mappingStatus(objtype string, mappingID int64, event Event, err *errs.Error) {
	if c != nil && c.MappingStatus != nil {
		c.MappingStatus(objtype, mappingID, event, err)
	}
}

func (c *Callbacks) conflict(objtype string, mapping *MappingEngine, resolver *Resolver) {
	if c != nil && c.Conflict != nil {
		c.Conflict(objtype, mapping, resolver)
	}
}

func (c *Callbacks) multiply(objtype string) {
	if c != nil && c.Multiply != nil {
		c.Multiply(objtype)
	}
}
