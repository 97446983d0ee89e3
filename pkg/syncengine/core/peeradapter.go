package core

import (
	"github.com/jabolina/go-syncengine/internal/errs"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// PeerAdapter is the "plugin" boundary spec.md §1/§6 places out of core
// scope: code that talks to a real address book, server, or device. The
// core only ever consumes this interface (or the transport-level protocol
// an out-of-process adapter speaks over PeerProxy's reference transports)
// — it never inspects how an adapter is implemented.
//
// Every method blocks until the corresponding peer-side operation
// completes; PeerProxy is what turns these into the asynchronous,
// driver-thread-delivered calls spec.md §4.6 describes.
type PeerAdapter interface {
	// Connect asks the adapter to connect for objtype (or "" for the
	// main, all-types sink). If slowsync is requested the adapter should
	// reset its local resume state. Returns whether a slow-sync was
	// actually granted (it may differ from what was asked, e.g. a stale
	// sink-state anchor can force one even when not requested).
	Connect(objtype string, slowsync bool) (slowsyncGranted bool, err *errs.Error)

	// ConnectDone signals every sink has connected; adapters that need a
	// connect/connect_done split (e.g. to finish capability discovery)
	// hook in here.
	ConnectDone(objtype string) *errs.Error

	// GetChanges streams this adapter's changes for objtype by invoking
	// onChange once per Change, then returns (or returns early on error).
	GetChanges(objtype string, slowsync bool, onChange func(*types.Change)) *errs.Error

	// Read re-hydrates a Change with its full payload, used to rebuild
	// ignored-conflict entries recorded with only a UID.
	Read(change *types.Change) (*types.Change, *errs.Error)

	// CommitChange applies change on the peer side. If the peer assigns a
	// new local uid (e.g. on first ADD), newUID is non-empty.
	CommitChange(change *types.Change) (newUID string, err *errs.Error)

	// CommittedAll signals every dirty change for objtype has been
	// committed this run.
	CommittedAll(objtype string) *errs.Error

	// SyncDone signals the run finished successfully for objtype.
	SyncDone(objtype string) *errs.Error

	// Disconnect tears down objtype's connection. Must never itself
	// produce an error that re-enters the error arm (spec.md §4.9).
	Disconnect(objtype string) *errs.Error

	// Discover performs one-shot capability discovery, independent of any
	// sync run, returning the capability strings (e.g. "full") this peer
	// declares for its object formats.
	Discover() ([]string, *errs.Error)

	// Finalize and Shutdown release adapter-owned resources.
	Finalize() *errs.Error
	Shutdown() *errs.Error
}
