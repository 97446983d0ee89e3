// Package test provides the engine-level scenario harness: a fake
// PeerAdapter that stands in for a real peer process, driven by the
// literal end-to-end scenarios of spec.md §8. Grounded on the teacher's
// test/testing.go helper style (small constructor functions returning
// ready-to-use fixtures, a WaitThisOrTimeout-style bounded wait).
package test

import (
	"fmt"
	"sync"
	"time"

	"github.com/jabolina/go-syncengine/internal/errs"
	"github.com/jabolina/go-syncengine/internal/format"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// FakeAdapter is an in-memory PeerAdapter: changes queued via QueueChange
// are streamed back on the next GetChanges, and every CommitChange is
// both recorded and applied to a local store so Read can rehydrate it.
type FakeAdapter struct {
	mu sync.Mutex

	memberID        string
	slowsyncGranted bool
	caps            []string

	pending   []*types.Change
	store     map[string]*types.Change
	committed []*types.Change
	nextUID   int
}

func NewFakeAdapter(memberID string) *FakeAdapter {
	return &FakeAdapter{memberID: memberID, store: map[string]*types.Change{}}
}

// QueueChange schedules change to be reported on the next GetChanges
// call. A change with a known uid is also recorded as this adapter's own
// current local state, so a later Read (e.g. reinjecting an ignored
// conflict) sees the same record this adapter believes it holds.
func (f *FakeAdapter) QueueChange(c *types.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, c)
	if c.UID != "" {
		f.store[c.UID] = c.Copy()
	}
}

// GrantSlowSync makes the next Connect report slowsync_granted=true.
func (f *FakeAdapter) GrantSlowSync() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slowsyncGranted = true
}

// SetCapabilities fixes the capability list Discover reports, so a test
// can simulate a lossy peer (e.g. no "full" capability) discovered at
// runtime rather than configured up front.
func (f *FakeAdapter) SetCapabilities(caps []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps = caps
}

// Committed returns every Change committed so far, oldest first.
func (f *FakeAdapter) Committed() []*types.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Change, len(f.committed))
	copy(out, f.committed)
	return out
}

// Stored returns the current state of uid, or nil if no record is held
// under uid.
func (f *FakeAdapter) Stored(uid string) *types.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[uid]
}

func (f *FakeAdapter) Connect(objtype string, slowsync bool) (bool, *errs.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	granted := f.slowsyncGranted || slowsync
	f.slowsyncGranted = false
	return granted, nil
}

func (f *FakeAdapter) ConnectDone(objtype string) *errs.Error { return nil }

func (f *FakeAdapter) GetChanges(objtype string, slowsync bool, onChange func(*types.Change)) *errs.Error {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, c := range pending {
		onChange(c)
	}
	return nil
}

func (f *FakeAdapter) Read(change *types.Change) (*types.Change, *errs.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.store[change.UID]; ok {
		return stored.Copy(), nil
	}
	return change, nil
}

func (f *FakeAdapter) CommitChange(change *types.Change) (string, *errs.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	newUID := ""
	uid := change.UID
	if uid == "" {
		f.nextUID++
		newUID = fmt.Sprintf("%s-gen-%d", f.memberID, f.nextUID)
		uid = newUID
	}

	stored := change.Copy()
	stored.UID = uid
	if change.ChangeType == types.ChangeDeleted {
		delete(f.store, uid)
	} else {
		f.store[uid] = stored
	}
	f.committed = append(f.committed, stored)
	return newUID, nil
}

func (f *FakeAdapter) CommittedAll(objtype string) *errs.Error { return nil }
func (f *FakeAdapter) SyncDone(objtype string) *errs.Error     { return nil }
func (f *FakeAdapter) Disconnect(objtype string) *errs.Error   { return nil }
func (f *FakeAdapter) Discover() ([]string, *errs.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps, nil
}
func (f *FakeAdapter) Finalize() *errs.Error                   { return nil }
func (f *FakeAdapter) Shutdown() *errs.Error                   { return nil }

// RawTextChange builds a ChangeAdded/ChangeModified/ChangeDeleted Change
// carrying a rawtext payload, the fixture every scenario test below needs.
func RawTextChange(uid, text string, revision uint64, changeType types.ChangeType, fmtToken format.ObjectFormat) *types.Change {
	if changeType == types.ChangeDeleted {
		return &types.Change{UID: uid, ChangeType: changeType}
	}
	return &types.Change{
		UID:        uid,
		ChangeType: changeType,
		Data: &types.Data{
			Bytes:  format.EncodeRawText(text, revision),
			Format: fmtToken,
		},
	}
}

// WaitOrTimeout blocks on ch, returning true once it is signalled or
// false if duration elapses first, mirroring the teacher's
// WaitThisOrTimeout.
func WaitOrTimeout(ch <-chan struct{}, duration time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(duration):
		return false
	}
}
