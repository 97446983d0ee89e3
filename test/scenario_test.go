package test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jabolina/go-syncengine/internal/format"
	"github.com/jabolina/go-syncengine/pkg/syncengine/core"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// Scenario 1 (spec.md §8): a single peer reports one new record and it
// ends up committed, as-is, on the other peer.
func TestScenario_SinglePeerAdd(t *testing.T) {
	g := NewTwoPeerGroup(t)
	rt := g.Rawtext()

	g.A.QueueChange(RawTextChange("a1", "Alice", 1, types.ChangeAdded, rt))

	g.RunAndWait()

	require.True(t, g.Rec.Has(core.EventSuccessful), "expected a successful run")
	committed := g.B.Committed()
	require.Len(t, committed, 1, "expected peer-b to commit exactly one change")
	text, _ := format.DecodeRawText(committed[0].Data.Bytes)
	require.Equal(t, "Alice", text)
	require.Empty(t, g.A.Committed(), "peer-a should not have been asked to commit anything")
}

// Scenario 2: two peers add conflicting records in the same run. The
// conflict is resolved with "choose", and peer-b receives the chosen
// record.
func TestScenario_ConflictChoose(t *testing.T) {
	g := NewTwoPeerGroup(t)
	rt := g.Rawtext()
	g.Rec.Resolve = chooseMember("peer-a")

	g.A.QueueChange(RawTextChange("a1", "Alice Aardvark", 1, types.ChangeAdded, rt))
	g.B.QueueChange(RawTextChange("", "Alice Bobcat", 1, types.ChangeAdded, rt))

	g.RunAndWait()

	require.Equal(t, 1, g.Rec.ConflictCount(), "expected exactly one conflict callback")
	require.True(t, g.Rec.Has(core.EventSuccessful), "expected a successful run once the conflict is chosen")
	bCommitted := g.B.Committed()
	require.Len(t, bCommitted, 1, "expected peer-b to receive the chosen record")
	text, _ := format.DecodeRawText(bCommitted[0].Data.Bytes)
	require.Equal(t, "Alice Aardvark", text)
}

// Scenario 3: an established record diverges on both peers in the same
// run; "use-latest" picks the higher-revision side.
func TestScenario_ConflictUseLatest(t *testing.T) {
	g := NewTwoPeerGroup(t)
	rt := g.Rawtext()

	// Prime both sides with a matching record first.
	g.A.QueueChange(RawTextChange("a1", "Alice", 1, types.ChangeAdded, rt))
	g.RunAndWait()
	bUID := g.B.Committed()[0].UID
	require.NotEmpty(t, bUID, "expected peer-b to have been assigned a uid during priming")

	g.Rec.Reset()
	g.Engine.Repair()
	g.Rec.Resolve = useLatest()

	g.A.QueueChange(RawTextChange("a1", "Alice Ann", 10, types.ChangeModified, rt))
	g.B.QueueChange(RawTextChange(bUID, "Alice Anne", 20, types.ChangeModified, rt))

	g.RunAndWait()

	require.Equal(t, 1, g.Rec.ConflictCount(), "expected exactly one conflict callback")
	aCommitted := g.A.Committed()
	require.Len(t, aCommitted, 1, "expected peer-a to receive the higher-revision record")
	text, _ := format.DecodeRawText(aCommitted[0].Data.Bytes)
	require.Equal(t, "Alice Anne", text)
}

// Scenario 4: "ignore" leaves the conflict logged to the archive
// changelog; the very next run re-raises it from both sides rather than
// silently dropping it.
func TestScenario_IgnoreConflictPersistence(t *testing.T) {
	g := NewTwoPeerGroup(t)
	rt := g.Rawtext()

	// Prime both sides with a matching, already-synced record.
	g.A.QueueChange(RawTextChange("a1", "Alice", 1, types.ChangeAdded, rt))
	g.RunAndWait()
	bUID := g.B.Committed()[0].UID
	bPrimed := len(g.B.Committed())

	g.Rec.Reset()
	g.Engine.Repair()
	g.Rec.Resolve = func(m *core.MappingEngine, resolver *core.Resolver) {
		resolver.Ignore(m)
	}
	g.A.QueueChange(RawTextChange("a1", "Alice Aardvark II", 2, types.ChangeModified, rt))
	g.B.QueueChange(RawTextChange(bUID, "Alice Bobcat II", 2, types.ChangeModified, rt))
	g.RunAndWait()

	require.Equal(t, 1, g.Rec.ConflictCount(), "expected exactly one conflict on the ignored run")
	require.Empty(t, g.A.Committed(), "ignoring a conflict should not commit anything")
	require.Len(t, g.B.Committed(), bPrimed, "ignoring a conflict should not commit anything")

	g.Rec.Reset()
	conflictsOnSecondRun := 0
	g.Rec.Resolve = func(m *core.MappingEngine, resolver *core.Resolver) {
		conflictsOnSecondRun++
		chooseMember("peer-a")(m, resolver)
	}
	g.Engine.Repair()
	g.RunAndWait()

	require.Equal(t, 1, conflictsOnSecondRun, "expected the ignored conflict to be re-raised on the next run")
	require.Len(t, g.B.Committed(), bPrimed+1, "expected the re-raised conflict to resolve and commit")
	text, _ := format.DecodeRawText(g.B.Committed()[bPrimed].Data.Bytes)
	require.Equal(t, "Alice Aardvark II", text)
}

// Scenario 5: a stale lock file from a previous crashed run forces a
// slow-sync for every object type, reported via prev_unclean, and every
// ADDED record still flows to completion.
func TestScenario_SlowSyncOnStaleLock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contacts-group.lock"), []byte("not-a-pid"), 0o644), "failed planting stale lock file")

	g := NewTwoPeerGroupInDir(t, dir)
	rt := g.Rawtext()
	g.A.QueueChange(RawTextChange("a1", "Alice", 1, types.ChangeAdded, rt))

	g.RunAndWait()

	require.True(t, g.Rec.Has(core.EventPrevUnclean), "expected prev_unclean to be reported for a stale lock")
	require.True(t, g.Rec.Has(core.EventSuccessful), "expected the forced slow-sync run to still succeed")
	require.Len(t, g.B.Committed(), 1, "expected peer-b to still receive the record under slow-sync")
}

// Scenario 6: aborting mid-run still reaches "disconnected", reports an
// error mentioning "aborted", and never reports success.
func TestScenario_AbortedSynchronization(t *testing.T) {
	g := NewTwoPeerGroup(t)
	rt := g.Rawtext()
	g.A.QueueChange(RawTextChange("a1", "Alice", 1, types.ChangeAdded, rt))

	g.Engine.Synchronize()
	g.Engine.Abort()
	require.True(t, WaitOrTimeout(g.Rec.Done(), 5*time.Second), "aborted synchronize did not reach disconnected within the time bound")

	require.False(t, g.Rec.Has(core.EventSuccessful), "an aborted run must never report successful")
	require.True(t, g.Rec.Has(core.EventError), "expected an error event for the aborted run")
	require.Contains(t, g.Rec.ErrMessage(), "aborted", "expected the sticky error to mention \"aborted\"")
}

// Scenario 7 (spec.md §4.6/§4.7): Engine.Discover's result drives each
// sink's capability-restricted demerge, so a peer that actually declares
// the "full" capability keeps the richer form of a record instead of
// being silently reduced to the lossy baseline every peer gets when no
// capability data is wired through at all.
func TestScenario_CapabilityDrivenDemerge(t *testing.T) {
	g := NewTwoPeerGroup(t)
	rt := g.Rawtext()

	g.B.SetCapabilities([]string{"full"})
	caps, derr := g.Engine.Discover("peer-b")
	require.Nil(t, derr, "discover should not fail")
	require.Equal(t, []string{"full"}, caps)

	g.A.QueueChange(RawTextChange("a1", "Alice", 7, types.ChangeAdded, rt))
	g.RunAndWait()

	require.True(t, g.Rec.Has(core.EventSuccessful))
	committed := g.B.Committed()
	require.Len(t, committed, 1)
	text, revision := format.DecodeRawText(committed[0].Data.Bytes)
	require.Equal(t, "Alice", text)
	require.Equal(t, uint64(7), revision, "peer-b declared the full capability, so its stored revision must survive demerge")
}

// Scenario 8: the mirror case — a peer that never discovers (or is
// configured with) any capability is demerged down to the lossy
// baseline, proving the capability list flowing from Discover through to
// SinkEngine.Demerge actually changes behavior rather than always acting
// as if every peer were capability-less.
func TestScenario_LossyPeerDemergeStripsRevision(t *testing.T) {
	g := NewTwoPeerGroup(t)
	rt := g.Rawtext()

	g.A.QueueChange(RawTextChange("a1", "Alice", 7, types.ChangeAdded, rt))
	g.RunAndWait()

	require.True(t, g.Rec.Has(core.EventSuccessful))
	committed := g.B.Committed()
	require.Len(t, committed, 1)
	text, revision := format.DecodeRawText(committed[0].Data.Bytes)
	require.Equal(t, "Alice", text, "demerge must never drop the record's actual content, only its extra capability-gated fields")
	require.Equal(t, uint64(0), revision, "peer-b declared no capabilities, so demerge must strip its revision")
}

func chooseMember(memberID string) func(m *core.MappingEngine, resolver *core.Resolver) {
	return func(m *core.MappingEngine, resolver *core.Resolver) {
		var winner *core.MappingEntryEngine
		for _, e := range m.Entries {
			if e.MemberID() == memberID {
				winner = e
			}
		}
		if winner != nil {
			resolver.Choose(m, winner)
		}
	}
}

func useLatest() func(m *core.MappingEngine, resolver *core.Resolver) {
	return func(m *core.MappingEngine, resolver *core.Resolver) {
		resolver.UseLatest(m)
	}
}
