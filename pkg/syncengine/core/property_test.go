package core

import (
	"testing"

	"github.com/jabolina/go-syncengine/internal/format"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// threeEntryMapping builds a MappingEngine with three rawtext entries,
// each holding a non-dirty Unmodified "seed" change, for P5 below.
// This stays in package core rather than fuzzy/ because newMappingEngine
// and newMappingEntryEngine have no exported constructor — P5 is a claim
// about MappingEngine.Choose's internal idempotency, not about anything
// observable through a two-peer run.
func threeEntryMapping(t *testing.T) (*MappingEngine, []*MappingEntryEngine) {
	t.Helper()
	rt := format.NewRawText(testPropertyObjType)
	mapping := &types.Mapping{
		ID: 1,
		Entries: []*types.MappingEntry{
			{ID: 1, MappingID: 1, MemberID: "peer-a", UID: "a1"},
			{ID: 2, MappingID: 1, MemberID: "peer-b", UID: "b1"},
			{ID: 3, MappingID: 1, MemberID: "peer-c", UID: "c1"},
		},
	}
	me := newMappingEngine(mapping)
	entries := make([]*MappingEntryEngine, len(mapping.Entries))
	for i, e := range mapping.Entries {
		ee := newMappingEntryEngine(e, nil)
		ee.Change = &types.Change{
			UID:        e.UID,
			ChangeType: types.ChangeUnmodified,
			Data: &types.Data{
				Bytes:  format.EncodeRawText("seed", 1),
				Format: rt,
			},
		}
		entries[i] = ee
		me.Entries = append(me.Entries, ee)
	}
	return me, entries
}

const testPropertyObjType = "property-contact"

// TestProperty_ChooseIsIdempotent is spec.md §8's P5: choose(entry) then
// multiply then choose(entry) again must leave every entry's dirtiness
// (and Change) exactly as the first call did.
func TestProperty_ChooseIsIdempotent(t *testing.T) {
	rt := format.NewRawText(testPropertyObjType)
	texts := []string{"Alice Anderson", "Bob Baker", "Winning Text", ""}

	for _, text := range texts {
		me, entries := threeEntryMapping(t)
		winner := entries[0]
		winner.Change = &types.Change{
			UID:        winner.Entry.UID,
			ChangeType: types.ChangeModified,
			Data:       &types.Data{Bytes: format.EncodeRawText(text, 7), Format: rt},
		}

		me.Choose(winner)
		me.Multiply()

		type snapshot struct {
			dirty bool
			uid   string
			text  string
			ct    types.ChangeType
		}
		snap := func() []snapshot {
			out := make([]snapshot, len(entries))
			for i, e := range entries {
				s := snapshot{dirty: e.Dirty}
				if e.Change != nil {
					s.uid = e.Change.UID
					s.ct = e.Change.ChangeType
					if e.Change.Data != nil {
						txt, _ := format.DecodeRawText(e.Change.Data.Bytes)
						s.text = txt
					}
				}
				out[i] = s
			}
			return out
		}

		before := snap()
		me.Choose(winner)
		after := snap()

		for i := range before {
			if before[i] != after[i] {
				t.Fatalf("text %q: entry %d dirtiness/content changed on second Choose: before=%+v after=%+v", text, i, before[i], after[i])
			}
		}
		if me.Conflict {
			t.Fatalf("text %q: Choose must leave Conflict cleared", text)
		}
	}
}
