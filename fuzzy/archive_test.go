// Package fuzzy holds property-based tests for the testable invariants
// of spec.md §8 (P1-P7), mirroring the teacher's top-level
// fuzzy/commit_test.go placement: cluster/storage-level properties live
// here, driven by stdlib testing/quick generators rather than a fixed
// table of examples.
package fuzzy

import (
	"path/filepath"
	"testing"
	"testing/quick"

	"github.com/jabolina/go-syncengine/internal/archive"
)

// TestProperty_ArchiveChangeRoundTrip is spec.md §8's P2: load_changes
// after save_change+close+reopen returns every saved row exactly once,
// sorted by mapping_id ascending.
func TestProperty_ArchiveChangeRoundTrip(t *testing.T) {
	prop := func(rows []uint8) bool {
		if len(rows) == 0 || len(rows) > 40 {
			return true
		}
		dir := t.TempDir()
		path := filepath.Join(dir, "archive.db")

		a, err := archive.Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		wantMappingIDs := make(map[int64]bool)
		for i, n := range rows {
			mappingID := int64(n) + 1
			uid := "uid-" + string(rune('a'+i%26))
			if _, err := a.SaveChange(0, "contact", uid, "peer-a", mappingID, "contact"); err != nil {
				t.Fatalf("save_change: %v", err)
			}
			wantMappingIDs[mappingID] = true
		}
		if err := a.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		reopened, err := archive.Open(path)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		defer reopened.Close()

		_, _, mappingIDs, _, err := reopened.LoadChanges("contact")
		if err != nil {
			t.Fatalf("load_changes: %v", err)
		}
		if len(mappingIDs) != len(rows) {
			t.Logf("expected %d rows, got %d", len(rows), len(mappingIDs))
			return false
		}
		for i := 1; i < len(mappingIDs); i++ {
			if mappingIDs[i-1] > mappingIDs[i] {
				t.Logf("mapping ids not ascending: %v", mappingIDs)
				return false
			}
		}
		seen := make(map[int64]bool)
		for _, id := range mappingIDs {
			seen[id] = true
		}
		for id := range wantMappingIDs {
			if !seen[id] {
				t.Logf("missing mapping id %d after reopen", id)
				return false
			}
		}
		return true
	}

	if err := quick.Check(prop, &quick.Config{MaxCount: 20, MaxLen: 15}); err != nil {
		t.Error(err)
	}
}
