package fuzzy

import (
	"fmt"
	"path/filepath"
	"testing"
	"testing/quick"

	"github.com/jabolina/go-syncengine/internal/hashtable"
)

// TestProperty_HashTableRoundTrip is spec.md §8's P3: starting from
// empty, update_change(ADDED, uid, hash) then save/load then
// get_changetype(uid, hash) returns UNMODIFIED; a different hash returns
// MODIFIED; get_deleted returns exactly the baseline uids never
// re-updated.
func TestProperty_HashTableRoundTrip(t *testing.T) {
	prop := func(n uint8, changedIdx uint8, droppedIdx uint8) bool {
		count := int(n%12) + 1
		dir := t.TempDir()
		path := filepath.Join(dir, "hashtable.db")

		h, err := hashtable.Load(path, "contact")
		if err != nil {
			t.Fatalf("load: %v", err)
		}

		uids := make([]string, count)
		hashes := make([]string, count)
		for i := 0; i < count; i++ {
			uids[i] = fmt.Sprintf("uid-%d", i)
			hashes[i] = fmt.Sprintf("hash-%d", i)
			if ct := h.GetChangeType(uids[i], hashes[i]); ct != hashtable.Added {
				t.Logf("fresh uid %s classified %v, want Added", uids[i], ct)
				return false
			}
			h.UpdateChange(uids[i], hashes[i])
		}
		if err := h.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := h.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		reopened, err := hashtable.Load(path, "contact")
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		defer reopened.Close()

		changed := int(changedIdx) % count
		dropped := int(droppedIdx) % count

		for i := 0; i < count; i++ {
			switch i {
			case dropped:
				continue // never re-updated this run; must show up as deleted
			case changed:
				if ct := reopened.GetChangeType(uids[i], hashes[i]+"-edited"); ct != hashtable.Modified {
					t.Logf("uid %s with changed hash classified %v, want Modified", uids[i], ct)
					return false
				}
				reopened.UpdateChange(uids[i], hashes[i]+"-edited")
			default:
				if ct := reopened.GetChangeType(uids[i], hashes[i]); ct != hashtable.Unmodified {
					t.Logf("uid %s with same hash classified %v, want Unmodified", uids[i], ct)
					return false
				}
				reopened.UpdateChange(uids[i], hashes[i])
			}
		}

		deleted := reopened.GetDeleted()
		if len(deleted) != 1 || deleted[0] != uids[dropped] {
			t.Logf("expected exactly [%s] deleted, got %v", uids[dropped], deleted)
			return false
		}
		return true
	}

	if err := quick.Check(prop, &quick.Config{MaxCount: 30}); err != nil {
		t.Error(err)
	}
}
