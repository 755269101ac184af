package buffer

import (
	"path/filepath"
	"testing"

	"latchdb/internal/diskmanager"
	"latchdb/internal/page"
)

// TestPoolPartitionsPageIDsByInstance is spec.md §8's partitioned buffer pool
// invariant: for every configured partition, every id returned by instance i
// satisfies id mod num_instances == i.
func TestPoolPartitionsPageIDsByInstance(t *testing.T) {
	dir := t.TempDir()
	dm, err := diskmanager.Open(filepath.Join(dir, "pool.db"))
	if err != nil {
		t.Fatalf("open disk manager: %v", err)
	}
	defer dm.Close()

	const numInstances = 4
	pool := NewPool(8, numInstances, dm, nil, nil)

	for i := 0; i < 40; i++ {
		p, err := pool.NewPage()
		if err != nil {
			t.Fatalf("new page %d: %v", i, err)
		}
		idx := i % numInstances
		if got := int(p.ID()) % numInstances; got != idx {
			t.Fatalf("page %d from round-robin slot %d has id %% %d == %d, want %d",
				p.ID(), idx, numInstances, got, idx)
		}
		pool.UnpinPage(p.ID(), false)
	}
}

func TestPoolRoutesFetchToOwningInstance(t *testing.T) {
	dir := t.TempDir()
	dm, err := diskmanager.Open(filepath.Join(dir, "pool2.db"))
	if err != nil {
		t.Fatalf("open disk manager: %v", err)
	}
	defer dm.Close()

	pool := NewPool(4, 3, dm, nil, nil)

	var ids []int
	for i := 0; i < 9; i++ {
		p, err := pool.NewPage()
		if err != nil {
			t.Fatalf("new page %d: %v", i, err)
		}
		ids = append(ids, int(p.ID()))
		copy(p.Data(), []byte{byte(i)})
		pool.UnpinPage(p.ID(), true)
	}

	for i, id := range ids {
		p, err := pool.FetchPage(page.ID(id))
		if err != nil {
			t.Fatalf("fetch page %d: %v", id, err)
		}
		if p.Data()[0] != byte(i) {
			t.Fatalf("page %d: expected byte %d, got %d", id, i, p.Data()[0])
		}
		pool.UnpinPage(p.ID(), false)
	}
}
