package ids

import (
	"sort"
	"sync"
	"testing"
	"time"
)

func TestNewIsUniqueUnderConcurrency(t *testing.T) {
	const n = 500
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := New()
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != n {
		t.Errorf("got %d distinct ids, want %d", len(ids), n)
	}
}

func TestNewSortsByTime(t *testing.T) {
	first := New()
	time.Sleep(2 * time.Millisecond)
	second := New()
	got := []string{second, first}
	sort.Strings(got)
	if got[0] != first {
		t.Errorf("ids not time-ordered: %q !< %q", first, second)
	}
}
