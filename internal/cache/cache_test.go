package cache

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCache_PutAndGet(t *testing.T) {
	c := New[string, int](10)

	c.Put("a", 1, 0)
	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Errorf("Get(a) = (%d, %v), want (1, true)", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should miss")
	}
}

func TestCache_Get_ExpiredEntryMissesAndIsRemoved(t *testing.T) {
	c := New[string, int](10)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Put("a", 1, time.Minute)

	// TTL内はヒット
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry should be live within TTL")
	}

	// TTL超過後はミスし、エントリは削除される
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := c.Get("a"); ok {
		t.Error("expired entry should miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expiry removal", c.Len())
	}
}

func TestCache_Put_EvictsOldestWhenOverCapacity(t *testing.T) {
	c := New[string, int](3)

	c.Put("a", 1, 0)
	c.Put("b", 2, 0)
	c.Put("c", 3, 0)
	c.Put("d", 4, 0)

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	for _, key := range []string{"b", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("entry %q should still be present", key)
		}
	}
}

func TestCache_Put_OverwriteKeepsInsertionOrder(t *testing.T) {
	c := New[string, int](2)

	c.Put("a", 1, 0)
	c.Put("b", 2, 0)
	// 上書きは挿入位置を変えない
	c.Put("a", 10, 0)
	c.Put("c", 3, 0)

	// aが最古のため破棄される
	if _, ok := c.Get("a"); ok {
		t.Error("overwritten oldest entry should still be evicted first")
	}
	if got, _ := c.Get("c"); got != 3 {
		t.Errorf("Get(c) = %d, want 3", got)
	}
}

func TestCache_Remove_ReturnsValueOnce(t *testing.T) {
	c := New[string, string](10)
	c.Put("token", "payload", time.Minute)

	v, ok := c.Remove("token")
	if !ok || v != "payload" {
		t.Errorf("Remove() = (%q, %v), want (payload, true)", v, ok)
	}

	if _, ok := c.Remove("token"); ok {
		t.Error("second Remove() should report missing")
	}
}

func TestCache_Remove_ReturnsExpiredEntry(t *testing.T) {
	c := New[string, string](10)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Put("token", "payload", time.Minute)
	c.now = func() time.Time { return base.Add(2 * time.Minute) }

	// 期限切れでも値は返す。期限切れ判定は呼び出し側が行う。
	v, ok := c.Remove("token")
	if !ok || v != "payload" {
		t.Errorf("Remove() = (%q, %v), want expired entry returned", v, ok)
	}
}

func TestCache_GetOrFetch_FetchesOnceWithinTTL(t *testing.T) {
	c := New[string, int](10)

	calls := 0
	fetch := func() (int, time.Duration, error) {
		calls++
		return 7, time.Minute, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrFetch("k", fetch)
		if err != nil {
			t.Fatalf("GetOrFetch() error = %v", err)
		}
		if v != 7 {
			t.Errorf("GetOrFetch() = %d, want 7", v)
		}
	}

	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}
}

func TestCache_GetOrFetch_ErrorIsNotCached(t *testing.T) {
	c := New[string, int](10)

	calls := 0
	fetch := func() (int, time.Duration, error) {
		calls++
		if calls == 1 {
			return 0, 0, errors.New("transient failure")
		}
		return 9, time.Minute, nil
	}

	if _, err := c.GetOrFetch("k", fetch); err == nil {
		t.Fatal("expected error from first fetch")
	}
	v, err := c.GetOrFetch("k", fetch)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if v != 9 {
		t.Errorf("GetOrFetch() = %d, want 9", v)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int, int](100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Put(n, n, time.Minute)
			c.Get(n)
			c.GetOrFetch(n, func() (int, time.Duration, error) {
				return n, time.Minute, nil
			})
		}(i)
	}
	wg.Wait()

	if c.Len() != 50 {
		t.Errorf("Len() = %d, want 50", c.Len())
	}
}
