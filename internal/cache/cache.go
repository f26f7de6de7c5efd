// Package cache は上限付き・エントリごとのTTLを持つ汎用インメモリキャッシュを提供する。
// OpenIDのエンドポイント/アソシエーションキャッシュとOAuthのペンディングログインが
// 同一の実装を共有する。
package cache

import (
	"sync"
	"time"
)

// entry はキャッシュエントリ。expiresAtがゼロ値の場合はTTLなし。
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache は上限付き・TTL付きのスレッドセーフなキー値キャッシュ。
// 上限を超えた場合は最も古く挿入されたエントリから破棄する。
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	maxEntries int // 0以下は無制限
	entries    map[K]entry[V]
	// order は挿入順のキー列。上書きしても元の位置を保つ（最古優先の破棄のため）。
	order []K
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// New はCacheを生成する。maxEntriesが0以下の場合はエントリ数無制限。
func New[K comparable, V any](maxEntries int) *Cache[K, V] {
	return &Cache[K, V]{
		maxEntries: maxEntries,
		entries:    make(map[K]entry[V]),
		now:        time.Now,
	}
}

// Get はキーに対応する値を返す。エントリが存在しないか期限切れの場合はmissを返す。
// 期限切れエントリはこの時点で削除される。
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !e.expiresAt.IsZero() && e.expiresAt.Before(c.now()) {
		c.removeLocked(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put は値を格納する。ttlが0以下の場合はTTLなし。
// 新規キーで上限を超える場合は最古のエントリを破棄する。
func (c *Cache[K, V]) Put(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
		if c.maxEntries > 0 && len(c.order) > c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[key] = entry[V]{value: value, expiresAt: expiresAt}
}

// Remove はエントリを削除し、削除した値を返す。
// TTL超過済みのエントリも値として返す（呼び出し側が期限切れを区別できるように）。
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.removeLocked(key)
	return e.value, true
}

// GetOrFetch はキャッシュヒット時はその値を返し、ミス時はfetchを呼び出して
// 結果をfetchが返したTTLで格納する。
// fetchはロックの外で実行されるため、競合時に複数のfetchが並行実行されうるが、
// 結果の正しさには影響しない（last-writer-wins）。
func (c *Cache[K, V]) GetOrFetch(key K, fetch func() (V, time.Duration, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, ttl, err := fetch()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Put(key, v, ttl)
	return v, nil
}

// Len は現在のエントリ数を返す（期限切れ未回収のエントリを含む）。
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// removeLocked はロック保持中にエントリと挿入順を削除する。
func (c *Cache[K, V]) removeLocked(key K) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
