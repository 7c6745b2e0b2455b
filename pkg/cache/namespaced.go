package cache

import (
	"container/heap"
	"hash/fnv"
	"log"
	"sync"
	"time"
)

const nsShards = 16

// DefaultTTLs mirrors spec §4.4's TTL table in seconds.
var DefaultTTLs = map[string]time.Duration{
	"tickers":        10 * time.Second,
	"ohlcv_3m":       300 * time.Second,
	"ohlcv_4h":       3600 * time.Second,
	"orderbook":      60 * time.Second,
	"ohlcv":          600 * time.Second,
	"markets":        3600 * time.Second,
	"open_interests": 600 * time.Second,
	"coin_selection": 600 * time.Second,
	// backtest_ohlcv: 7-day TTL, write-once (Open Question 3 decision in DESIGN.md).
	"backtest_ohlcv": 7 * 24 * time.Hour,
}

// writeOnceNamespaces names namespaces where a second Set on a still-live
// key is rejected rather than overwritten.
var writeOnceNamespaces = map[string]bool{
	"backtest_ohlcv": true,
}

type nsEntry struct {
	namespace string
	key       string
	payload   []byte
	expiresAt time.Time
	heapIndex int
}

// expiryHeap is a min-heap ordered by expiresAt, giving sweep a
// sublinear early-out when nothing has expired (spec §4.4 invariant).
type expiryHeap []*nsEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].heapIndex = i; h[j].heapIndex = j }
func (h *expiryHeap) Push(x any) {
	e := x.(*nsEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type nsShard struct {
	mu      sync.Mutex
	items   map[string]*nsEntry
	expiry  expiryHeap
}

// NamespacedCache maps (namespace, key) -> (payload, expires_at), per
// spec §3 CacheEntry / §4.4 Cache. Generalizes ShardedPriceCache's
// FNV-sharded, per-shard-mutex shape to a namespaced TTL table.
type NamespacedCache struct {
	shards [nsShards]*nsShard
	ttls   map[string]time.Duration
}

// NewNamespacedCache builds a cache using DefaultTTLs, optionally
// overridden by the config store (spec §4.4: "TTLs read from the config
// store").
func NewNamespacedCache(overrides map[string]time.Duration) *NamespacedCache {
	ttls := make(map[string]time.Duration, len(DefaultTTLs))
	for k, v := range DefaultTTLs {
		ttls[k] = v
	}
	for k, v := range overrides {
		ttls[k] = v
	}
	c := &NamespacedCache{ttls: ttls}
	for i := range c.shards {
		c.shards[i] = &nsShard{items: make(map[string]*nsEntry)}
	}
	return c
}

func shardKey(namespace, key string) string { return namespace + "\x00" + key }

func (c *NamespacedCache) shardFor(namespace, key string) *nsShard {
	h := fnv.New32a()
	h.Write([]byte(shardKey(namespace, key)))
	return c.shards[h.Sum32()%nsShards]
}

// TTL returns the configured TTL for a namespace, or zero if unknown.
func (c *NamespacedCache) TTL(namespace string) time.Duration {
	return c.ttls[namespace]
}

// Get returns the payload for (namespace, key) if present and not
// expired as of now; sweeps the entry on a stale hit (P4: reads never
// return an already-expired entry).
func (c *NamespacedCache) Get(namespace, key string) ([]byte, bool) {
	shard := c.shardFor(namespace, key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.items[shardKey(namespace, key)]
	if !ok {
		return nil, false
	}
	if !time.Now().Before(e.expiresAt) {
		shard.remove(e)
		return nil, false
	}
	return e.payload, true
}

// Set stores payload under (namespace, key) with the namespace's
// configured TTL (or an explicit ttl if > 0).
func (c *NamespacedCache) Set(namespace, key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttls[namespace]
	}
	shard := c.shardFor(namespace, key)
	sk := shardKey(namespace, key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if writeOnceNamespaces[namespace] {
		if existing, ok := shard.items[sk]; ok && time.Now().Before(existing.expiresAt) {
			log.Printf("cache: rejecting overwrite of write-once namespace %q key %q (still live)", namespace, key)
			return
		}
	}

	if existing, ok := shard.items[sk]; ok {
		existing.payload = payload
		existing.expiresAt = time.Now().Add(ttl)
		heap.Fix(&shard.expiry, existing.heapIndex)
		return
	}

	e := &nsEntry{namespace: namespace, key: key, payload: payload, expiresAt: time.Now().Add(ttl)}
	shard.items[sk] = e
	heap.Push(&shard.expiry, e)
}

// Delete evicts (namespace, key) unconditionally.
func (c *NamespacedCache) Delete(namespace, key string) {
	shard := c.shardFor(namespace, key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if e, ok := shard.items[shardKey(namespace, key)]; ok {
		shard.remove(e)
	}
}

func (s *nsShard) remove(e *nsEntry) {
	delete(s.items, shardKey(e.namespace, e.key))
	if e.heapIndex >= 0 && e.heapIndex < len(s.expiry) && s.expiry[e.heapIndex] == e {
		heap.Remove(&s.expiry, e.heapIndex)
	}
}

// SweepExpired evicts every entry whose TTL has elapsed and returns the
// count removed. Because each shard's heap is ordered by expiry, a shard
// with no expired entries costs a single peek (sublinear in map size).
func (c *NamespacedCache) SweepExpired() int {
	now := time.Now()
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for len(shard.expiry) > 0 && !now.Before(shard.expiry[0].expiresAt) {
			e := heap.Pop(&shard.expiry).(*nsEntry)
			delete(shard.items, shardKey(e.namespace, e.key))
			removed++
		}
		shard.mu.Unlock()
	}
	return removed
}

// Len returns the total number of live entries across all shards.
func (c *NamespacedCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		total += len(shard.items)
		shard.mu.Unlock()
	}
	return total
}
