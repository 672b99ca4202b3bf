package scriptcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/conveyor/internal/logx"
)

const (
	defaultMaxEntries     = 128
	defaultMaxMemoryBytes = 64 << 20
	defaultTTL            = 60 * time.Minute
)

// Artifact is a compiled script artifact. The cache only needs its
// approximate in-memory footprint for budget accounting.
type Artifact interface {
	SizeBytes() int64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits             uint64
	Misses           uint64
	Puts             uint64
	Evictions        uint64
	DiskHits         uint64
	MemoryUsageBytes int64
}

// HitRate returns hits / (hits + misses), or zero before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config tunes a Cache.
type Config struct {
	// MaxEntries bounds the number of live memory entries. Defaults to 128.
	MaxEntries int
	// MaxMemoryBytes bounds the summed artifact sizes. Defaults to 64 MiB.
	MaxMemoryBytes int64
	// TTL expires entries after the given residence time. Defaults to 60m.
	TTL time.Duration
	// Dir enables the disk tier when non-empty.
	Dir string
	// Codec encodes and decodes artifacts for the disk tier. Required when
	// Dir is set.
	Codec Codec
	// Logger receives disk-tier diagnostics. Disk failures are logged and
	// swallowed; the disk tier is never a source of truth.
	Logger *logx.Logger
}

type entry struct {
	key        string
	artifact   Artifact
	insertedAt time.Time
	accessedAt time.Time
	accesses   uint64
	size       int64
	ttl        time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertedAt) > e.ttl
}

// Cache is a thread-safe, content-addressed store of compiled artifacts with
// strict LRU eviction, an entry-count bound, a memory-byte budget, per-entry
// TTL, and an optional disk tier consulted on memory misses.
type Cache struct {
	mu    sync.Mutex
	lru   *list.List // front = most recently used
	index map[string]*list.Element

	maxEntries int
	maxMemory  int64
	ttl        time.Duration
	usage      int64

	disk *diskTier
	log  *logx.Logger

	hits      uint64
	misses    uint64
	puts      uint64
	evictions uint64
	diskHits  uint64
}

// New creates a Cache from cfg, applying defaults for zero values.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.MaxMemoryBytes <= 0 {
		cfg.MaxMemoryBytes = defaultMaxMemoryBytes
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}

	c := &Cache{
		lru:        list.New(),
		index:      make(map[string]*list.Element),
		maxEntries: cfg.MaxEntries,
		maxMemory:  cfg.MaxMemoryBytes,
		ttl:        cfg.TTL,
		log:        cfg.Logger,
	}
	if cfg.Dir != "" && cfg.Codec != nil {
		c.disk = newDiskTier(cfg.Dir, cfg.Codec, cfg.Logger)
	}
	return c
}

// Get returns the artifact for fp, or nil when absent or expired. Expired
// entries are removed during lookup. A memory miss consults the disk tier and
// promotes a decodable entry.
func (c *Cache) Get(ctx context.Context, fp Fingerprint) (Artifact, bool) {
	now := time.Now()

	c.mu.Lock()
	if el, ok := c.index[fp.Key()]; ok {
		e := el.Value.(*entry)
		if e.expired(now) {
			c.removeElement(el)
			c.evictions++
		} else {
			e.accessedAt = now
			e.accesses++
			c.lru.MoveToFront(el)
			c.hits++
			c.mu.Unlock()
			return e.artifact, true
		}
	}
	c.mu.Unlock()

	if c.disk != nil {
		if artifact, ok := c.disk.read(ctx, fp); ok {
			c.mu.Lock()
			c.diskHits++
			c.hits++
			c.insertLocked(fp, artifact, now)
			c.mu.Unlock()
			return artifact, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Put stores an artifact under fp, evicting from the LRU tail until both the
// entry-count and the memory bounds hold, and persists to the disk tier on a
// best-effort basis.
func (c *Cache) Put(ctx context.Context, fp Fingerprint, artifact Artifact) {
	if artifact == nil {
		return
	}
	now := time.Now()

	c.mu.Lock()
	c.puts++
	c.insertLocked(fp, artifact, now)
	c.mu.Unlock()

	if c.disk != nil {
		c.disk.write(ctx, fp, artifact)
	}
}

// Clear drops every memory entry. The disk tier is untouched.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Init()
	c.index = make(map[string]*list.Element)
	c.usage = 0
}

// Size returns the number of live memory entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a counter snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:             c.hits,
		Misses:           c.misses,
		Puts:             c.puts,
		Evictions:        c.evictions,
		DiskHits:         c.diskHits,
		MemoryUsageBytes: c.usage,
	}
}

func (c *Cache) insertLocked(fp Fingerprint, artifact Artifact, now time.Time) {
	key := fp.Key()
	size := artifact.SizeBytes()

	if el, ok := c.index[key]; ok {
		c.removeElement(el)
	}

	// An artifact larger than the whole budget is never held in memory.
	if size > c.maxMemory {
		return
	}

	e := &entry{
		key:        key,
		artifact:   artifact,
		insertedAt: now,
		accessedAt: now,
		size:       size,
		ttl:        c.ttl,
	}
	c.index[key] = c.lru.PushFront(e)
	c.usage += size

	for c.lru.Len() > c.maxEntries || c.usage > c.maxMemory {
		tail := c.lru.Back()
		if tail == nil {
			break
		}
		c.removeElement(tail)
		c.evictions++
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.index, e.key)
	c.usage -= e.size
}
