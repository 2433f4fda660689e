package pmtiles

import (
	"container/list"
	"sync/atomic"
)

// nextReaderID hands out an integer unique per opened reader, assigned
// at creation, so cache entries from different archives never collide.
var nextReaderID int64

// NewReaderID allocates the next process-unique reader id.
func NewReaderID() int64 { return atomic.AddInt64(&nextReaderID, 1) }

// CacheKey identifies one cached directory page: the reader it belongs
// to, plus the byte offset that page lives at (0 for the root).
type CacheKey struct {
	ReaderID int64
	Offset   uint64
}

type cacheEntry struct {
	key     CacheKey
	entries []Entry
	weight  int
}

// DirectoryCache is a weight-bounded LRU over parsed directory pages,
// keyed by (reader_id, offset) so two archives' pages never collide
//. Modeled on the single-goroutine channel-coordinator
// cache in the protomaps-style PMTiles server: a request/response
// channel pair serializes access instead of a mutex, so cache
// bookkeeping (the container/list LRU + size accounting) never races.
type DirectoryCache struct {
	maxWeight int
	gets      chan cacheGetReq
	puts      chan cachePutReq
}

type cacheGetReq struct {
	key  CacheKey
	resp chan ([]Entry)
}

type cachePutReq struct {
	key     CacheKey
	entries []Entry
}

// NewDirectoryCache starts the cache coordinator goroutine with the
// given weight bound, counted in directory-entry bytes (24 bytes/entry,
// matching the in-memory Entry representation).
func NewDirectoryCache(maxWeightBytes int) *DirectoryCache {
	c := &DirectoryCache{
		maxWeight: maxWeightBytes,
		gets:      make(chan cacheGetReq),
		puts:      make(chan cachePutReq),
	}
	go c.run()
	return c
}

func (c *DirectoryCache) run() {
	index := make(map[CacheKey]*list.Element)
	lru := list.New()
	total := 0

	for {
		select {
		case req := <-c.gets:
			if el, ok := index[req.key]; ok {
				lru.MoveToFront(el)
				req.resp <- el.Value.(*cacheEntry).entries
			} else {
				req.resp <- nil
			}
		case req := <-c.puts:
			if _, exists := index[req.key]; exists {
				continue
			}
			weight := len(req.entries) * 24
			el := lru.PushFront(&cacheEntry{key: req.key, entries: req.entries, weight: weight})
			index[req.key] = el
			total += weight
			for total > c.maxWeight && lru.Len() > 1 {
				back := lru.Back()
				if back == nil {
					break
				}
				ent := back.Value.(*cacheEntry)
				lru.Remove(back)
				delete(index, ent.key)
				total -= ent.weight
			}
		}
	}
}

// Get returns the cached directory page for key, or nil if absent.
func (c *DirectoryCache) Get(key CacheKey) []Entry {
	resp := make(chan []Entry, 1)
	c.gets <- cacheGetReq{key: key, resp: resp}
	return <-resp
}

// Put stores entries for key if not already cached, evicting the
// least-recently-used pages until back under the weight bound.
func (c *DirectoryCache) Put(key CacheKey, entries []Entry) {
	c.puts <- cachePutReq{key: key, entries: entries}
}
