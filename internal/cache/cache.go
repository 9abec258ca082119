// Package cache holds the bounded, in-memory file cache shared by every
// connection of a server. Entries live in a fixed number of slots that are
// refilled in round-robin order: a new name always lands in the slot under
// the write cursor, whatever that slot held and however recently it was
// read. A name that is already cached is overwritten in place and never
// takes a second slot.
package cache

import (
	"sync"
	"sync/atomic"
)

// Entry is one cached file. Content returned by Lookup is shared with the
// cache and must be treated as read-only.
type Entry struct {
	Name    string
	Content []byte
	Size    int64
	Digest  string
}

// PutResult describes where Put placed an entry.
type PutResult struct {
	Slot        int
	Overwritten bool
	// Evicted is the name previously held by Slot, empty if the slot was free
	// or the put overwrote the same name.
	Evicted string
}

// Stats are cumulative counters since construction.
type Stats struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Inserts    uint64 `json:"inserts"`
	Overwrites uint64 `json:"overwrites"`
	Evictions  uint64 `json:"evictions"`
}

// SlotInfo is the metadata of one occupied slot, without content.
type SlotInfo struct {
	Slot   int    `json:"slot"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

type slot struct {
	entry Entry
	used  bool
}

// Cache is safe for concurrent use. Lookup and Put are each a single
// critical section, so no caller observes a half-written slot and two
// concurrent inserts never target the same cursor position.
type Cache struct {
	mu    sync.RWMutex
	slots []slot
	index map[string]int
	next  int

	hits       atomic.Uint64
	misses     atomic.Uint64
	inserts    atomic.Uint64
	overwrites atomic.Uint64
	evictions  atomic.Uint64
}

// New returns a cache with capacity slots. A capacity of zero or less
// yields a disabled cache: Put is a no-op and Lookup always misses.
func New(capacity int) *Cache {
	if capacity < 0 {
		capacity = 0
	}
	return &Cache{
		slots: make([]slot, capacity),
		index: make(map[string]int, capacity),
	}
}

// Capacity returns the fixed number of slots.
func (c *Cache) Capacity() int {
	if c == nil {
		return 0
	}
	return len(c.slots)
}

// Enabled reports whether the cache can hold anything.
func (c *Cache) Enabled() bool {
	return c.Capacity() > 0
}

// Len returns the number of occupied slots.
func (c *Cache) Len() int {
	if !c.Enabled() {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Lookup returns the entry cached under the exact name.
func (c *Cache) Lookup(name string) (Entry, bool) {
	if !c.Enabled() {
		if c != nil {
			c.misses.Add(1)
		}
		return Entry{}, false
	}

	c.mu.RLock()
	idx, ok := c.index[name]
	var entry Entry
	if ok {
		entry = c.slots[idx].entry
	}
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return entry, true
}

// Put stores a copy of e. Size is taken from len(e.Content).
func (c *Cache) Put(e Entry) PutResult {
	if !c.Enabled() {
		return PutResult{Slot: -1}
	}

	stored := Entry{
		Name:    e.Name,
		Content: append([]byte(nil), e.Content...),
		Size:    int64(len(e.Content)),
		Digest:  e.Digest,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.index[e.Name]; ok {
		c.slots[idx].entry = stored
		c.overwrites.Add(1)
		return PutResult{Slot: idx, Overwritten: true}
	}

	idx := c.next
	c.next = (c.next + 1) % len(c.slots)

	result := PutResult{Slot: idx}
	if old := c.slots[idx]; old.used {
		delete(c.index, old.entry.Name)
		result.Evicted = old.entry.Name
		c.evictions.Add(1)
	}
	c.slots[idx] = slot{entry: stored, used: true}
	c.index[e.Name] = idx
	c.inserts.Add(1)
	return result
}

// Snapshot returns the write cursor and the metadata of occupied slots in
// slot order.
func (c *Cache) Snapshot() (next int, slots []SlotInfo) {
	if !c.Enabled() {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	slots = make([]SlotInfo, 0, len(c.index))
	for i, s := range c.slots {
		if !s.used {
			continue
		}
		slots = append(slots, SlotInfo{
			Slot:   i,
			Name:   s.entry.Name,
			Size:   s.entry.Size,
			Digest: s.entry.Digest,
		})
	}
	return c.next, slots
}

// Stats returns the cumulative counters.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Inserts:    c.inserts.Load(),
		Overwrites: c.overwrites.Load(),
		Evictions:  c.evictions.Load(),
	}
}
