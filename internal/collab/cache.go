package collab

// Cache holds the merged element set of every board with live activity.
// Each entry is a running fold of Merge over every Warm and Apply call since
// it was created. Tombstones are kept. Cache is not safe for concurrent use;
// Hub serializes access to it.
type Cache struct {
	entries map[string][]Element
}

// NewCache 빈 보드 캐시 생성
func NewCache() *Cache {
	return &Cache{entries: make(map[string][]Element)}
}

// Warm merges elements into the board's entry, creating it if absent.
func (c *Cache) Warm(boardID string, elements []Element) {
	c.entries[boardID] = Merge(c.entries[boardID], elements)
}

// Apply merges elements into the board's entry and returns the resulting
// snapshot.
func (c *Cache) Apply(boardID string, elements []Element) []Element {
	merged := Merge(c.entries[boardID], elements)
	c.entries[boardID] = merged
	return cloneElements(merged)
}

// Snapshot returns the board's merged elements, or nil when nothing is cached.
func (c *Cache) Snapshot(boardID string) []Element {
	return cloneElements(c.entries[boardID])
}

// Has reports whether the board has an entry.
func (c *Cache) Has(boardID string) bool {
	_, ok := c.entries[boardID]
	return ok
}

// Evict removes the board's entry.
func (c *Cache) Evict(boardID string) bool {
	if _, ok := c.entries[boardID]; !ok {
		return false
	}
	delete(c.entries, boardID)
	return true
}

// Len returns the number of cached boards.
func (c *Cache) Len() int {
	return len(c.entries)
}

func cloneElements(elements []Element) []Element {
	if elements == nil {
		return nil
	}
	out := make([]Element, len(elements))
	copy(out, elements)
	return out
}
