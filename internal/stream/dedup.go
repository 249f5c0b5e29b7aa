package stream

// Deduplicator is a bounded seen-ID set used to suppress repeats from
// overlapping live polls. When the set exceeds maxSize it is trimmed to
// the most recently seen trimSize entries. Insertion order is tracked so
// trimming always evicts the oldest IDs.
//
// Not safe for concurrent use; each subscription owns exactly one.
type Deduplicator struct {
	maxSize  int
	trimSize int
	seen     map[string]struct{}
	order    []string
}

const (
	// DefaultDedupMax is the overflow threshold for the seen-ID set.
	DefaultDedupMax = 1000

	// DefaultDedupTrim is the number of most-recent IDs kept after a trim.
	DefaultDedupTrim = 500
)

// NewDeduplicator creates a deduplicator with the given bounds. Non-positive
// or inconsistent bounds fall back to the defaults.
func NewDeduplicator(maxSize, trimSize int) *Deduplicator {
	if maxSize <= 0 {
		maxSize = DefaultDedupMax
	}
	if trimSize <= 0 || trimSize > maxSize {
		trimSize = DefaultDedupTrim
		if trimSize > maxSize {
			trimSize = maxSize
		}
	}
	return &Deduplicator{
		maxSize:  maxSize,
		trimSize: trimSize,
		seen:     make(map[string]struct{}),
	}
}

// Seen reports whether the ID has already been delivered.
func (d *Deduplicator) Seen(id string) bool {
	_, ok := d.seen[id]
	return ok
}

// Add records an ID as delivered. Returns false if the ID was already
// present (duplicate), true if newly added.
func (d *Deduplicator) Add(id string) bool {
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)

	if len(d.order) > d.maxSize {
		d.trim()
	}
	return true
}

// Len returns the current number of tracked IDs.
func (d *Deduplicator) Len() int {
	return len(d.seen)
}

// trim drops the oldest entries, keeping the most recent trimSize IDs.
func (d *Deduplicator) trim() {
	cut := len(d.order) - d.trimSize
	for _, id := range d.order[:cut] {
		delete(d.seen, id)
	}
	remaining := make([]string, d.trimSize)
	copy(remaining, d.order[cut:])
	d.order = remaining
}
