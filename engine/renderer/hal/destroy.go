package hal

// DestructionList records how to destroy native objects in the order they
// were created and destroys them in reverse. Objects that reference others
// (framebuffers → render passes, buffers → pools) are always created after
// what they reference, so reverse creation order is dependency order.
type DestructionList struct {
	entries []destroyEntry
}

type destroyEntry struct {
	name string
	fn   func()
}

// Push transfers ownership of one object to the list.
func (l *DestructionList) Push(name string, fn func()) {
	l.entries = append(l.entries, destroyEntry{name: name, fn: fn})
}

func (l *DestructionList) Len() int {
	return len(l.entries)
}

// Names returns the entries in the order Destroy will run them.
func (l *DestructionList) Names() []string {
	names := make([]string, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		names = append(names, l.entries[i].name)
	}
	return names
}

// Destroy runs every entry in reverse order and empties the list, so a
// second call destroys nothing.
func (l *DestructionList) Destroy() {
	entries := l.entries
	l.entries = nil
	for i := len(entries) - 1; i >= 0; i-- {
		entries[i].fn()
	}
}
