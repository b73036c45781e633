package vulkan

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/gfxring/engine/core"
)

// table maps the opaque uint64 handles handed out through hal onto the
// native objects behind them. Zero is never handed out.
type table[T any] struct {
	mu   sync.RWMutex
	next uint64
	objs map[uint64]T
}

func newTable[T any]() *table[T] {
	return &table[T]{objs: make(map[uint64]T)}
}

func (t *table[T]) add(v T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.objs[t.next] = v
	return t.next
}

func (t *table[T]) get(h uint64) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.objs[h]
	return v, ok
}

// lookup is get with an error wrapping core.ErrInvalidHandle.
func (t *table[T]) lookup(kind string, h uint64) (T, error) {
	v, ok := t.get(h)
	if !ok {
		return v, fmt.Errorf("%s %d: %w", kind, h, core.ErrInvalidHandle)
	}
	return v, nil
}

func (t *table[T]) remove(h uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.objs[h]
	delete(t.objs, h)
	return v, ok
}

func (t *table[T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.objs)
}
