package entitystore

import (
	"sync"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// unknownBuffer holds entity registrations whose parent has not been seen
// yet, bounded to avoid unbounded memory growth from a flood of orphaned
// entities (spec §4.D). Oldest entries are dropped once the bound is hit.
type unknownBuffer struct {
	mu    sync.Mutex
	bound int
	items []domain.Entity
}

func newUnknownBuffer(bound int) *unknownBuffer {
	if bound <= 0 {
		bound = 100
	}
	return &unknownBuffer{bound: bound}
}

func (b *unknownBuffer) push(e domain.Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.bound {
		b.items = b.items[1:]
	}
	b.items = append(b.items, e)
}

func (b *unknownBuffer) drain() []domain.Entity {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}
