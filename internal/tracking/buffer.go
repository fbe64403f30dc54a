package tracking

import "sync"

// Buffer holds samples awaiting upload. Appends and the take-all swap are
// atomic with respect to each other, so no sample can land in two batches.
type Buffer struct {
	mu      sync.Mutex
	samples []Sample
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Append(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, s)
}

// TakeAll swaps the current contents for an empty buffer and returns them in
// capture order.
func (b *Buffer) TakeAll() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	taken := b.samples
	b.samples = nil
	return taken
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}
