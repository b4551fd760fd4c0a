package foundation

import (
	"sync/atomic"
	"unsafe"
)

// EnhancedEpoch is a change counter living in shared memory.
// Writers call Increment; each reader keeps its own last-seen value and
// polls with Observe.
type EnhancedEpoch struct {
	index     uint8
	words     []byte
	lastValue uint32
}

// NewEnhancedEpoch creates an epoch over the index-th 32-bit word of words.
func NewEnhancedEpoch(words []byte, index uint8) *EnhancedEpoch {
	ee := &EnhancedEpoch{index: index, words: words}
	ee.lastValue = ee.GetValue()
	return ee
}

// Reader returns an independent observer of the same counter.
func (ee *EnhancedEpoch) Reader() *EnhancedEpoch {
	return NewEnhancedEpoch(ee.words, ee.index)
}

func (ee *EnhancedEpoch) word() *uint32 {
	return (*uint32)(unsafe.Pointer(&ee.words[uint32(ee.index)*4]))
}

// GetValue returns the current counter.
func (ee *EnhancedEpoch) GetValue() uint32 {
	return atomic.LoadUint32(ee.word())
}

// Observe records the current value as seen and reports whether it moved.
func (ee *EnhancedEpoch) Observe() (uint32, bool) {
	current := ee.GetValue()
	changed := current != ee.lastValue
	ee.lastValue = current
	return current, changed
}

// Increment bumps the counter.
func (ee *EnhancedEpoch) Increment() uint32 {
	return atomic.AddUint32(ee.word(), 1)
}
