package sab

import (
	"sync/atomic"
	"unsafe"
)

// InMemoryProvider stores region data in a Go heap slice.
type InMemoryProvider struct {
	wordAccess
}

// NewInMemoryProvider creates an in-memory provider with the requested size.
func NewInMemoryProvider(size uint32) *InMemoryProvider {
	return &InMemoryProvider{wordAccess{data: make([]byte, size)}}
}

func (m *InMemoryProvider) Close() error {
	m.data = nil
	return nil
}

// ExternalProvider wraps memory owned by someone else, such as a wasm
// instance's linear memory. Close detaches without freeing.
type ExternalProvider struct {
	wordAccess
	release func() error
}

// NewExternalProvider wraps data. release, if non-nil, runs once on Close.
func NewExternalProvider(data []byte, release func() error) *ExternalProvider {
	return &ExternalProvider{wordAccess: wordAccess{data: data}, release: release}
}

func (e *ExternalProvider) Close() error {
	e.data = nil
	if e.release == nil {
		return nil
	}
	fn := e.release
	e.release = nil
	return fn()
}

// wordAt returns the aligned 32-bit word at offset.
func wordAt(data []byte, offset uint32) (*atomic.Uint32, error) {
	if uint64(offset)+4 > uint64(len(data)) {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return (*atomic.Uint32)(unsafe.Pointer(&data[offset])), nil
}
