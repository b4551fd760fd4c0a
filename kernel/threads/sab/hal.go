package sab

import "errors"

// MemoryProvider abstracts the storage behind a Region.
// Implementations may be backed by mmap, a wasm linear memory, or a heap slice.
type MemoryProvider interface {
	Size() uint32
	ReadAt(offset uint32, dest []byte) error
	WriteAt(offset uint32, src []byte) error
	AtomicLoad32(offset uint32) (uint32, error)
	AtomicStore32(offset uint32, val uint32) error
	AtomicAdd32(offset uint32, delta uint32) (uint32, error)
	// Bytes exposes the backing memory without copying. Both sides of a
	// handshake see the same slice for the same region.
	Bytes() []byte
	Close() error
}

var (
	ErrOutOfBounds  = errors.New("offset out of bounds")
	ErrMisaligned   = errors.New("offset is not 4-byte aligned")
	ErrReleased     = errors.New("region has been released")
	ErrAccessDenied = errors.New("region access denied")
)

// wordAccess implements the bounds-checked half of MemoryProvider over a slice.
type wordAccess struct {
	data []byte
}

func (w *wordAccess) Size() uint32 {
	return uint32(len(w.data))
}

func (w *wordAccess) Bytes() []byte {
	return w.data
}

func (w *wordAccess) ReadAt(offset uint32, dest []byte) error {
	if uint64(offset)+uint64(len(dest)) > uint64(len(w.data)) {
		return ErrOutOfBounds
	}
	copy(dest, w.data[offset:])
	return nil
}

func (w *wordAccess) WriteAt(offset uint32, src []byte) error {
	if uint64(offset)+uint64(len(src)) > uint64(len(w.data)) {
		return ErrOutOfBounds
	}
	copy(w.data[offset:], src)
	return nil
}

func (w *wordAccess) AtomicLoad32(offset uint32) (uint32, error) {
	ptr, err := wordAt(w.data, offset)
	if err != nil {
		return 0, err
	}
	return ptr.Load(), nil
}

func (w *wordAccess) AtomicStore32(offset uint32, val uint32) error {
	ptr, err := wordAt(w.data, offset)
	if err != nil {
		return err
	}
	ptr.Store(val)
	return nil
}

func (w *wordAccess) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	ptr, err := wordAt(w.data, offset)
	if err != nil {
		return 0, err
	}
	return ptr.Add(delta), nil
}
