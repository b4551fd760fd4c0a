//go:build !unix

package native

import (
	"errors"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/sab"
)

func openShared(string, uint32) (sab.MemoryProvider, error) {
	return nil, errors.New("shared memory regions need a unix host")
}
