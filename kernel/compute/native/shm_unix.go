//go:build unix

package native

import "github.com/nmxmxh/gilbert_v1/kernel/threads/sab"

func openShared(path string, size uint32) (sab.MemoryProvider, error) {
	if path == "" {
		path = sab.DefaultSharedMemoryPath()
	}
	return sab.OpenSharedMemory(sab.SharedMemoryOptions{
		Path:          path,
		Size:          size,
		Create:        true,
		RemoveOnClose: true,
	})
}
