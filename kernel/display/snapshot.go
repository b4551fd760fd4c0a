package display

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

// Snapshots writes every Nth presented frame to dir as a PNG.
type Snapshots struct {
	dir    string
	every  uint64
	logger *utils.Logger

	mu      sync.Mutex
	frames  uint64
	written uint64
	last    string
}

// NewSnapshots creates dir if needed. every < 1 means every frame.
func NewSnapshots(dir string, every int, logger *utils.Logger) (*Snapshots, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, utils.WrapError(err, "create snapshot dir")
	}
	if every < 1 {
		every = 1
	}
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Snapshots{dir: dir, every: uint64(every), logger: logger}, nil
}

func (s *Snapshots) Present(pixels []byte, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	if s.frames%s.every != 0 {
		return nil
	}

	name := filepath.Join(s.dir, fmt.Sprintf("frame-%06d.png", s.frames))
	img := &image.NRGBA{Pix: pixels, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
	if err := writePNG(name, img); err != nil {
		return err
	}
	s.written++
	s.last = name
	s.logger.Debug("Snapshot written", utils.String("path", name))
	return nil
}

// Written counts files written.
func (s *Snapshots) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Last is the most recent snapshot path.
func (s *Snapshots) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// writePNG writes through a temp file so readers never see a partial image.
func writePNG(path string, img image.Image) error {
	tmp := path + ".tmp"
	f, err := os.Create(filepath.Clean(tmp))
	if err != nil {
		return fmt.Errorf("snapshot: create file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: encode PNG: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
