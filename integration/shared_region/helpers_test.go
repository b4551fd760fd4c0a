package shared_region

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/gilbert_v1/kernel"
	"github.com/nmxmxh/gilbert_v1/kernel/compute/gilbert"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

var backends = []string{"native", "wasm"}

func boot(t testing.TB, backend string, width, height int, opts ...kernel.Option) *kernel.Controller {
	t.Helper()
	cfg := kernel.DefaultConfig()
	cfg.Backend = backend
	cfg.Width, cfg.Height = width, height
	cfg.HandshakeTimeout = 5 * time.Second

	ctrl, err := kernel.NewController(cfg, append([]kernel.Option{kernel.WithLogger(utils.NopLogger())}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, ctrl.Boot(context.Background()))
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })
	return ctrl
}

func flush(t testing.TB, ctrl *kernel.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Flush(ctx))
}

func pattern(width, height int) []byte {
	px := make([]byte, width*height*4)
	for i := 0; i < width*height; i++ {
		px[i*4] = byte(i)
		px[i*4+1] = byte(i >> 8)
		px[i*4+2] = byte(i * 7)
		px[i*4+3] = 0xFF
	}
	return px
}

// rotated computes the expected plane after moving every pixel k curve
// positions back, done independently of the backends.
func rotated(pixels []byte, width, height, k int) []byte {
	order := gilbert.Order(width, height)
	n := len(order)
	k %= n
	out := make([]byte, len(pixels))
	for i := 0; i < n; i++ {
		dst := order[i]
		src := order[(i+k)%n]
		copy(out[dst*4:dst*4+4], pixels[src*4:src*4+4])
	}
	return out
}
