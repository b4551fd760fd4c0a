package shared_region

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/gilbert_v1/internal/network"
	"github.com/nmxmxh/gilbert_v1/kernel/display"
	"github.com/nmxmxh/gilbert_v1/kernel/ingest"
	"github.com/nmxmxh/gilbert_v1/kernel/threads"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/testutil"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

// TestControllerViewerAndControlLink drives one controller from a file
// seed, a browser viewer and a remote libp2p peer at the same time.
func TestControllerViewerAndControlLink(t *testing.T) {
	const w, h = 32, 32
	ctrl := boot(t, "native", w, h)

	dir := t.TempDir()
	src := filepath.Join(dir, "seed.png")
	require.NoError(t, os.WriteFile(src, testutil.NewPixelBuilder(w, h).Unique().PNG(), 0o644))
	res, err := ingest.LoadFile(context.Background(), ctrl, src)
	require.NoError(t, err)
	assert.Equal(t, "png", res.Format)

	// Surfaces
	viewer, err := display.NewViewer(display.ViewerOptions{
		Sink:       ctrl.Dispatcher(),
		Compress:   true,
		Generation: func() uint32 { return ctrl.RegionStats().Generation },
		Logger:     utils.NopLogger(),
	})
	require.NoError(t, err)
	mux := http.NewServeMux()
	mux.Handle("/ws", viewer)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = viewer.Close(context.Background()) })

	snapDir := filepath.Join(dir, "frames")
	snaps, err := display.NewSnapshots(snapDir, 1, utils.NopLogger())
	require.NoError(t, err)
	capture := &display.Capture{}
	surfaces := display.Multi{
		display.Guard(viewer, display.GuardOptions{Name: "viewer"}),
		display.Guard(snaps, display.GuardOptions{Name: "snapshots"}),
		capture,
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, hello, err := conn.ReadMessage()
	require.NoError(t, err)
	var hi display.Hello
	require.NoError(t, json.Unmarshal(hello, &hi))
	assert.True(t, hi.Commands)
	assert.Equal(t, "brotli", hi.Encoding)

	// Control link
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })
	serverHost, err := mn.GenPeer()
	require.NoError(t, err)
	clientHost, err := mn.GenPeer()
	require.NoError(t, err)
	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())
	node, err := network.AttachControl(serverHost, network.NodeOptions{Sink: ctrl.Dispatcher(), Logger: utils.NopLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })

	require.NoError(t, ctrl.Send(context.Background(), protocol.CanvasInit(surfaces)))

	// The remote peer tunes the step; the browser starts the loop.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ack, err := network.NewClient(clientHost).Send(ctx, serverHost.ID(),
		protocol.ChangeStep(50), protocol.ChangeSpeed(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ack.Accepted)

	start, err := protocol.EncodeJSON(protocol.Start())
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, start))

	require.Eventually(t, func() bool {
		return ctrl.WorkerStats().State == threads.WorkerRunning && ctrl.PainterStats().Running
	}, 5*time.Second, 10*time.Millisecond)

	var frame protocol.Frame
	require.Eventually(t, func() bool {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		frame, err = display.ReadFrame(msg)
		return err == nil && frame.Generation > 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, w, frame.Width)
	assert.Equal(t, h, frame.Height)
	assert.Len(t, frame.Pixels, w*h*4)

	stop, err := protocol.EncodeJSON(protocol.Stop())
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, stop))
	require.Eventually(t, func() bool {
		return ctrl.WorkerStats().State == threads.WorkerStopped
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 256, ctrl.WorkerStats().LastShift)
	assert.NotZero(t, capture.Frames())
	assert.NotZero(t, snaps.Written())

	last, err := os.ReadFile(snaps.Last())
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(last))
	require.NoError(t, err)
	assert.Equal(t, w, img.Bounds().Dx())

	// Local-only actions never cross the link.
	ack, err = network.NewClient(clientHost).Send(ctx, serverHost.ID(), protocol.LoadImage())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ack.Rejected)

	require.NoError(t, ctrl.Shutdown(context.Background()))
	assert.Empty(t, ctrl.Binding().Sample(nil))
}
