package display

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/testutil"
)

type recordingSink struct {
	mu   sync.Mutex
	cmds []protocol.Command
}

func (s *recordingSink) Send(_ context.Context, cmd protocol.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return nil
}

func (s *recordingSink) received() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Command(nil), s.cmds...)
}

func startViewer(t *testing.T, opts ViewerOptions) (*Viewer, *websocket.Conn, Hello) {
	t.Helper()
	v, err := NewViewer(opts)
	require.NoError(t, err)
	srv := httptest.NewServer(v)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		_ = v.Close(context.Background())
		srv.Close()
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	var hello Hello
	require.NoError(t, json.Unmarshal(data, &hello))
	return v, conn, hello
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	frame, err := ReadFrame(data)
	require.NoError(t, err)
	return frame
}

func TestViewerStreamsFrames(t *testing.T) {
	v, conn, hello := startViewer(t, ViewerOptions{Generation: func() uint32 { return 7 }})
	assert.Equal(t, "hello", hello.Type)
	assert.Equal(t, "raw", hello.Encoding)
	assert.False(t, hello.Commands)
	assert.NotEmpty(t, hello.ID)

	pixels := testutil.NewPixelBuilder(3, 2).Unique().Bytes()
	require.NoError(t, v.Present(pixels, 3, 2))

	frame := readFrame(t, conn)
	assert.Equal(t, uint64(1), frame.Sequence)
	assert.Equal(t, uint32(7), frame.Generation)
	assert.Equal(t, pixels, frame.Pixels)
	assert.Equal(t, 1, v.Stats().Clients)
}

func TestViewerCompressesFrames(t *testing.T) {
	v, conn, hello := startViewer(t, ViewerOptions{Compress: true})
	assert.Equal(t, "brotli", hello.Encoding)

	pixels := testutil.NewPixelBuilder(16, 16).Fill([4]byte{5, 6, 7, 255}).Bytes()
	require.NoError(t, v.Present(pixels, 16, 16))

	frame := readFrame(t, conn)
	assert.Equal(t, 16, frame.Width)
	assert.Equal(t, pixels, frame.Pixels)
}

func TestViewerForwardsRemoteCommands(t *testing.T) {
	sink := &recordingSink{}
	v, conn, hello := startViewer(t, ViewerOptions{Sink: sink})
	assert.True(t, hello.Commands)

	for _, msg := range []string{
		`{"action":"changeSpeed","payload":{"newSpeedPercentage":40}}`,
		`{"action":"canvasInit"}`,
		`{"action":"bogus"}`,
		`{"action":"changeStep"}`,
		`not json`,
		`{"action":"start"}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}

	require.Eventually(t, func() bool {
		s := v.Stats()
		return s.Commands+s.Rejected == 6
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []protocol.Command{protocol.ChangeSpeed(40), protocol.Start()}, sink.received())
	assert.Equal(t, uint64(4), v.Stats().Rejected)
}

func TestViewerRateLimitsCommands(t *testing.T) {
	sink := &recordingSink{}
	v, conn, _ := startViewer(t, ViewerOptions{Sink: sink, Rate: 1, Burst: 1})

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"step"}`)))
	}
	require.Eventually(t, func() bool {
		s := v.Stats()
		return s.Commands+s.Rejected == 5
	}, 2*time.Second, 10*time.Millisecond)

	assert.Less(t, len(sink.received()), 5)
	assert.NotZero(t, v.Stats().Rejected)
}

func TestViewerCloseDisconnectsClients(t *testing.T) {
	v, conn, _ := startViewer(t, ViewerOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, v.Close(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.ErrorIs(t, v.Present(make([]byte, 4), 1, 1), ErrViewerClosed)
}

func TestViewerWithoutClientsSkipsEncoding(t *testing.T) {
	v, err := NewViewer(ViewerOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Present(make([]byte, 4), 1, 1))
	assert.Zero(t, v.Stats().Frames)
}
