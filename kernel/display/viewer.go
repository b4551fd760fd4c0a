package display

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

var ErrViewerClosed = errors.New("viewer closed")

// CommandSink accepts commands from remote viewers. The controller
// implements it.
type CommandSink interface {
	Send(ctx context.Context, cmd protocol.Command) error
}

// ViewerOptions configures a Viewer.
type ViewerOptions struct {
	// Sink receives commands typed into the browser. Nil makes the viewer
	// read-only.
	Sink CommandSink
	// Compress brotli-packs frame pixels.
	Compress bool
	// Rate is the number of commands per second each viewer may send;
	// zero disables limiting.
	Rate  int
	Burst int
	// Generation, if set, stamps frames with the shared generation counter.
	Generation   func() uint32
	WriteTimeout time.Duration
	Logger       *utils.Logger
}

// ViewerStats is a point-in-time snapshot.
type ViewerStats struct {
	Clients  int
	Frames   uint64
	Dropped  uint64
	Commands uint64
	Rejected uint64
}

// Hello is the first (text) message a viewer receives.
type Hello struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Encoding string `json:"encoding"`
	Commands bool   `json:"commands"`
}

// Viewer streams frames to browsers over websockets and forwards their
// JSON commands to a CommandSink. It is both a Surface and an http.Handler.
type Viewer struct {
	opts     ViewerOptions
	logger   *utils.Logger
	upgrader websocket.Upgrader
	limiter  *limiter.TokenBucket

	mu      sync.Mutex
	clients map[string]*viewerClient
	closed  bool
	wg      sync.WaitGroup

	sequence atomic.Uint64
	frames   atomic.Uint64
	dropped  atomic.Uint64
	commands atomic.Uint64
	rejected atomic.Uint64
}

type viewerClient struct {
	id     string
	conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *viewerClient) close() {
	c.once.Do(func() { close(c.done) })
}

// NewViewer creates a viewer with no clients.
func NewViewer(opts ViewerOptions) (*Viewer, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}

	v := &Viewer{
		opts:    opts,
		logger:  opts.Logger,
		clients: make(map[string]*viewerClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = opts.Rate
		}
		tb, err := limiter.NewTokenBucket(
			limiter.Config{
				Rate:     int64(opts.Rate),
				Duration: time.Second,
				Burst:    int64(burst),
			},
			store.NewMemoryStore(time.Minute),
		)
		if err != nil {
			return nil, utils.WrapError(err, "viewer rate limiter")
		}
		v.limiter = tb
	}
	return v, nil
}

// Present encodes the frame once and offers it to every client. A client
// that has not sent its previous frame yet gets the newer one instead.
func (v *Viewer) Present(pixels []byte, width, height int) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewerClosed
	}
	clients := make([]*viewerClient, 0, len(v.clients))
	for _, c := range v.clients {
		clients = append(clients, c)
	}
	v.mu.Unlock()

	if len(clients) == 0 {
		return nil
	}

	frame := protocol.Frame{
		Sequence: v.sequence.Add(1),
		Width:    width,
		Height:   height,
		Pixels:   pixels,
	}
	if v.opts.Generation != nil {
		frame.Generation = v.opts.Generation()
	}
	if v.opts.Compress {
		packed, err := Compress(pixels)
		if err != nil {
			return err
		}
		frame.Encoding = protocol.FrameBrotli
		frame.Pixels = packed
	}
	msg := protocol.AppendFrame(nil, frame)

	for _, c := range clients {
		v.offer(c, msg)
	}
	v.frames.Add(1)
	return nil
}

func (v *Viewer) offer(c *viewerClient, msg []byte) {
	select {
	case c.frames <- msg:
		return
	default:
	}
	select {
	case <-c.frames:
		v.dropped.Add(1)
	default:
	}
	select {
	case c.frames <- msg:
	default:
		v.dropped.Add(1)
	}
}

// ServeHTTP upgrades the request and serves one viewer until it disconnects.
func (v *Viewer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.logger.Warn("Viewer upgrade failed", utils.Err(err))
		return
	}

	c := &viewerClient{
		id:     utils.GenerateID(),
		conn:   conn,
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	if !v.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "viewer closed"),
			time.Now().Add(v.opts.WriteTimeout))
		_ = conn.Close()
		return
	}
	logger := v.logger.With(utils.String("viewer", utils.ShortID(c.id)))
	logger.Info("Viewer connected", utils.String("remote", r.RemoteAddr))

	go v.writeLoop(c, logger)
	v.readLoop(r.Context(), c, logger)

	v.unregister(c)
	c.close()
	_ = conn.Close()
	logger.Info("Viewer disconnected")
}

func (v *Viewer) register(c *viewerClient) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	v.clients[c.id] = c
	v.wg.Add(1)
	return true
}

func (v *Viewer) unregister(c *viewerClient) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.clients, c.id)
}

func (v *Viewer) writeLoop(c *viewerClient, logger *utils.Logger) {
	defer v.wg.Done()
	defer c.close()

	encoding := protocol.FrameRaw
	if v.opts.Compress {
		encoding = protocol.FrameBrotli
	}
	hello, _ := json.Marshal(Hello{
		Type:     "hello",
		ID:       c.id,
		Encoding: encoding.String(),
		Commands: v.opts.Sink != nil,
	})
	if err := v.write(c, websocket.TextMessage, hello); err != nil {
		logger.Debug("Hello failed", utils.Err(err))
		return
	}

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(v.opts.WriteTimeout))
			_ = c.conn.Close()
			return
		case msg := <-c.frames:
			if err := v.write(c, websocket.BinaryMessage, msg); err != nil {
				logger.Debug("Frame write failed", utils.Err(err))
				// Unblock the read loop.
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (v *Viewer) write(c *viewerClient, kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(v.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

func (v *Viewer) readLoop(ctx context.Context, c *viewerClient, logger *utils.Logger) {
	c.conn.SetReadLimit(4096)
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				logger.Debug("Viewer read ended", utils.Err(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			v.rejected.Add(1)
			continue
		}
		v.handleCommand(ctx, c, data, logger)
	}
}

func (v *Viewer) handleCommand(ctx context.Context, c *viewerClient, data []byte, logger *utils.Logger) {
	if v.opts.Sink == nil {
		v.rejected.Add(1)
		return
	}
	cmd, err := protocol.DecodeJSON(data)
	if err != nil {
		v.rejected.Add(1)
		logger.Debug("Bad viewer command", utils.Err(err))
		return
	}
	if !cmd.Action.Remote() {
		v.rejected.Add(1)
		logger.Debug("Viewer command not accepted remotely", utils.String("action", string(cmd.Action)))
		return
	}
	if v.limiter != nil && !v.limiter.Allow(c.id) {
		v.rejected.Add(1)
		logger.Debug("Viewer command rate limited", utils.String("action", string(cmd.Action)))
		return
	}
	if err := v.opts.Sink.Send(ctx, cmd); err != nil {
		v.rejected.Add(1)
		logger.Warn("Viewer command failed", utils.String("command", cmd.String()), utils.Err(err))
		return
	}
	v.commands.Add(1)
}

// Stats returns a snapshot.
func (v *Viewer) Stats() ViewerStats {
	v.mu.Lock()
	clients := len(v.clients)
	v.mu.Unlock()
	return ViewerStats{
		Clients:  clients,
		Frames:   v.frames.Load(),
		Dropped:  v.dropped.Load(),
		Commands: v.commands.Load(),
		Rejected: v.rejected.Load(),
	}
}

// Close disconnects every viewer and waits for their writers to exit.
func (v *Viewer) Close(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	for _, c := range v.clients {
		c.close()
	}
	v.mu.Unlock()

	done := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return utils.TimeoutError("viewer close")
	}
}
