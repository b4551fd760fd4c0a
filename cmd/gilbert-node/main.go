// Command gilbert-node boots a controller, seeds it and drives it until
// interrupted, optionally serving a browser viewer and a libp2p control link.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmxmxh/gilbert_v1/internal/network"
	"github.com/nmxmxh/gilbert_v1/kernel"
	"github.com/nmxmxh/gilbert_v1/kernel/display"
	"github.com/nmxmxh/gilbert_v1/kernel/ingest"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/protocol"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
)

type flags struct {
	config   string
	width    int
	height   int
	backend  string
	memory   string
	speed    float64
	step     float64
	image    string
	viewer   string
	snapshot string
	control  string
	logLevel string
	run      time.Duration
	stats    time.Duration
}

func parseFlags(args []string) (flags, *flag.FlagSet, error) {
	var f flags
	fs := flag.NewFlagSet("gilbert-node", flag.ContinueOnError)
	fs.StringVar(&f.config, "config", "", "YAML config file")
	fs.IntVar(&f.width, "width", 0, "raster width")
	fs.IntVar(&f.height, "height", 0, "raster height")
	fs.StringVar(&f.backend, "backend", "", "transform backend (native|wasm)")
	fs.StringVar(&f.memory, "memory", "", "native region memory (heap|shm)")
	fs.Float64Var(&f.speed, "speed", 0, "initial speed percentage")
	fs.Float64Var(&f.step, "step", 0, "initial step percentage")
	fs.StringVar(&f.image, "image", "", "seed image file")
	fs.StringVar(&f.viewer, "viewer", "", "viewer listen address, e.g. :8080")
	fs.StringVar(&f.snapshot, "snapshots", "", "directory for PNG snapshots")
	fs.StringVar(&f.control, "control", "", "libp2p control listen multiaddr")
	fs.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error")
	fs.DurationVar(&f.run, "run", 0, "stop after this long (0 runs until interrupted)")
	fs.DurationVar(&f.stats, "stats", 10*time.Second, "stats log interval")
	if err := fs.Parse(args); err != nil {
		return f, nil, err
	}
	return f, fs, nil
}

// loadConfig applies explicitly set flags over the config file.
func loadConfig(f flags, fs *flag.FlagSet) (kernel.Config, error) {
	cfg := kernel.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = kernel.LoadConfig(f.config); err != nil {
			return cfg, err
		}
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "width":
			cfg.Width = f.width
		case "height":
			cfg.Height = f.height
		case "backend":
			cfg.Backend = f.backend
		case "memory":
			cfg.Memory = f.memory
		case "speed":
			cfg.Speed = f.speed
		case "step":
			cfg.Step = f.step
		case "image":
			cfg.Image = f.image
		case "viewer":
			cfg.Viewer.Listen = f.viewer
		case "snapshots":
			cfg.Snapshots.Dir = f.snapshot
		case "control":
			cfg.Control.Listen = []string{f.control}
		case "log-level":
			cfg.LogLevel = f.logLevel
		}
	})
	return cfg, cfg.Validate()
}

func main() {
	f, fs, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}
	cfg, err := loadConfig(f, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gilbert-node:", err)
		os.Exit(2)
	}

	logger := cfg.Logger("gilbert")
	utils.SetGlobalLogger(logger)
	defer func() { _ = logger.Sync() }()

	if err := run(f, cfg, logger); err != nil {
		logger.Error("Node exited", utils.Err(err))
		os.Exit(1)
	}
}

func run(f flags, cfg kernel.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.run > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.run)
		defer cancel()
	}

	shutdown := utils.NewGracefulShutdown(15*time.Second, logger.Named("shutdown"))

	ctrl, err := kernel.NewController(cfg,
		kernel.WithLogger(logger.Named("controller")),
		kernel.WithEventHandler(func(e kernel.Event) {
			logger.Debug("Controller event", utils.String("event", e.Name))
		}),
	)
	if err != nil {
		return err
	}
	shutdown.Register("controller", ctrl.Shutdown)
	defer func() {
		if err := shutdown.Shutdown(context.Background()); err != nil {
			logger.Warn("Shutdown incomplete", utils.Err(err))
		}
	}()

	if err := ctrl.Boot(ctx); err != nil {
		return err
	}
	if err := seed(ctx, ctrl, cfg, logger); err != nil {
		return err
	}

	surfaces, err := buildSurfaces(ctrl, cfg, shutdown, logger)
	if err != nil {
		return err
	}

	if len(cfg.Control.Listen) > 0 {
		node, err := network.NewControlNode(network.NodeOptions{
			Sink:         ctrl.Dispatcher(),
			Rate:         cfg.Control.Rate,
			Burst:        cfg.Control.Burst,
			Listen:       cfg.Control.Listen,
			IdentityPath: cfg.Control.Identity,
			Logger:       logger.Named("control"),
		})
		if err != nil {
			return err
		}
		shutdown.Register("control", func(context.Context) error { return node.Close() })
		for _, addr := range node.Addrs() {
			logger.Info("Control address", utils.String("addr", addr))
		}
	}

	if len(surfaces) > 0 {
		if err := ctrl.Send(ctx, protocol.CanvasInit(surfaces)); err != nil {
			return err
		}
	}
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(f.stats)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping", utils.String("reason", context.Cause(ctx).Error()))
			return nil
		case <-ticker.C:
			ws, ps, rs := ctrl.WorkerStats(), ctrl.PainterStats(), ctrl.RegionStats()
			logger.Info("Stats",
				utils.String("worker", ws.State.String()),
				utils.Uint64("ticks", ws.Ticks),
				utils.Int("shift", ws.LastShift),
				utils.Duration("interval", ws.Interval),
				utils.Uint64("frames", ps.Frames),
				utils.Uint64("repeated", ps.Repeated),
				utils.Uint32("progress", rs.Progress))
		}
	}
}

func seed(ctx context.Context, ctrl *kernel.Controller, cfg kernel.Config, logger *utils.Logger) error {
	if cfg.Image == "" {
		w, h := ctrl.Dimensions()
		return ctrl.SeedImage(ctx, gradient(w, h))
	}
	res, err := ingest.LoadFile(ctx, ctrl, cfg.Image)
	if err != nil {
		return err
	}
	logger.Info("Seeded from image",
		utils.String("path", cfg.Image),
		utils.String("format", res.Format),
		utils.Int("source_width", res.Source.X),
		utils.Int("source_height", res.Source.Y))
	return nil
}

func buildSurfaces(ctrl *kernel.Controller, cfg kernel.Config, shutdown *utils.GracefulShutdown, logger *utils.Logger) (display.Multi, error) {
	var out display.Multi

	if cfg.Snapshots.Dir != "" {
		snaps, err := display.NewSnapshots(cfg.Snapshots.Dir, cfg.Snapshots.Every, logger.Named("snapshots"))
		if err != nil {
			return nil, err
		}
		out = append(out, display.Guard(snaps, display.GuardOptions{Name: "snapshots", Logger: logger}))
	}

	if cfg.Viewer.Listen != "" {
		viewer, err := display.NewViewer(display.ViewerOptions{
			Sink:       ctrl.Dispatcher(),
			Compress:   cfg.Viewer.Compress,
			Rate:       cfg.Control.Rate,
			Burst:      cfg.Control.Burst,
			Generation: func() uint32 { return ctrl.RegionStats().Generation },
			Logger:     logger.Named("viewer"),
		})
		if err != nil {
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/ws", viewer)
		srv := &http.Server{Addr: cfg.Viewer.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Viewer server failed", utils.Err(err))
			}
		}()
		logger.Info("Viewer listening", utils.String("addr", cfg.Viewer.Listen+"/ws"))

		shutdown.Register("viewer", func(ctx context.Context) error {
			return errors.Join(viewer.Close(ctx), srv.Shutdown(ctx))
		})
		out = append(out, display.Guard(viewer, display.GuardOptions{Name: "viewer", Logger: logger}))
	}
	return out, nil
}

// gradient is the seed used when no image is configured.
func gradient(width, height int) []byte {
	px := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			px[i] = byte(x * 255 / max(width-1, 1))
			px[i+1] = byte(y * 255 / max(height-1, 1))
			px[i+2] = byte((x ^ y) & 0xFF)
			px[i+3] = 0xFF
		}
	}
	return px
}
