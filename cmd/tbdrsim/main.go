// Command tbdrsim renders synthetic frames through the tile scheduler on a
// registered backend and logs how each frame was executed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/tbdr"
	"github.com/gogpu/tbdr/backend"
	"github.com/gogpu/tbdr/backend/sim"
	"github.com/gogpu/tbdr/gpumem"
)

type config struct {
	profile     string
	profileFile string
	backend     string
	width       int
	height      int
	frames      int
	draws       int
	seed        uint64
}

func main() {
	var cfg config
	flag.StringVar(&cfg.profile, "profile", "gen6", "hardware profile ("+strings.Join(tbdr.ProfileNames(), ", ")+")")
	flag.StringVar(&cfg.profileFile, "profile-file", "", "TOML hardware profile; overrides -profile")
	flag.StringVar(&cfg.backend, "backend", "", "device backend (default: first available)")
	flag.IntVar(&cfg.width, "width", 1920, "render area width")
	flag.IntVar(&cfg.height, "height", 1080, "render area height")
	flag.IntVar(&cfg.frames, "frames", 8, "number of frames")
	flag.IntVar(&cfg.draws, "draws", 64, "draws in the first frame; each frame adds as many")
	flag.Uint64Var(&cfg.seed, "seed", 1, "seed for draw placement")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "tbdrsim",
	})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}
	tbdr.SetLogger(slog.New(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Fatal("run failed", "err", err)
	}
}

func run(ctx context.Context, cfg config, logger *log.Logger) error {
	prof, err := loadProfile(cfg)
	if err != nil {
		return err
	}

	var dev backend.Device
	if cfg.backend != "" {
		dev, err = backend.Open(cfg.backend)
	} else {
		dev, err = backend.OpenDefault()
	}
	if err != nil {
		return err
	}
	defer dev.Close()

	s, err := tbdr.NewScheduler(dev, tbdr.WithProfile(prof))
	if err != nil {
		return err
	}
	defer s.Close()

	geom := frameGeometry(cfg.width, cfg.height)
	if p, err := s.Plan(geom); err == nil && !p.Empty() {
		logger.Info("partition",
			"profile", prof.Name,
			"bin", fmt.Sprintf("%dx%d", p.BinW, p.BinH),
			"tiles", len(p.Tiles),
			"pipes", p.PipesUsed,
			"footprint", p.Footprint)
	}

	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))
	for i := range cfg.frames {
		b := tbdr.NewBatch(geom)
		b.Require(tbdr.ReasonDepthTest)
		addDraws(b, rng, cfg.draws*(i+1))

		f, err := s.Render(b)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if err := s.Submit(ctx, dev, f); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		pitches, err := s.ServiceOverflow(ctx, f)
		switch {
		case errors.Is(err, gpumem.ErrAllocationFailed):
			logger.Warn("stream growth deferred", "frame", i, "err", err)
		case err != nil:
			return fmt.Errorf("frame %d: %w", i, err)
		}

		logger.Info("frame",
			"n", i,
			"batch", f.ID,
			"mode", f.Mode,
			"binned", f.Binned,
			"draws", len(b.Draws()),
			"commands", f.Stream.Len(),
			"primlist", pitches.PrimList,
			"secondary", pitches.Secondary)
	}

	st := s.Stats()
	logger.Info("scheduler",
		"frames", st.Frames,
		"tiled", st.Tiled,
		"binned", st.Binned,
		"bypassed", st.Bypassed,
		"growths", st.Growths,
		"stale", st.StaleRecords,
		"plan_hits", st.PlanHits)
	if sd, ok := dev.(*sim.Device); ok {
		ds := sd.Stats()
		logger.Info("device",
			"streams", ds.Completed,
			"replayed", ds.DrawsReplayed,
			"skipped", ds.DrawsSkipped,
			"overflow_pipes", ds.OverflowPipes,
			"live_bytes", ds.LiveBytes)
	}
	return nil
}

func loadProfile(cfg config) (tbdr.Profile, error) {
	if cfg.profileFile != "" {
		return tbdr.LoadProfile(cfg.profileFile)
	}
	p, ok := tbdr.ProfileByName(cfg.profile)
	if !ok {
		return tbdr.Profile{}, fmt.Errorf("unknown profile %q", cfg.profile)
	}
	return p, nil
}

func frameGeometry(w, h int) tbdr.FrameGeometry {
	return tbdr.FrameGeometry{
		Area: image.Rect(0, 0, w, h),
		Colors: []tbdr.Attachment{{
			Format:     gputypes.TextureFormatRGBA8Unorm,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: tbdr.ClearValue{Color: gputypes.Color{A: 1}},
		}},
		Depth: &tbdr.Attachment{
			Format:     gputypes.TextureFormatDepth24PlusStencil8,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpDiscard,
			ClearValue: tbdr.ClearValue{Depth: 1},
		},
	}
}

// addDraws scatters n draws of up to a quarter of the area each.
func addDraws(b *tbdr.Batch, rng *rand.Rand, n int) {
	area := b.Geometry().Area
	w, h := area.Dx(), area.Dy()
	for range n {
		dw := 1 + rng.IntN(max(w/4, 1))
		dh := 1 + rng.IntN(max(h/4, 1))
		x := area.Min.X + rng.IntN(max(w-dw, 1))
		y := area.Min.Y + rng.IntN(max(h-dh, 1))
		b.Draw(tbdr.DrawCall{
			Bounds:     image.Rect(x, y, x+dw, y+dh),
			Primitives: uint32(1 + rng.IntN(32)),
		})
	}
}
