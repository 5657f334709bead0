package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/mcl.localizer/internal/bus"
	"github.com/banshee-data/mcl.localizer/internal/config"
	"github.com/banshee-data/mcl.localizer/internal/frames"
	"github.com/banshee-data/mcl.localizer/internal/geo"
	"github.com/banshee-data/mcl.localizer/internal/mcl"
	"github.com/banshee-data/mcl.localizer/internal/monitor"
	"github.com/banshee-data/mcl.localizer/internal/version"
	"github.com/banshee-data/mcl.localizer/internal/worldmodel"
	wmsqlite "github.com/banshee-data/mcl.localizer/internal/worldmodel/sqlite"
)

var (
	configPath = flag.String("config", "", "Tuning config path (default: search for config/tuning.defaults.json)")
	plotDir    = flag.String("plots", "", "Write a particle-cloud PNG per cycle into this directory")
	pollEvery  = flag.Duration("poll", 20*time.Millisecond, "Mailbox poll interval")
	devMode    = flag.Bool("dev", false, "Enable per-cycle debug logging")
)

// buildLocalizerConfig maps tuning keys onto the filter configuration.
func buildLocalizerConfig(cfg *config.TuningConfig) mcl.LocalizerConfig {
	lc := mcl.DefaultLocalizerConfig()
	lc.Frames = mcl.FrameIDs{
		Map:  cfg.GetMapFrame(),
		Odom: cfg.GetOdomFrame(),
		Base: cfg.GetBaseFrame(),
	}
	lc.NumParticles = cfg.GetNumParticles()
	lc.Seed = cfg.GetSeed()
	lc.LaserHeight = cfg.GetLaserHeight()
	lc.OdomModel = mcl.OdomModelConfig{
		NoiseTransTrans: cfg.GetNoiseTransTrans(),
		NoiseTransRot:   cfg.GetNoiseTransRot(),
		NoiseRotTrans:   cfg.GetNoiseRotTrans(),
		NoiseRotRot:     cfg.GetNoiseRotRot(),
	}
	lc.LaserModel = mcl.LaserModelConfig{
		HitSigma:   cfg.GetHitSigma(),
		ZHit:       cfg.GetZHit(),
		ZRand:      cfg.GetZRand(),
		ZMax:       cfg.GetZMax(),
		BeamStep:   cfg.GetBeamStep(),
		NumWorkers: cfg.GetNumWorkers(),
	}
	return lc
}

// loadWorld opens the configured world source. The entity DB wins when
// both are configured.
func loadWorld(cfg *config.TuningConfig) (*worldmodel.World, error) {
	if path := cfg.GetWorldDBPath(); path != "" {
		store, err := wmsqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening world db %s: %w", path, err)
		}
		defer store.Close()
		world, err := store.LoadWorld()
		if err != nil {
			return nil, fmt.Errorf("loading world from %s: %w", path, err)
		}
		log.Printf("Loaded %d entities from %s", world.EntityCount(), path)
		return world, nil
	}
	if path := cfg.GetWorldGeoJSONPath(); path != "" {
		world, err := worldmodel.LoadGeoJSON(path)
		if err != nil {
			return nil, fmt.Errorf("loading world geojson %s: %w", path, err)
		}
		log.Printf("Loaded %d entities from %s", world.EntityCount(), path)
		return world, nil
	}
	return nil, fmt.Errorf("no world source configured (set world_db or world_geojson)")
}

func main() {
	flag.Parse()
	log.Printf("mcl-localizer %s (%s)", version.Version, version.GitSHA)

	var cfg *config.TuningConfig
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Error loading config %s: %v", *configPath, err)
		}
		cfg = loaded
	} else {
		cfg = config.MustLoadDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	world, err := loadWorld(cfg)
	if err != nil {
		log.Fatalf("Error loading world: %v", err)
	}

	tree := frames.NewTree()
	loc := mcl.NewLocalizer(buildLocalizerConfig(cfg), tree, tree)
	if *devMode {
		loc.SetDebugLogger(log.New(os.Stderr, "(mcl) ", log.LstdFlags))
	}

	// A configured initial pose seeds the belief at boot; without one
	// the filter stays uninitialised until a pose request arrives.
	if cfg.HasInitialPose() {
		x, y, yaw := cfg.GetInitialPose()
		loc.SetPose(geo.NewTransform2(geo.Vec2{X: x, Y: y}, yaw))
		log.Printf("Initial pose from config: (%.2f, %.2f, %.2f)", x, y, yaw)
	}

	client, err := bus.Connect(bus.Config{
		Broker:           cfg.GetBroker(),
		ClientID:         cfg.GetClientID(),
		ScanTopic:        cfg.GetScanTopic(),
		InitialPoseTopic: cfg.GetInitialPoseTopic(),
		TransformTopic:   cfg.GetTransformTopic(),
		PoseTopic:        cfg.GetPoseTopic(),
		ParticlesTopic:   cfg.GetParticlesTopic(),
		MapFrame:         cfg.GetMapFrame(),
	})
	if err != nil {
		log.Fatalf("Error connecting to bus: %v", err)
	}
	defer client.Disconnect()
	client.SetFrameSink(tree)

	plotter := monitor.NewCloudPlotter()
	if *plotDir != "" {
		if err := plotter.Start(*plotDir); err != nil {
			log.Fatalf("Error starting plotter: %v", err)
		}
		defer plotter.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runCycles(ctx, client, loc, world, plotter)
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received")
	wg.Wait()
	log.Println("Graceful shutdown complete")
}

// runCycles drains the bus mailboxes and runs one estimation cycle per
// queued scan until the context is cancelled.
func runCycles(ctx context.Context, client *bus.Client, loc *mcl.Localizer, world *worldmodel.World, plotter *monitor.CloudPlotter) {
	ticker := time.NewTicker(*pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if pose, ok := client.TakeInitialPose(); ok {
			log.Printf("Pose request: (%.2f, %.2f, %.2f)", pose.T.X, pose.T.Y, pose.Angle())
			loc.SetPose(pose)
		}

		scan, ok := client.TakeScan()
		if !ok {
			continue
		}

		res, err := loc.Cycle(world, scan)
		if err != nil {
			// Recoverable: missing transforms and an uninitialised
			// filter both clear once the inputs show up.
			log.Printf("Cycle skipped: %v", err)
			continue
		}

		if err := client.PublishPose(res, scan.Stamp); err != nil {
			log.Printf("Error publishing pose: %v", err)
		}
		if err := client.PublishParticles(res.Samples, scan.Stamp); err != nil {
			log.Printf("Error publishing particles: %v", err)
		}
		if err := plotter.Sample(world.LineSegments(), res); err != nil {
			log.Printf("Error plotting cycle: %v", err)
		}
	}
}
