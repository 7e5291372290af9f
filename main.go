// Command pentrack runs the pen-tracking vision server: it reads frames
// from a network camera, detects fiducial markers, derives pen tip pose
// and surface touch state, and serves the results over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/inkworks/pentrack/internal/api"
	"github.com/inkworks/pentrack/internal/calib"
	"github.com/inkworks/pentrack/internal/camera"
	"github.com/inkworks/pentrack/internal/config"
	"github.com/inkworks/pentrack/internal/controller"
	"github.com/inkworks/pentrack/internal/engine"
	"github.com/inkworks/pentrack/internal/framesource"
	"github.com/inkworks/pentrack/internal/surface"
	"github.com/inkworks/pentrack/internal/tagdetect"
	"github.com/inkworks/pentrack/internal/version"
	"github.com/inkworks/pentrack/internal/workshop"
)

var (
	listen          = flag.String("listen", ":5000", "Listen address")
	source          = flag.String("source", "", "Camera source: MJPEG URL, or \"synthetic\" (empty enables auto-discovery)")
	configPath      = flag.String("config", "", "Path to JSON tuning file")
	calibrationPath = flag.String("calibration", "", "Path to camera_calibration.json (enables pose estimation)")
	jpegQuality     = flag.Int("jpeg-quality", 0, "JPEG encode quality 1-100 (overrides tuning file)")
	detectFPS       = flag.Float64("detect-fps", 0, "Max detection passes per second (overrides tuning file)")
	tagSize         = flag.Float64("tag-size", 0, "Marker edge length in meters (overrides tuning file)")
	workshopDB      = flag.String("workshop-db", "", "Path to workshop sqlite store (empty disables workshop endpoints)")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		log.Printf("pentrack %s", version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	// Flags override tuning-file values.
	camSource := cfg.GetSource()
	if *source != "" {
		camSource = *source
	}
	quality := cfg.GetJPEGQuality()
	if *jpegQuality > 0 {
		quality = *jpegQuality
	}
	maxFPS := cfg.GetDetectMaxFPS()
	if *detectFPS > 0 {
		maxFPS = *detectFPS
	}
	markerSize := cfg.GetTagSize()
	if *tagSize > 0 {
		markerSize = *tagSize
	}
	calibPath := cfg.GetCalibrationPath()
	if *calibrationPath != "" {
		calibPath = *calibrationPath
	}
	storePath := cfg.GetWorkshopDBPath()
	if *workshopDB != "" {
		storePath = *workshopDB
	}

	// Camera intrinsics are optional; without them detection runs 2D-only.
	var params *calib.Params
	if calibPath != "" {
		var err error
		params, err = calib.Load(calibPath)
		if err != nil {
			log.Printf("calibration unavailable, pose estimation disabled: %v", err)
		}
	}

	if camSource == "" {
		log.Printf("no camera source configured, scanning local networks...")
		camSource = camera.Discover(cfg.GetDiscoveryPort(), cfg.GetDiscoveryPath())
		if camSource == "" {
			log.Fatal("camera auto-discovery found no stream; pass -source")
		}
		log.Printf("discovered camera stream at %s", camSource)
	}

	cam, err := camera.Open(camSource)
	if err != nil {
		log.Fatalf("failed to open camera source %q: %v", camSource, err)
	}
	defer cam.Close()

	var store workshop.Store
	if storePath != "" {
		sqliteStore, err := workshop.OpenSQLite(storePath)
		if err != nil {
			log.Fatalf("failed to open workshop store: %v", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
	}

	frames := framesource.New(cam, quality)
	surf := surface.NewCalibrator(cfg.GetTouchThreshold())
	agg := controller.NewAggregator(cfg.GetControllerTTL())

	detCfg := tagdetect.DefaultConfig()
	if family := cfg.GetTagFamily(); family != "" {
		detCfg.Family = family
	}
	detector, err := tagdetect.New(detCfg)
	if err != nil {
		log.Printf("marker detector unavailable: %v", err)
		detector = nil
	} else {
		defer detector.Close()
	}
	eng := engine.New(frames, detector, params, surf, markerSize, maxFPS)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One goroutine owns the camera, one owns the detector.
	wg.Add(1)
	go func() {
		defer wg.Done()
		frames.Run(ctx)
		log.Print("frame capture routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
		log.Print("detection routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(ctx, frames, eng, surf, agg, store, camSource).ServeMux()
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(api.RecoverMiddleware(mux)),
		}

		go func() {
			log.Printf("pentrack %s listening on %s (camera %s)", version.String(), *listen, camSource)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
