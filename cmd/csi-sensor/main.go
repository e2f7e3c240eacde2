// Command csi-sensor configures an RT-AC86U for CSI extraction, captures
// the CSI stream and serves, stores and publishes per-snapshot estimates.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/csi.report/internal/config"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
	"github.com/banshee-data/csi.report/internal/csi/network"
	"github.com/banshee-data/csi.report/internal/db"
	"github.com/banshee-data/csi.report/internal/monitor"
	"github.com/banshee-data/csi.report/internal/monitoring"
	"github.com/banshee-data/csi.report/internal/publish"
	"github.com/banshee-data/csi.report/internal/router"
	"github.com/banshee-data/csi.report/internal/version"
)

const defaultDBPath = "csi_data.db"

var (
	configPath    = flag.String("config", config.DefaultConfigPath, "Path to the JSON or YAML sensor configuration")
	mode          = flag.String("mode", "", "Capture mode: router, udp or file (overrides config)")
	captureFile   = flag.String("file", "", "pcap file to replay in file mode (overrides config)")
	dbPath        = flag.String("db", "", "SQLite database path (overrides config; empty disables storage)")
	httpListen    = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen    = flag.String("grpc-listen", "", "gRPC health listen address (overrides config)")
	dryRun        = flag.Bool("dry-run", false, "Print router commands instead of running them")
	skipConfigure = flag.Bool("skip-configure", false, "Do not configure the router before capturing")
	debug         = flag.Bool("debug", false, "Log router commands and grouper generations")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: csi-sensor [flags]\n       csi-sensor [-db path] migrate <command>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("csi-sensor"))
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)

	if flag.Arg(0) == "migrate" {
		path := cfg.GetStoragePath()
		if path == "" {
			path = defaultDBPath
		}
		if err := db.RunMigrateCommand(flag.Args()[1:], path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if *debug {
		grouper.SetDebugLogger(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("csi-sensor %s starting (mode=%s, chanspec=%s)", version.Version, cfg.GetCaptureMode(), cfg.GetChanSpec())
	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("csi-sensor: %v", err)
	}
	log.Print("csi-sensor stopped")
}

// loadConfig reads -config. A missing default config file means "all
// defaults"; a missing file named explicitly is an error.
func loadConfig() (*config.SensorConfig, error) {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	if _, err := os.Stat(*configPath); errors.Is(err, os.ErrNotExist) && !explicit {
		return &config.SensorConfig{}, nil
	}
	return config.LoadSensorConfig(*configPath)
}

func applyFlags(cfg *config.SensorConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Capture.Mode = mode
		case "file":
			cfg.Capture.File = captureFile
		case "db":
			cfg.Storage.Path = dbPath
		case "listen":
			cfg.Monitor.HTTPListen = httpListen
		case "grpc-listen":
			cfg.Monitor.GRPCListen = grpcListen
		case "dry-run":
			cfg.Router.DryRun = dryRun
		}
	})
}

type routerLogger struct{}

func (routerLogger) Debugf(format string, args ...interface{}) {
	log.Printf("[router] "+format, args...)
}

func run(parent context.Context, cfg *config.SensorConfig) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	metrics := monitoring.NewMetrics()
	captureMode := cfg.GetCaptureMode()
	stats := network.NewPacketStats(captureMode, metrics)

	p := &processor{
		antennaDistance:  cfg.GetAntennaDistance(),
		estimate:         cfg.GetEstimateEnabled(),
		keepCoefficients: cfg.GetKeepSnapshots(),
		metrics:          metrics,
	}

	var store *db.DB
	if path := cfg.GetStoragePath(); path != "" {
		var err error
		store, err = db.NewDB(path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		sess, err := store.StartSession(captureMode, cfg.GetChanSpec().String())
		if err != nil {
			return err
		}
		log.Printf("recording session %s to %s", sess.ID, path)
		p.store = store
		p.sessionID = sess.ID
		defer func() {
			if err := store.EndSession(sess.ID); err != nil {
				log.Printf("failed to end session %s: %v", sess.ID, err)
			}
			metrics.SessionEnded(captureMode, time.Since(sess.StartedAt).Seconds())
		}()
	}

	if broker := cfg.GetMQTTBroker(); broker != "" {
		pub, err := publish.NewPublisher(publish.Config{
			Broker:   broker,
			Topic:    cfg.GetMQTTTopic(),
			ClientID: cfg.GetMQTTClientID(),
			Username: cfg.GetMQTTUsername(),
			Password: cfg.GetMQTTPassword(),
			QoS:      cfg.GetMQTTQoS(),
			Format:   cfg.GetMQTTFormat(),
		}, metrics)
		if err != nil {
			return err
		}
		defer pub.Disconnect()
		p.publisher = pub
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	if addr := cfg.GetHTTPListen(); addr != "" {
		srv, err := monitor.NewServer(monitor.Config{
			Address: addr,
			Stats:   stats,
			Metrics: metrics,
			DB:      store,
		})
		if err != nil {
			return err
		}
		if err := srv.Listen(); err != nil {
			return err
		}
		p.observer = srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	var health *monitor.HealthServer
	if addr := cfg.GetGRPCListen(); addr != "" {
		health = monitor.NewHealthServer(addr)
		if err := health.Listen(); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := health.Start(ctx); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}
	setCaptureUp := func(up bool) {
		metrics.CaptureUp(up)
		if health != nil {
			health.SetCaptureUp(up)
		}
	}

	pipeline := network.PipelineConfig{
		UDPPort:         cfg.GetUDPPort(),
		Realtime:        cfg.GetRealtime(),
		SpeedMultiplier: cfg.GetSpeedMultiplier(),
		Stats:           stats,
	}
	if addr := cfg.GetForwardAddr(); addr != "" {
		fwd, err := network.NewPacketForwarder(addr, stats, cfg.GetLogInterval())
		if err != nil {
			return err
		}
		defer func() {
			cancel()
			fwd.Close()
		}()
		pipeline.Forwarder = fwd
	}
	if path := cfg.GetRecordPath(); path != "" {
		rec, err := network.CreateRecorder(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("failed to close recording: %v", err)
			}
			log.Printf("recorded %d packets to %s", rec.Packets(), path)
		}()
		pipeline.Recorder = rec
	}

	switch captureMode {
	case config.CaptureFile:
		path := cfg.GetCaptureFile()
		if path == "" {
			return errors.New("file mode requires capture.file or -file")
		}
		return runPipeline(ctx, network.FileSource(path), pipeline, p, cfg, setCaptureUp)

	case config.CaptureRouter, config.CaptureUDP:
		r, err := router.New(router.Options{
			Host:         cfg.GetRouterHost(),
			Port:         cfg.GetRouterPort(),
			User:         cfg.GetRouterUser(),
			IdentityFile: cfg.GetRouterIdentityFile(),
			Interface:    cfg.GetRouterInterface(),
			CSIPort:      cfg.GetUDPPort(),
			DryRun:       cfg.GetDryRun(),
		})
		if err != nil {
			return err
		}
		if *debug || cfg.GetDryRun() {
			r.SetLogger(routerLogger{})
		}
		if !*skipConfigure {
			if err := configureRouter(ctx, r, cfg); err != nil {
				return err
			}
		}

		if captureMode == config.CaptureUDP {
			return runListener(ctx, cfg, stats, pipeline, p, setCaptureUp)
		}
		err = runPipeline(ctx, network.RouterSource(r), pipeline, p, cfg, setCaptureUp)
		if errors.Is(err, router.ErrDryRun) {
			log.Printf("[DRY-RUN] Would stream: %s", r.TcpdumpCommand())
			return nil
		}
		return err
	}
	return fmt.Errorf("unknown capture mode %q", captureMode)
}

func configureRouter(ctx context.Context, r *router.Router, cfg *config.SensorConfig) error {
	params, err := cfg.GetParams()
	if err != nil {
		return fmt.Errorf("invalid CSI parameters: %w", err)
	}
	log.Printf("configuring %s for %s (cores=%#x nss=%#x params=%s)",
		r.Target(), params.ChanSpec, uint8(params.Cores), uint8(params.SpatialStreams), params.String())
	if err := r.Configure(ctx, params, cfg.GetReloadDriver()); err != nil {
		return fmt.Errorf("failed to configure router: %w", err)
	}
	return nil
}

// runPipeline runs a pcap source with periodic stats logging.
func runPipeline(ctx context.Context, src network.Source, pipeline network.PipelineConfig,
	p *processor, cfg *config.SensorConfig, setCaptureUp func(bool)) error {
	if pipeline.Forwarder != nil {
		pipeline.Forwarder.Start(ctx)
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go func() {
		ticker := time.NewTicker(cfg.GetLogInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pipeline.Stats.LogStats()
			case <-statsCtx.Done():
				return
			}
		}
	}()

	setCaptureUp(true)
	defer setCaptureUp(false)
	err := src.Run(ctx, pipeline, p.handle)
	pipeline.Stats.LogStats()
	return err
}

func runListener(ctx context.Context, cfg *config.SensorConfig, stats *network.PacketStats,
	pipeline network.PipelineConfig, p *processor, setCaptureUp func(bool)) error {
	l := network.NewUDPListener(network.UDPListenerConfig{
		Address:     cfg.GetCaptureListen(),
		RcvBuf:      cfg.GetRcvBuf(),
		LogInterval: cfg.GetLogInterval(),
		Stats:       stats,
		Forwarder:   pipeline.Forwarder,
		Recorder:    pipeline.Recorder,
		Sink:        p.handle,
	})
	if err := l.Listen(); err != nil {
		return err
	}
	log.Printf("listening for CSI datagrams on %s", l.Addr())
	setCaptureUp(true)
	defer setCaptureUp(false)
	return l.Serve(ctx)
}
