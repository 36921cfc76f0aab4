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

	"github.com/banshee-data/surroundview/internal/config"
	"github.com/banshee-data/surroundview/internal/db"
	"github.com/banshee-data/surroundview/internal/svm/health"
	"github.com/banshee-data/surroundview/internal/svm/l1packets"
	"github.com/banshee-data/surroundview/internal/svm/monitor"
	"github.com/banshee-data/surroundview/internal/svm/network"
	"github.com/banshee-data/surroundview/internal/svm/pipeline"
	"github.com/banshee-data/surroundview/internal/svm/softrender"
	"github.com/banshee-data/surroundview/internal/version"
)

type options struct {
	configPath   string
	feedID       string
	udpAddr      string
	rcvBuf       int
	logInterval  time.Duration
	pcapFile     string
	pcapPort     int
	pcapRealtime bool
	pcapSpeed    float64
	dbFile       string
	retention    time.Duration
	httpAddr     string
	grpcAddr     string
	renderSize   int
	blend        string
	snapshot     string
	snapshotDir  string
	showVersion  bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Path to tuning JSON (default: built-in defaults)")
	fs.StringVar(&o.feedID, "feed-id", "svm0", "Identifier for this sensor feed")
	fs.StringVar(&o.udpAddr, "udp-addr", ":5600", "UDP bind address for the sensor feed")
	fs.IntVar(&o.rcvBuf, "rcvbuf", 8<<20, "UDP receive buffer size in bytes")
	fs.DurationVar(&o.logInterval, "log-interval", 10*time.Second, "Statistics logging interval")
	fs.StringVar(&o.pcapFile, "pcap", "", "Replay a PCAP capture instead of listening on UDP")
	fs.IntVar(&o.pcapPort, "pcap-port", 5600, "Destination UDP port to replay from the capture (0 = all)")
	fs.BoolVar(&o.pcapRealtime, "pcap-realtime", true, "Pace PCAP replay by capture timestamps")
	fs.Float64Var(&o.pcapSpeed, "pcap-speed", 1, "PCAP replay speed multiplier")
	fs.StringVar(&o.dbFile, "db", "svm.db", "SQLite database path (empty disables persistence)")
	fs.DurationVar(&o.retention, "retention", 24*time.Hour, "Frame report retention (0 keeps everything)")
	fs.StringVar(&o.httpAddr, "listen", ":8082", "HTTP listen address (empty disables)")
	fs.StringVar(&o.grpcAddr, "grpc-listen", ":50052", "gRPC health listen address (empty disables)")
	fs.IntVar(&o.renderSize, "render-size", 512, "Software composite size in pixels (0 disables)")
	fs.StringVar(&o.blend, "blend", "nearest", "Composite blend policy: nearest or weighted")
	fs.StringVar(&o.snapshot, "snapshot", "", "Write the last composite to this image path on exit")
	fs.StringVar(&o.snapshotDir, "snapshot-dir", "", "Directory for on-demand composite snapshots (POST /api/svm/snapshot)")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.pcapSpeed <= 0 {
		return nil, fmt.Errorf("pcap-speed must be positive, got %g", o.pcapSpeed)
	}
	if o.renderSize < 0 {
		return nil, fmt.Errorf("render-size must not be negative")
	}
	if o.snapshot != "" && o.renderSize == 0 {
		return nil, fmt.Errorf("snapshot needs the software renderer (render-size > 0)")
	}
	return o, nil
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		dbFile := fs.String("db", "svm.db", "SQLite database path")
		fs.Parse(os.Args[2:])
		if err := db.RunMigrateCommand(os.Stdout, fs.Args(), *dbFile); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if o.showVersion {
		fmt.Printf("svm %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

func run(ctx context.Context, o *options) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	rt, err := pipeline.NewSensorRuntime(o.feedID, cfg)
	if err != nil {
		return err
	}

	var renderer *softrender.Renderer
	if o.renderSize > 0 {
		blend, err := softrender.ParseBlendPolicy(o.blend)
		if err != nil {
			return err
		}
		ro := softrender.DefaultOptions()
		ro.Size = o.renderSize
		ro.Blend = blend
		renderer = softrender.New(ro)
	}

	var loop *pipeline.Loop
	if renderer != nil {
		loop = pipeline.NewLoop(rt, renderer, cfg.GetTickInterval())
	} else {
		loop = pipeline.NewLoop(rt, nil, cfg.GetTickInterval())
	}

	var store *db.DB
	if o.dbFile != "" {
		store, err = db.NewDB(o.dbFile)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()
		rt.Compositor.SetRecorder(store)
		loop.Reports = store
	}

	if o.grpcAddr != "" {
		hs := health.NewServer(health.Config{ListenAddr: o.grpcAddr})
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
		loop.OnStateChange = hs.SetState
	}

	stats := network.NewPacketStats()
	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:     o.udpAddr,
		RcvBuf:      o.rcvBuf,
		LogInterval: o.logInterval,
		MaxDatagram: cfg.GetMaxDatagramBytes(),
		Stats:       stats,
		Decoder:     l1packets.NewDecoder(cfg.GetReassemblyWindow()),
		Sink:        rt.Queue,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer rt.Queue.Close()
		if o.pcapFile != "" {
			replayPCAP(ctx, listener, o)
			return
		}
		if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("UDP listener error: %v", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("render loop error: %v", err)
		}
	}()

	if o.httpAddr != "" {
		ws, err := monitor.NewWebServer(monitor.WebServerConfig{
			Address:  o.httpAddr,
			FeedID:   o.feedID,
			Loop:     loop,
			Stats:    stats,
			DB:       store,
			Renderer: renderer,

			SnapshotDir: o.snapshotDir,
		})
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				log.Printf("HTTP server error: %v", err)
				cancel()
			}
		}()
	}

	if store != nil && o.retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneReports(ctx, store, o.retention)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	if o.snapshot != "" && renderer != nil {
		if err := renderer.Snapshot(o.snapshot); err != nil {
			log.Printf("snapshot: %v", err)
		} else {
			log.Printf("wrote composite snapshot to %s", o.snapshot)
		}
	}
	st := loop.Snapshot()
	log.Printf("final: state=%s applied=%d rejected=%d renders=%d", st.State, st.FramesApplied, st.FramesRejected, st.Renders)
	return ctx.Err()
}

func replayPCAP(ctx context.Context, listener *network.UDPListener, o *options) {
	reader, err := network.OpenPCAP(o.pcapFile)
	if err != nil {
		log.Printf("open pcap: %v", err)
		return
	}
	defer reader.Close()
	res, err := listener.FeedFromPCAP(ctx, reader, network.ReplayConfig{
		UDPPort:         o.pcapPort,
		Realtime:        o.pcapRealtime,
		SpeedMultiplier: o.pcapSpeed,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("pcap replay: %v", err)
	}
	log.Printf("pcap replay finished: %d packets, %d datagrams in %s", res.Packets, res.Datagrams, res.Elapsed)
}

// pruneReports deletes expired frame reports once an hour.
func pruneReports(ctx context.Context, store *db.DB, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := store.PruneFrames(ctx, time.Now().Add(-retention))
		if err != nil && ctx.Err() == nil {
			log.Printf("prune frame reports: %v", err)
		} else if n > 0 {
			log.Printf("pruned %d frame reports older than %s", n, retention)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
