package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/ohowland/cgc_cim/internal/pkg/comm/modbuscomm"
	"github.com/ohowland/cgc_cim/internal/pkg/config"
	"github.com/ohowland/cgc_cim/internal/pkg/datastreams/mongostream"
	"github.com/ohowland/cgc_cim/internal/pkg/datastreams/natsstream"
	"github.com/ohowland/cgc_cim/internal/pkg/datastreams/objectstream"
	"github.com/ohowland/cgc_cim/internal/pkg/datastreams/sqlreadings"
	"github.com/ohowland/cgc_cim/internal/pkg/metrics"
	"github.com/ohowland/cgc_cim/internal/pkg/network"
	"github.com/ohowland/cgc_cim/internal/pkg/stream"
	"github.com/ohowland/cgc_cim/internal/pkg/webservice"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// process is a long running reading feed.
type process interface {
	PID() uuid.UUID
	Process()
	Stop()
}

func main() {
	configPath := flag.String("config", "./config/cimnet.yaml", "service configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	logger = logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := metrics.NewStore(cfg.BucketDuration)
	if err != nil {
		return err
	}
	registry := prometheus.NewRegistry()
	counter := stream.NewRecordCounter()
	registry.MustRegister(counter, metrics.NewCollector(store))

	var nc *nats.Conn
	if cfg.Source.Kind == config.SourceNATS || cfg.Readings.Subscribe {
		nc, err = cfg.NATS.Connect(logger)
		if err != nil {
			return err
		}
		defer nc.Close()
	}

	logger.Info("building network", zap.String("source", string(cfg.Source.Kind)), zap.String("path", cfg.Source.Path))
	n, stats, err := buildNetwork(ctx, cfg, nc, store, logger,
		stream.WithPolicy(cfg.Policy()),
		stream.WithLogger(logger),
		stream.WithCounter(counter))
	if err != nil {
		return err
	}
	logger.Info("network ready", zap.Int("records", stats.Records), zap.Int("skipped", stats.Skipped),
		zap.Any("summary", n.Summary()))

	if sqlCfg := cfg.Readings.SQL; sqlCfg != nil {
		if err := loadArchive(ctx, *sqlCfg, cfg.Readings.From, cfg.Readings.To, store, logger); err != nil {
			return err
		}
	}

	procs, meters, err := readingFeeds(cfg, nc, store, logger)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p process) {
			defer wg.Done()
			p.Process()
		}(p)
	}

	app := &webservice.App{Network: n, Gatherer: registry, Meters: meters, Log: logger}
	srv := &http.Server{Addr: cfg.Webservice.Addr(), Handler: app.Router()}
	errs := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	logger.Info("stopping system")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("server shutdown", zap.Error(serr))
	}
	for _, p := range procs {
		p.Stop()
	}
	wg.Wait()
	return err
}

func buildNetwork(ctx context.Context, cfg *config.Config, nc *nats.Conn, store *metrics.Store, logger *zap.Logger, opts ...stream.Option) (*network.Network, stream.Stats, error) {
	switch cfg.Source.Kind {
	case config.SourceFile:
		f, err := os.Open(cfg.Source.Path)
		if err != nil {
			return nil, stream.Stats{}, err
		}
		defer f.Close()
		return stream.RetrieveNetwork(ctx, stream.NewDecoderSource(f), store, opts...)

	case config.SourceS3:
		client, err := objectstream.NewClient(ctx, cfg.S3)
		if err != nil {
			return nil, stream.Stats{}, err
		}
		src, err := objectstream.OpenS3(ctx, client, cfg.S3.Bucket, cfg.Source.Path)
		if err != nil {
			return nil, stream.Stats{}, err
		}
		defer src.Close()
		return stream.RetrieveNetwork(ctx, src, store, opts...)

	case config.SourceNATS:
		src, err := natsstream.SubscribeRecords(nc, cfg.NATS)
		if err != nil {
			return nil, stream.Stats{}, err
		}
		defer src.Close()
		return stream.RetrieveNetwork(ctx, src, store, opts...)

	case config.SourceMongo:
		client, coll, err := mongostream.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, stream.Stats{}, err
		}
		defer client.Disconnect(context.Background())
		src, err := mongostream.Find(ctx, coll, logger)
		if err != nil {
			return nil, stream.Stats{}, err
		}
		defer src.Close(context.Background())
		return stream.RetrieveNetwork(ctx, src, store, opts...)
	}
	return nil, stream.Stats{}, errors.New("unknown source kind " + string(cfg.Source.Kind))
}

func loadArchive(ctx context.Context, cfg sqlreadings.Config, from, to int64, store *metrics.Store, logger *zap.Logger) error {
	db, err := cfg.Open()
	if err != nil {
		return err
	}
	defer db.Close()

	loader := sqlreadings.NewLoader(db, cfg, logger)
	if err := loader.InitTables(ctx); err != nil {
		return err
	}
	_, err = loader.Load(ctx, store, from, to)
	return err
}

func readingFeeds(cfg *config.Config, nc *nats.Conn, store *metrics.Store, logger *zap.Logger) ([]process, map[string]webservice.RegisterWriter, error) {
	var procs []process
	meters := map[string]webservice.RegisterWriter{}
	if cfg.Readings.Subscribe {
		sub, err := natsstream.SubscribeReadings(nc, cfg.NATS, store, logger)
		if err != nil {
			return nil, nil, err
		}
		procs = append(procs, sub)
	}
	for _, path := range cfg.Readings.Meters {
		p, err := modbuscomm.NewMeterPoller(path, store, logger)
		if err != nil {
			return nil, nil, err
		}
		procs = append(procs, p)
		meters[p.MRID()] = p
	}
	return procs, meters, nil
}
