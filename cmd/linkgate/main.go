package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"linkgate.ai/internal/config"
	"linkgate.ai/internal/logging"
	"linkgate.ai/internal/metrics"
	persistlog "linkgate.ai/internal/persistence/log"
	"linkgate.ai/internal/persistence/snapshot"
	"linkgate.ai/internal/sim/link"
	"linkgate.ai/internal/sim/objstore"
	"linkgate.ai/internal/sim/sched"
	"linkgate.ai/internal/transport/gate"
	"linkgate.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to linkgate.yaml or linkgate.toml (optional)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite link index")
		importPath = flag.String("import", "", "seed the store from an export file when the database is empty")
		saveEvery  = flag.Duration("save_every", 30*time.Second, "object database save interval")
	)
	flag.Parse()

	logger := logging.New("linkgate", logging.ProfileRuntime, os.Stdout)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(*dataDir); v != "" {
		cfg.DataDir = v
	}
	if *disableDB {
		cfg.Index.Disable = true
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create data dir")
	}

	self := objstore.PeerID(cfg.PeerID)
	store := objstore.New(self, cfg.ObjectGrid())

	db, err := snapshot.Open(filepath.Join(cfg.DataDir, "objects.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("open object database")
	}
	defer db.Close()
	if err := loadObjects(store, db, cfg, strings.TrimSpace(*importPath), logger); err != nil {
		logger.Fatal().Err(err).Msg("load objects")
	}

	idx, err := openRuntimeIndex(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open index backend")
	}
	if idx != nil {
		defer idx.Close()
	}
	journal := persistlog.NewJournal(cfg.DataDir, logger)
	defer journal.Close()

	hub := ws.NewHub(cfg.PeerID, logger)
	hub.ServeAdminList(cfg.Admins)
	store.Subscribe(hub)

	g := gate.New(gate.Config{
		Role:    gate.RoleHost,
		ModName: cfg.ModName,
		Version: cfg.Version,
		SelfID:  cfg.PeerID,
	}, hub, logger)

	m := metrics.New(time.Now(), metrics.Gauges{
		Objects:  store.Len,
		Sessions: g.Sessions().Len,
		Active:   hub.Active,
	})
	g.Observe(m)

	lc := cfg.LinkConfig()
	if lc.TypeName == "" {
		logger.Warn().Msg("pairing.type_name not set; no objects will be linked")
	}
	if lc.OneWayPrefix == "" {
		logger.Warn().Msg("pairing.oneway_prefix not set; only invalid links will be broken")
	}
	cycle := link.NewCycle(store, store, lc, nil, logger.With().Str("component", "link").Logger())
	cycle.Observe(m)
	cycle.Observe(journal)
	if idx != nil {
		last, err := idx.LastPass(context.Background())
		if err != nil {
			logger.Fatal().Err(err).Msg("read last indexed pass")
		}
		cycle.ResumeFrom(last)
		cycle.Observe(idx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/v1/ws", ws.NewServer(g, hub, logger).Handler())
	if envBool("LINKGATE_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		a := &adminAPI{store: store, gate: g, hub: hub, dataDir: cfg.DataDir, index: idx}
		a.register(mux, cycle)
	} else {
		logger.Info().Msg("admin endpoints disabled (LINKGATE_ENABLE_ADMIN_HTTP=false)")
	}

	driver := sched.NewDriver(cfg.TickHz, logger.With().Str("component", "sched").Logger())
	driver.Add("link", cycle)
	driver.Add("save", sched.TaskFunc(func(time.Time) sched.Result {
		if err := db.Save(self, store.Snapshot()); err != nil {
			logger.Error().Err(err).Msg("save objects")
		}
		return sched.Result{Wait: *saveEvery}
	}))

	ctx, cancel := signalContext()
	defer cancel()

	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	if envBool("LINKGATE_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info().Str("addr", cfg.Listen).Int64("peer_id", cfg.PeerID).Str("version", cfg.Version).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("ListenAndServe")
	}

	<-driverDone
	if err := db.Save(self, store.Snapshot()); err != nil {
		logger.Error().Err(err).Msg("final save")
	}
	logger.Info().Int("objects", store.Len()).Msg("shutdown complete")
}

// loadObjects restores the store from the database. An empty database is
// seeded from the import file, else from the configured objects.
func loadObjects(store *objstore.Store, db *snapshot.DB, cfg config.Config, importPath string, logger zerolog.Logger) error {
	objs, err := db.Load()
	if err != nil {
		return err
	}
	source := "database"
	if len(objs) == 0 && importPath != "" {
		ex, err := snapshot.ReadExport(importPath)
		if err != nil {
			return err
		}
		objs, source = ex.Objects, importPath
	}
	if len(objs) == 0 {
		if objs, err = cfg.SeedObjects(); err != nil {
			return err
		}
		source = "config"
	}
	store.Load(objs)
	logger.Info().Int("objects", len(objs)).Str("source", source).Msg("objects loaded")
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
