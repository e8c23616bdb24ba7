package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/oklog/run"
	_ "modernc.org/sqlite"

	"icsimport/internal/clock"
	"icsimport/internal/config"
	"icsimport/internal/ics"
	"icsimport/internal/importer"
	"icsimport/internal/lease"
	appLog "icsimport/internal/log"
	"icsimport/internal/memstore"
	"icsimport/internal/migrations"
	"icsimport/internal/model"
	"icsimport/internal/scheduler"
	"icsimport/internal/sqlite"
	"icsimport/internal/web"
)

const version = "0.1.0-dev"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	store      string
	once       bool
}

func main() {
	appLog.Info("icsimport starting", "version", version)

	flags := parseFlags()

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLog.Warn("failed to load .env", "err", err.Error())
	}

	ctx := context.Background()
	conf, err := config.Load(ctx, flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.SetFormat(conf.LogFormat)

	feed := "(unset)"
	if conf.Feed.URL != "" {
		feed = ics.RedactURL(conf.Feed.URL)
	}
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"refresh_interval", conf.RefreshInterval().String(),
		"window_before_days", conf.Feed.WindowBeforeDays,
		"window_after_days", conf.Feed.WindowAfterDays,
		"max_instances_per_series", conf.Feed.MaxInstancesPerSeries,
		"feed", feed,
		"store", flags.store,
		"once", flags.once,
	)

	if err := serve(ctx, conf, flags); err != nil {
		var sigErr run.SignalError
		if errors.As(err, &sigErr) {
			appLog.Info("signal received, shutting down", "signal", sigErr.Signal.String())
			appLog.Info("icsimport exiting")
			return
		}
		appLog.Error("icsimport failed", err)
		os.Exit(1)
	}
	appLog.Info("icsimport exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/icsimport/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.store, "store", "sqlite", "Record store: sqlite or memory")
	flag.BoolVar(&cfg.once, "once", false, "Run one import and exit")

	flag.Parse()

	return cfg
}

// stores bundles the record stores of one backend.
type stores struct {
	repo  model.Repository
	aux   model.AuxStore
	lease model.Lease
	close func() error
}

func openStores(conf *config.Config, kind string) (stores, error) {
	switch kind {
	case "memory":
		s := memstore.New()
		return stores{repo: s, aux: s, lease: lease.NewMemory(clock.System{}), close: func() error { return nil }}, nil

	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(conf.Database), 0o700); err != nil {
			return stores{}, fmt.Errorf("error creating database directory: %w", err)
		}
		dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", conf.Database))
		if err != nil {
			return stores{}, fmt.Errorf("error opening database: %w", err)
		}
		// Migrate, always
		if err := migrations.Run(dbx); err != nil {
			_ = dbx.Close()
			return stores{}, fmt.Errorf("error migrating: %w", err)
		}
		repo := sqlite.New(dbx)
		return stores{repo: repo, aux: repo, lease: repo, close: dbx.Close}, nil

	default:
		return stores{}, fmt.Errorf("unknown store %q", kind)
	}
}

func serve(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", conf.Timezone)
	}

	st, err := openStores(conf, flags.store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			appLog.Error("error closing store", err)
		}
	}()

	fetcher := ics.NewFetcher(conf.CacheDir,
		ics.WithUserAgent(conf.Feed.UserAgent),
		ics.WithRetries(conf.Feed.FetchRetries, 0),
	)
	engine, err := importer.NewEngine(st.repo, st.aux, ics.NewClient(fetcher, 0), st.lease, clock.System{}, importer.Settings{
		Location:              loc,
		RefreshInterval:       conf.RefreshInterval(),
		MaxInstancesPerSeries: conf.Feed.MaxInstancesPerSeries,
	})
	if err != nil {
		return fmt.Errorf("error creating importer: %w", err)
	}

	opts := importer.Options{
		FeedURL:      conf.Feed.URL,
		WindowBefore: conf.Feed.WindowBeforeDays,
		WindowAfter:  conf.Feed.WindowAfterDays,
	}

	if flags.once {
		_, err := engine.Run(ctx, opts)
		return err
	}

	sched, err := scheduler.New(conf.RefreshCron, loc, func(ctx context.Context) error {
		_, err := engine.Run(ctx, opts)
		return err
	})
	if err != nil {
		return err
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	{
		srv := web.NewServer(conf, engine, st.repo, opts, clock.System{}).HTTPServer()
		g.Add(func() error {
			appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("error listening: %w", err)
			}
			return nil
		}, func(error) {
			downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(downCtx); err != nil {
				appLog.Error("error shutting down server", err)
			}
		})
	}
	{
		schedCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return sched.Run(schedCtx)
		}, func(error) {
			cancel()
		})
	}

	return g.Run()
}
