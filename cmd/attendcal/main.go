package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/xlab/closer"

	"attendcal/internal/backend"
	"attendcal/internal/cache"
	"attendcal/internal/config"
	"attendcal/internal/fetch"
	"attendcal/internal/ics"
	appLog "attendcal/internal/log"
	"attendcal/internal/occurrence"
	"attendcal/internal/refresh"
	"attendcal/internal/tzdate"
	"attendcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	if err := appLog.Init(conf.Production); err != nil {
		fmt.Fprintf(os.Stderr, "unable to initialize logger: %v\n", err)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	closer.Bind(appLog.Sync)

	appLog.Info("attendcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"display_timezone", conf.DisplayTimezone,
		"refresh", conf.RefreshCron,
		"backfill_days", conf.BackfillDays,
		"horizon_days", conf.HorizonDays,
		"backend_url", fetch.RedactURL(conf.Backend.URL),
		"ics_count", len(conf.ICS),
		"redis", conf.Cache.RedisURL != "",
		"once", flags.once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	closer.Bind(cancel)

	refresher := refresh.New(fetch.New(conf.Cache.Dir, nil), sourcesFrom(conf), nil)

	if flags.once {
		os.Exit(runOnce(ctx, conf, refresher))
	}

	if err := refresher.Refresh(ctx); err != nil {
		appLog.Error("initial refresh had errors", err)
	}

	loc, err := tzdate.LoadLocation(conf.DisplayTimezone)
	if err != nil {
		appLog.Error("invalid display timezone", err, "display_timezone", conf.DisplayTimezone)
		closer.Exit(1)
	}
	if err := refresher.Start(ctx, conf.RefreshCron, loc); err != nil {
		appLog.Error("failed to start refresh scheduler", err)
		closer.Exit(1)
	}
	closer.Bind(refresher.Stop)

	srv := web.NewServer(conf, refresher, newStore(conf))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := web.ListenAndServe(ctx, conf.Listen, srv.Handler()); err != nil {
			appLog.Error("HTTP server failed", err, "listen", conf.Listen)
			closer.Close()
		}
	}()
	closer.Bind(func() {
		cancel()
		<-done
		appLog.Info("attendcal exiting")
	})

	closer.Hold()
}

// runOnce refreshes, projects the default window and reports the count.
func runOnce(ctx context.Context, conf *config.Config, r *refresh.Refresher) int {
	if err := r.Refresh(ctx); err != nil {
		appLog.Error("refresh had errors", err)
		if r.Snapshot().Version == 0 {
			return 1
		}
	}
	res, err := occurrence.ProjectAll(r.Snapshot().Events, occurrence.Options{
		DisplayTimeZone:        conf.DisplayTimezone,
		BackfillDays:           conf.BackfillDays,
		HorizonDays:            conf.HorizonDays,
		MaxOccurrencesPerEvent: conf.MaxOccurrencesPerEvent,
	})
	if err != nil {
		appLog.Error("projection failed", err)
		return 1
	}
	appLog.Info("projection done",
		"events", len(r.Snapshot().Events),
		"occurrences", len(res.Occurrences),
		"truncated", len(res.TruncatedEvents),
		"skipped", len(res.Skipped),
	)
	fmt.Println(len(res.Occurrences))
	appLog.Sync()
	return 0
}

func sourcesFrom(conf *config.Config) refresh.Sources {
	s := refresh.Sources{
		Backend: fetch.Source{
			ID:    backend.SourceID,
			URL:   conf.Backend.URL,
			Token: conf.Backend.Token,
		},
		ICS: make([]ics.Source, 0, len(conf.ICS)),
	}
	for _, c := range conf.ICS {
		tz := c.Timezone
		if tz == "" {
			tz = conf.DisplayTimezone
		}
		s.ICS = append(s.ICS, ics.Source{ID: c.SourceID(), URL: c.URL, TimeZone: tz})
	}
	return s
}

func newStore(conf *config.Config) cache.Store {
	if conf.Cache.RedisURL == "" {
		return cache.NewMemoryStore(nil)
	}
	store := cache.NewRedisStore(cache.NewRedisPool(conf.Cache.RedisURL), "attendcal:")
	closer.Bind(func() {
		if err := store.Close(); err != nil {
			appLog.Warn("redis pool close failed", "err", err)
		}
	})
	appLog.Info("response cache backed by redis", "url", fetch.RedactURL(conf.Cache.RedisURL))
	return store
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/attendcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh once, print the occurrence count and exit")

	flag.Parse()

	return cfg
}
