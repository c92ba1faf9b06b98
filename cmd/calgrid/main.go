package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calgrid/internal/bus"
	"calgrid/internal/calendar"
	"calgrid/internal/config"
	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/split"
	"calgrid/internal/store"
	"calgrid/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dump       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.Configure(conf.Log.Format, appLog.ParseLevel(conf.Log.Level))
	defer appLog.Sync()
	appLog.Info("calgrid starting", "version", version)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"store", conf.Store.Driver,
		"ics_count", len(conf.ICS),
		"once", flags.once,
		"dump", flags.dump,
	)

	if err := run(conf, flags); err != nil {
		appLog.Error("calgrid failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("calgrid exiting")
}

func run(conf *config.Config, flags flagConfig) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	persister, err := store.NewPersister(conf.Store.Driver, conf.Store.Path)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, persister)
	if err != nil {
		_ = persister.Close()
		return err
	}
	defer st.Close()

	b := bus.New()
	st.Attach(b)

	now := func() time.Time { return time.Now().In(loc) }
	builder := calendar.Builder{Source: st, WeekStart: conf.Weekday(), Now: now}
	ctrl := calendar.NewController(builder, bus.ViewWeek, model.DayOf(now()))
	ctrl.Attach(b)
	defer ctrl.Detach()

	metrics := web.NewMetrics(st.Len)
	importer, err := newImporter(conf, st, loc, now)
	if err != nil {
		return err
	}
	if importer != nil {
		importer.OnSync = metrics.ObserveSync
	}

	if flags.once {
		if importer != nil {
			report, err := importer.Sync(ctx)
			appLog.Info("one-shot sync finished", "events", report.Events, "errors", len(report.Errors), "stale", report.Stale)
			if err != nil {
				return err
			}
		}
		if flags.dump {
			return dumpView(ctrl)
		}
		return nil
	}

	var syncer web.Syncer
	if importer != nil {
		syncer = importer
		go func() {
			if _, err := importer.Sync(ctx); err != nil {
				appLog.Warn("initial ics sync finished with errors", "err", err.Error())
			}
		}()
		if conf.RefreshCron != "" {
			c, err := importer.Schedule(ctx, conf.RefreshCron)
			if err != nil {
				return err
			}
			defer func() { <-c.Stop().Done() }()
		}
	}

	ids := split.UUIDProvider{}
	srv := web.NewServer(conf, web.Deps{
		Store:      st,
		Bus:        b,
		Splitter:   split.New(ids),
		IDs:        ids,
		Builder:    builder,
		Controller: ctrl,
		Importer:   syncer,
		Metrics:    metrics,
		Location:   loc,
	})

	if flags.dump {
		if err := dumpView(ctrl); err != nil {
			return err
		}
	}
	return web.ListenAndServe(ctx, conf.Listen, srv.Handler())
}

// newImporter returns nil when no ICS sources are configured.
func newImporter(conf *config.Config, st *store.Store, loc *time.Location, now func() time.Time) (*ics.Importer, error) {
	if len(conf.ICS) == 0 {
		return nil, nil
	}
	fetcher, err := ics.NewFetcher(conf.ICSCacheDir, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		sources = append(sources, ics.Source{ID: c.ID, Name: c.Name, URL: c.URL, Color: c.Color})
	}
	return &ics.Importer{
		Fetcher:  fetcher,
		Sources:  sources,
		Target:   st,
		Location: loc,
		Backfill: conf.BackfillDays,
		Horizon:  conf.HorizonDays,
		Now:      now,
	}, nil
}

func dumpView(ctrl *calendar.Controller) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(ctrl.Current())
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calgrid/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one ICS sync and exit")
	flag.BoolVar(&cfg.dump, "dump", false, "Print the current view as JSON")

	flag.Parse()

	return cfg
}
