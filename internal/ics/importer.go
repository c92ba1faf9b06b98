package ics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// Replacer receives the full event set of one source after each sync.
type Replacer interface {
	ReplaceSource(ctx context.Context, source string, events []model.Event) error
}

// SyncReport summarizes one Importer.Sync run.
type SyncReport struct {
	StartedAt time.Time      `json:"startedAt"`
	Duration  time.Duration  `json:"duration"`
	Events    map[string]int `json:"events"`
	Errors    []string       `json:"errors,omitempty"`
	// Stale lists sources imported from their cached body after a failed
	// download.
	Stale []string `json:"stale,omitempty"`
}

// Importer pulls every configured feed into a Replacer. Only one sync runs at
// a time; concurrent callers wait for it.
type Importer struct {
	Fetcher  *Fetcher
	Sources  []Source
	Target   Replacer
	Location *time.Location
	// Backfill and Horizon bound the expansion window around today, in days.
	Backfill int
	Horizon  int
	Now      func() time.Time
	// OnSync, if set, observes every finished run.
	OnSync func(SyncReport, error)

	mu   sync.Mutex
	last SyncReport
}

func (im *Importer) now() time.Time {
	if im.Now != nil {
		return im.Now()
	}
	return time.Now()
}

// Window returns the expansion range for the current day.
func (im *Importer) Window() (time.Time, time.Time) {
	loc := im.Location
	if loc == nil {
		loc = time.Local
	}
	today := model.DayOf(im.now().In(loc))
	return today.AddDays(-im.Backfill).Time(loc), today.AddDays(im.Horizon + 1).Time(loc)
}

// Sync fetches, parses and expands every source and replaces its events in
// the target. A failing source keeps its previously imported events.
func (im *Importer) Sync(ctx context.Context) (SyncReport, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	report := SyncReport{StartedAt: im.now(), Events: map[string]int{}}
	rangeStart, rangeEnd := im.Window()

	var errs []error
	for _, src := range im.Sources {
		n, stale, err := im.syncOne(ctx, src, rangeStart, rangeEnd)
		if err != nil {
			errs = append(errs, err)
			report.Errors = append(report.Errors, err.Error())
			appLog.Error("ics source sync failed", err, "id", src.ID)
			continue
		}
		report.Events[src.ID] = n
		if stale {
			report.Stale = append(report.Stale, src.ID)
		}
	}
	report.Duration = im.now().Sub(report.StartedAt)
	im.last = report
	err := errors.Join(errs...)

	appLog.Info("ics sync completed",
		"sources", len(im.Sources),
		"failed", len(errs),
		"stale", len(report.Stale),
		"duration", report.Duration.String(),
	)
	if im.OnSync != nil {
		im.OnSync(report, err)
	}
	return report, err
}

// syncOne reports stale when the events came from the cached feed body.
func (im *Importer) syncOne(ctx context.Context, src Source, rangeStart, rangeEnd time.Time) (int, bool, error) {
	res, err := im.Fetcher.FetchOne(ctx, src)
	if err != nil {
		return 0, false, err
	}
	parsed, err := ParseICS(src, res.Body, im.Location)
	if err != nil {
		return 0, false, fmt.Errorf("source %s: %w", src.ID, err)
	}
	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: im.Location,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
	})
	if err != nil {
		return 0, false, fmt.Errorf("source %s: %w", src.ID, err)
	}

	events := ToEvents(expanded.Occurrences)
	if err := im.Target.ReplaceSource(ctx, src.ID, events); err != nil {
		return 0, false, fmt.Errorf("source %s: %w", src.ID, err)
	}
	return len(events), res.Stale(), nil
}

// LastReport returns the result of the most recent sync.
func (im *Importer) LastReport() SyncReport {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.last
}

// Schedule runs Sync on the cron spec (standard five fields or descriptors
// such as "@every 15m") until the returned cron is stopped.
func (im *Importer) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	opts := []cron.Option{}
	if im.Location != nil {
		opts = append(opts, cron.WithLocation(im.Location))
	}
	c := cron.New(opts...)
	_, err := c.AddFunc(spec, func() {
		if _, err := im.Sync(ctx); err != nil {
			appLog.Warn("scheduled ics sync finished with errors", "err", err.Error())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ics: invalid refresh schedule %q: %w", spec, err)
	}
	c.Start()
	appLog.Info("ics refresh scheduled", "spec", spec, "sources", len(im.Sources))
	return c, nil
}
