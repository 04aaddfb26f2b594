package incremental

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"covhook/scan-runner/internal/model"
)

// Tracker computes coverage deltas against the previous snapshot of a
// service. It never fails a scan: store errors are logged and yield no delta.
type Tracker struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewTracker(store Store, log logrus.FieldLogger) *Tracker {
	return &Tracker{store: store, log: log, now: time.Now}
}

// Track returns the per-counter percentage change since the last snapshot,
// or nil when there is none, then stores report as the new snapshot.
// Placeholder reports are neither compared nor stored.
func (t *Tracker) Track(ctx context.Context, service, commitID string, report *model.CoverageReport) model.Delta {
	if report == nil || report.NoData {
		return nil
	}
	log := t.log.WithFields(logrus.Fields{"service": service, "commit": commitID, "stage": model.StageTracking})

	var delta model.Delta
	prev, ok, err := t.store.Load(ctx, service)
	switch {
	case err != nil:
		log.WithError(err).Warn("could not load previous coverage snapshot")
	case ok && prev.Report != nil:
		delta = Diff(prev.Report, report)
	}

	snap := Snapshot{CommitID: commitID, Report: report, RecordedAt: t.now().UTC()}
	if err := t.store.Save(ctx, service, snap); err != nil {
		log.WithError(err).Warn("could not store coverage snapshot")
	}
	return delta
}

// Diff returns current minus previous percentage for every counter type
// present in either report.
func Diff(prev, curr *model.CoverageReport) model.Delta {
	delta := model.Delta{}
	for _, typ := range model.CounterTypes {
		_, inPrev := prev.Counters[typ]
		_, inCurr := curr.Counters[typ]
		if !inPrev && !inCurr {
			continue
		}
		delta[typ] = model.Round2(curr.Percentage(typ) - prev.Percentage(typ))
	}
	return delta
}
