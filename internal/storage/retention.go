package storage

import (
	"context"
	"time"

	"github.com/goodtune/ktime/internal/metrics"
	"github.com/rs/zerolog"
)

// RetentionScheduler prunes date-partitioned history once a day.
// With zero retention days it only logs; history is kept indefinitely.
type RetentionScheduler struct {
	store         Store
	retentionDays int
	checkTime     time.Time // only hour and minute are used
	location      *time.Location
	now           func() time.Time
	logger        zerolog.Logger
	stopChan      chan struct{}
	done          chan struct{}
}

// NewRetentionScheduler creates a retention scheduler. checkTime is HH:MM.
func NewRetentionScheduler(store Store, retentionDays int, checkTime string, loc *time.Location, logger zerolog.Logger) (*RetentionScheduler, error) {
	parsedTime, err := time.Parse("15:04", checkTime)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	return &RetentionScheduler{
		store:         store,
		retentionDays: retentionDays,
		checkTime:     parsedTime,
		location:      loc,
		now:           time.Now,
		logger:        logger.With().Str("component", "retention").Logger(),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Start begins the scheduler loop.
func (rs *RetentionScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("check_time", rs.checkTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("History retention scheduler started")
}

// Stop stops the scheduler loop, cancels an in-flight pass and waits for it
// to return.
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
	<-rs.done
	rs.logger.Info().Msg("History retention scheduler stopped")
}

func (rs *RetentionScheduler) run() {
	defer close(rs.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-rs.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		nextRun := rs.calculateNextRun()
		waitDuration := nextRun.Sub(rs.now())

		rs.logger.Debug().
			Time("next_run", nextRun).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next retention pass")

		select {
		case <-time.After(waitDuration):
			if _, err := rs.Prune(ctx); err != nil {
				rs.logger.Error().Err(err).Msg("Retention pass failed")
			}
		case <-rs.stopChan:
			return
		}
	}
}

func (rs *RetentionScheduler) calculateNextRun() time.Time {
	now := rs.now().In(rs.location)

	todayRun := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.checkTime.Hour(), rs.checkTime.Minute(), 0, 0,
		rs.location,
	)

	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1)
	}

	return todayRun
}

// Prune deletes date-partitioned keys older than the retention window and
// returns how many keys were removed.
func (rs *RetentionScheduler) Prune(ctx context.Context) (int, error) {
	if rs.retentionDays <= 0 {
		rs.logger.Debug().Msg("Retention disabled, keeping all history")
		return 0, nil
	}

	cutoff := FormatDate(rs.now().In(rs.location).AddDate(0, 0, -rs.retentionDays))

	var stale []string
	for _, prefix := range DatePrefixes {
		keys, err := rs.store.Keys(ctx, prefix)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("keys").Inc()
			return 0, err
		}
		for _, k := range keys {
			if _, date, ok := SplitDateKey(k); ok && date < cutoff {
				stale = append(stale, k)
			}
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	if err := rs.store.Delete(ctx, stale...); err != nil {
		metrics.StoreErrors.WithLabelValues("delete").Inc()
		return 0, err
	}
	metrics.RetentionDeletedKeys.Add(float64(len(stale)))

	rs.logger.Info().
		Int("keys_deleted", len(stale)).
		Str("cutoff_date", cutoff).
		Msg("Old history pruned")

	return len(stale), nil
}
