package main

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// untilNext returns the wait from now until the time of day of at is next reached, in at's zone.
func untilNext(now time.Time, at time.Time) time.Duration {
	now = now.In(at.Location())
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), at.Second(), 0, at.Location())
	if next.Before(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// pauseAndResume calls operation every day at the time of day of at until ctx ends.
func pauseAndResume(ctx context.Context, clock clockwork.Clock, at time.Time, name string,
	operation func(), sugar *zap.SugaredLogger) {
	wait := untilNext(clock.Now(), at)
	for {
		select {
		case <-ctx.Done():
			return
		case <-clock.After(wait):
		}
		wait = 24 * time.Hour
		sugar.Infof("Scheduled queue %s", name)
		operation()
	}
}

// schedulePauseWindow stops the runner daily at pause and starts it again at resume.
func schedulePauseWindow(ctx context.Context, clock clockwork.Clock, pause, resume string,
	stop, start func(), sugar *zap.SugaredLogger) error {
	pauseTime, err := time.Parse(time.RFC3339, pause)
	if err != nil {
		return err
	}
	resumeTime, err := time.Parse(time.RFC3339, resume)
	if err != nil {
		return err
	}
	sugar.Infof("Queue pause time: %s, resume time: %s", pauseTime.Format("15:04:05Z07:00"), resumeTime.Format("15:04:05Z07:00"))
	go pauseAndResume(ctx, clock, pauseTime, "pause", stop, sugar)
	go pauseAndResume(ctx, clock, resumeTime, "resume", start, sugar)
	return nil
}
