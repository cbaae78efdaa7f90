package main

import (
	"context"
	"time"
)

const (
	jobReminders           = "reminders"
	jobConsentTokenCleanup = "consent-token-cleanup"
	jobSubscriptionSync    = "subscription-sync"
)

var jobNames = []string{jobReminders, jobConsentTokenCleanup, jobSubscriptionSync}

// reminderDay is the calendar day whose appointments get reminded: tomorrow
// in loc.
func reminderDay(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

func (a *app) registerJobs(loc *time.Location) error {
	if err := a.jobs.Register(jobReminders, a.cfg.ReminderCron, func(ctx context.Context) error {
		day := reminderDay(time.Now(), loc)
		report, err := a.scheduling.SendDailyReminders(ctx, day)
		if report != nil {
			a.logger.Info().
				Str("day", day.Format("2006-01-02")).
				Int("sent", report.Sent).
				Int("whatsapp", report.WhatsApp).
				Int("email", report.Email).
				Int("skipped", report.Skipped).
				Int("failed", report.Failed).
				Msg("appointment reminders")
		}
		return err
	}); err != nil {
		return err
	}

	if err := a.jobs.Register(jobConsentTokenCleanup, "@hourly", func(ctx context.Context) error {
		_, err := a.consent.CleanupExpiredTokens(ctx)
		return err
	}); err != nil {
		return err
	}

	return a.jobs.Register(jobSubscriptionSync, "30 3 * * *", a.subscription.SyncAll)
}
