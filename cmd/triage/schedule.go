package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cognicore/triage/pkg/triage/config"
	"github.com/cognicore/triage/pkg/triage/notify"
)

func runSchedule(ctx context.Context, stdout io.Writer, args []string) error {
	var g globalFlags
	var opts fetchOptions
	var expr string
	var lookback time.Duration
	fs := newFlagSet("schedule", "schedule [--cron EXPR] [flags]", stdout)
	g.add(fs)
	opts.addFlags(fs)
	fs.StringVar(&expr, "cron", "", "5-field cron expression (default: schedule.cron)")
	fs.DurationVar(&lookback, "lookback", 0, "analyze tickets updated within this window (default: schedule.lookback_hours)")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	cfg, closeLog, err := g.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	expr = strings.TrimSpace(pick(expr, cfg.Schedule.Cron))
	if expr == "" {
		return fmt.Errorf("no schedule: set --cron or schedule.cron")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if lookback <= 0 {
		lookback = time.Duration(cfg.Schedule.LookbackHours) * time.Hour
	}

	notifier := notify.NewSlack(cfg.Notify.SlackBotToken, cfg.Notify.SlackChannelID)
	if notifier == nil {
		slog.Info("slack notifications disabled (notify.slack_bot_token or notify.slack_channel_id not set)")
	}
	slog.Info("triage scheduled", "cron", expr, "lookback", lookback)

	for {
		now := time.Now()
		next := sched.Next(now)
		wait := next.Sub(now)
		slog.Info("next scheduled run", "at", next.Format("Mon Jan 2 15:04"), "in", wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}
		scheduledRun(ctx, cfg, opts, next, lookback, notifier)
	}
}

// scheduledRun performs one fetch for the tick at and reports the outcome.
// Failures are logged and posted, never returned, so the loop keeps going.
func scheduledRun(ctx context.Context, cfg config.Config, opts fetchOptions, at time.Time, lookback time.Duration, notifier *notify.Slack) notify.Summary {
	opts.updatedSince = at.Add(-lookback).UTC()
	name := pick(opts.reportName, cfg.Reporting.ReportFilename)
	ext := filepath.Ext(name)
	opts.reportName = strings.TrimSuffix(name, ext) + "_" + at.Format("20060102T1504") + ext

	started := time.Now()
	out, err := fetchAndAnalyze(ctx, cfg, opts)
	summary := notify.Summary{
		RunID:      out.Result.RunID,
		Tickets:    len(out.Result.Tickets),
		Suggested:  out.Result.Suggested(),
		ReportPath: out.ReportPath,
		Duration:   time.Since(started),
		Err:        err,
	}
	for _, p := range out.Result.Analysis.Patterns {
		if len(summary.Patterns) == 5 {
			break
		}
		summary.Patterns = append(summary.Patterns, p.Token)
	}
	if err != nil {
		slog.Error("scheduled run failed", "error", err)
	} else {
		slog.Info("scheduled run complete", "run_id", summary.RunID, "tickets", summary.Tickets, "suggested", summary.Suggested)
	}
	if postErr := notifier.PostRunSummary(ctx, summary); postErr != nil {
		slog.Warn("slack post failed", "error", postErr)
	}
	return summary
}
