// Package weekly runs the weekly report: compute last week's window, list the
// activities in it, print the report and optionally mail it.
package weekly

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joshdurbin/strava-weekly/internal/config"
	"github.com/joshdurbin/strava-weekly/internal/logging"
	"github.com/joshdurbin/strava-weekly/internal/report"
	"github.com/joshdurbin/strava-weekly/internal/strava"
)

// ActivityLister fetches activities started inside [after, before)
type ActivityLister interface {
	ListActivities(ctx context.Context, after, before int64, perPage int) ([]strava.Activity, error)
}

// Sender delivers the report
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// Result is what one run produced
type Result struct {
	RunID   string
	Window  Window
	Report  string
	Meta    report.Meta
	Emailed bool
}

// Job is one invocation of the weekly report
type Job struct {
	Activities ActivityLister
	Mailer     Sender
	SMTP       config.SMTP
	Location   *time.Location
	Out        io.Writer

	// Now defaults to time.Now
	Now func() time.Time
}

// Build lists the activities in w and summarizes them
func Build(ctx context.Context, activities ActivityLister, w Window) (string, report.Meta, error) {
	acts, err := activities.ListActivities(ctx, w.After.Unix(), w.Before.Unix(), 0)
	if err != nil {
		return "", report.Meta{}, fmt.Errorf("listing activities for %s: %w", w.Label, err)
	}
	text, meta := report.Summarize(acts)
	return text, meta, nil
}

// Subject is the mail subject for a window
func Subject(w Window) string {
	return fmt.Sprintf("Weekly training report (%s)", w.Label)
}

// Run prints last week's report to Out and mails it when mail is fully
// configured. A failed send is returned after the report has been printed.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}

	runID := uuid.NewString()
	log := logging.Logger.With().Str("run_id", runID).Logger()

	window := LastWeek(now(), j.Location)
	log.Info().
		Str("window", window.Label).
		Time("after", window.After).
		Time("before", window.Before).
		Msg("building weekly report")

	text, meta, err := Build(ctx, j.Activities, window)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:  runID,
		Window: window,
		Report: text,
		Meta:   meta,
	}

	fmt.Fprintf(j.Out, "=== WEEKLY REPORT %s ===\n", window.Label)
	fmt.Fprintln(j.Out, text)

	log.Info().
		Float64("total_hours", meta.TotalHours).
		Int("sports", len(meta.BySport)).
		Msg("report built")

	if !j.SMTP.Configured() {
		fmt.Fprintln(j.Out, "Email not configured. Report only printed to logs.")
		return result, nil
	}
	if missing := j.SMTP.Missing(); len(missing) > 0 {
		log.Warn().
			Str("missing", strings.Join(missing, ", ")).
			Msg("email settings incomplete, skipping email")
		fmt.Fprintln(j.Out, "Email not configured. Report only printed to logs.")
		return result, nil
	}

	if err := j.Mailer.Send(ctx, Subject(window), text); err != nil {
		return result, fmt.Errorf("sending report email: %w", err)
	}

	result.Emailed = true
	log.Info().Str("to", j.SMTP.To).Msg("report emailed")
	fmt.Fprintln(j.Out, "Email sent.")

	return result, nil
}
