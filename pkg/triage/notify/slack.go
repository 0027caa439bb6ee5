// Package notify posts run summaries to Slack.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/slack-go/slack"
)

// Summary describes a finished fetch-and-analyze run.
type Summary struct {
	RunID      string
	Tickets    int
	Suggested  int
	Patterns   []string
	ReportPath string
	Duration   time.Duration
	Err        error
}

// Text renders the Slack message body.
func (s Summary) Text() string {
	if s.Err != nil {
		return fmt.Sprintf("Ticket triage run %s failed: %v", s.RunID, s.Err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket triage run %s complete: %s tickets analyzed, %s with suggestions",
		s.RunID, humanize.Comma(int64(s.Tickets)), humanize.Comma(int64(s.Suggested)))
	if s.Duration > 0 {
		fmt.Fprintf(&b, " in %s", s.Duration.Round(time.Second))
	}
	if len(s.Patterns) > 0 {
		fmt.Fprintf(&b, "\nRecurring keywords: %s", strings.Join(s.Patterns, ", "))
	}
	if s.ReportPath != "" {
		fmt.Fprintf(&b, "\nReport: %s", s.ReportPath)
	}
	return b.String()
}

// Slack posts to one channel. A nil *Slack discards every message.
type Slack struct {
	api     *slack.Client
	channel string
}

// NewSlack returns nil when token or channel is empty.
func NewSlack(token, channel string, opts ...slack.Option) *Slack {
	if token == "" || channel == "" {
		return nil
	}
	return &Slack{api: slack.New(token, opts...), channel: channel}
}

// PostRunSummary sends s to the configured channel.
func (n *Slack) PostRunSummary(ctx context.Context, s Summary) error {
	if n == nil {
		return nil
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(s.Text(), false))
	if err != nil {
		return fmt.Errorf("post run summary: %w", err)
	}
	return nil
}
