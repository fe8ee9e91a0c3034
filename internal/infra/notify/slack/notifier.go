package slack

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

const (
	// maxToolLines bounds the per-tool section of a message.
	maxToolLines = 10
	// Slack rejects header blocks with longer plain text.
	maxHeaderRunes = 150
)

// Notifier posts run summaries to a Slack incoming webhook.
type Notifier struct {
	WebhookURL string
	Channel    string
	Username   string
	HTTP       *http.Client
}

func NewNotifier(webhookURL, channel, username string) *Notifier {
	return &Notifier{
		WebhookURL: webhookURL,
		Channel:    channel,
		Username:   username,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) Notify(ctx context.Context, run *domain.Run) error {
	client := n.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	if err := slackapi.PostWebhookCustomHTTPContext(ctx, n.WebhookURL, client, n.message(run)); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func (n *Notifier) message(run *domain.Run) *slackapi.WebhookMessage {
	emoji, outcome := ":white_check_mark:", "completed"
	if run.Status != domain.RunCompleted {
		emoji, outcome = ":x:", "failed"
	}
	for _, rep := range run.Tools {
		if rep.Status != domain.ToolOK && run.Status == domain.RunCompleted {
			emoji = ":warning:"
		}
	}
	title := truncate(fmt.Sprintf("%s Lint run %s: %s@%s", emoji, outcome, run.RepoURL, run.Revision), maxHeaderRunes)

	blocks := []slackapi.Block{
		slackapi.NewHeaderBlock(slackapi.NewTextBlockObject(slackapi.PlainTextType, title, true, false)),
		slackapi.NewSectionBlock(nil, []*slackapi.TextBlockObject{
			mrkdwn(fmt.Sprintf("*Errors:*\n%d", run.Counts.Error)),
			mrkdwn(fmt.Sprintf("*Warnings:*\n%d", run.Counts.Warning)),
			mrkdwn(fmt.Sprintf("*Info:*\n%d", run.Counts.Info)),
			mrkdwn(fmt.Sprintf("*Duration:*\n%s", time.Duration(run.DurationMS)*time.Millisecond)),
		}, nil),
	}

	if run.Error != "" {
		blocks = append(blocks, slackapi.NewSectionBlock(mrkdwn(fmt.Sprintf("*%s:* %s", run.ErrorKind, truncate(run.Error, 500))), nil, nil))
	}

	if len(run.Tools) > 0 {
		ids := make([]domain.ToolID, 0, len(run.Tools))
		for id := range run.Tools {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		var b strings.Builder
		b.WriteString("*Tools:*\n")
		for i, id := range ids {
			if i == maxToolLines {
				fmt.Fprintf(&b, "... and %d more", len(ids)-maxToolLines)
				break
			}
			rep := run.Tools[id]
			fmt.Fprintf(&b, "• `%s` %s, %d findings", id, rep.Status, rep.Findings)
			if rep.Error != "" {
				fmt.Fprintf(&b, ": %s", truncate(rep.Error, 100))
			}
			b.WriteByte('\n')
		}
		blocks = append(blocks, slackapi.NewSectionBlock(mrkdwn(b.String()), nil, nil))
	}

	return &slackapi.WebhookMessage{
		Channel:  n.Channel,
		Username: n.Username,
		Text:     fmt.Sprintf("Lint run %s: %d findings", outcome, run.Counts.Total),
		Blocks:   &slackapi.Blocks{BlockSet: blocks},
	}
}

func mrkdwn(s string) *slackapi.TextBlockObject {
	return slackapi.NewTextBlockObject(slackapi.MarkdownType, s, false, false)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
