package httpserver

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	slackapi "github.com/slack-go/slack"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// SlashCommands configures the Slack slash command endpoint.
type SlashCommands struct {
	SigningSecret string
	// Command is the slash command to answer, "/lint" when empty.
	Command string
}

func (c SlashCommands) command() string {
	if c.Command == "" {
		return "/lint"
	}
	return c.Command
}

const (
	slashUsage = "usage: %s <repo-url> [revision] [tool,tool...]"

	replyInChannel = "in_channel"
	replyEphemeral = "ephemeral"
)

// POST /slack/commands
// Text: "<repo-url> [revision] [tool,tool...]". The run is started in the
// background and its result arrives through the configured notifier.
func (r *Router) handleSlackCommand(w http.ResponseWriter, req *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	sv, err := slackapi.NewSecretsVerifier(req.Header, r.opts.Slack.SigningSecret)
	if err != nil {
		http.Error(w, "missing or stale signature", http.StatusUnauthorized)
		return
	}
	if _, err := sv.Write(raw); err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	if err := sv.Ensure(); err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	req.Body = io.NopCloser(bytes.NewReader(raw))
	cmd, err := slackapi.SlashCommandParse(req)
	if err != nil {
		http.Error(w, "malformed command", http.StatusBadRequest)
		return
	}

	name := r.opts.Slack.command()
	if cmd.Command != name {
		writeJSON(w, http.StatusOK, reply(replyEphemeral, "unsupported command "+cmd.Command))
		return
	}

	body, ok := parseSlashText(cmd.Text)
	if !ok {
		writeJSON(w, http.StatusOK, reply(replyEphemeral, fmt.Sprintf(slashUsage, name)))
		return
	}
	areq, err := r.request(body)
	if err == nil {
		var id string
		if id, err = r.svc.Submit(req.Context(), areq); err == nil {
			r.log.Info("slack command accepted", "request_id", id, "user", cmd.UserName, "channel", cmd.ChannelName)
			writeJSON(w, http.StatusOK, reply(replyInChannel,
				fmt.Sprintf("Lint run `%s` started for %s@%s", id, areq.RepoURL, revisionOrDefault(areq.Revision))))
			return
		}
	}
	// Slack only shows replies that come back with 200
	writeJSON(w, http.StatusOK, reply(replyEphemeral,
		fmt.Sprintf("Could not start a lint run (%s): %v", domain.KindOf(err), err)))
}

func parseSlashText(text string) (analyzeBody, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || len(fields) > 3 {
		return analyzeBody{}, false
	}
	body := analyzeBody{RepoURL: unwrapLink(fields[0])}
	if len(fields) > 1 {
		body.Revision = fields[1]
	}
	if len(fields) > 2 {
		for _, t := range strings.Split(fields[2], ",") {
			if t = strings.TrimSpace(t); t != "" {
				body.Tools = append(body.Tools, t)
			}
		}
	}
	return body, true
}

// unwrapLink undoes Slack's link escaping: "<https://x|label>" is https://x.
func unwrapLink(s string) string {
	if !strings.HasPrefix(s, "<") || !strings.HasSuffix(s, ">") {
		return s
	}
	s = s[1 : len(s)-1]
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	return s
}

func revisionOrDefault(rev string) string {
	if rev == "" {
		return "HEAD"
	}
	return rev
}

func reply(responseType, text string) *slackapi.Msg {
	return &slackapi.Msg{ResponseType: responseType, Text: text}
}
