package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Workspace.MaxConcurrent)
	assert.Equal(t, 16, cfg.Workspace.MaxQueue)
	assert.Equal(t, 2, *cfg.Fetch.RecloneAttempts)
	assert.Equal(t, 5*time.Minute, cfg.ToolTimeout)
	assert.Equal(t, []string{"vet", "lint"}, cfg.DefaultTools)
	assert.Equal(t, []domain.ToolID{"vet", "lint"}, cfg.PriorityIDs())
	assert.Empty(t, cfg.Database.Driver)

	specs := cfg.ToolSpecs()
	require.Contains(t, specs, domain.ToolID("vet"))
	assert.Equal(t, domain.StreamStderr, specs["vet"].Stream)
	assert.Equal(t, "golangci", specs["lint"].Format)
}

func TestLoadYAML(t *testing.T) {
	path := writeYAML(t, `
server:
  port: 9090
  apiKeys: [k1]
workspace:
  root: /srv/ws
  maxConcurrent: 2
  maxQueue: 3
  acquireTimeout: 30s
  retain: 5
fetch:
  recloneAttempts: 0
tools:
  vet:
    binary: vetcheck
    args: ["./..."]
    stream: stderr
    format: vet
    timeout: 90s
  tests:
    binary: go
    args: ["test", "-json", "./..."]
    format: gotest
defaultTools: [vet]
database:
  driver: postgres
  host: db
  port: 5432
  user: lint
  password: secret
  name: runs
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"k1"}, cfg.Server.APIKeys)
	assert.Equal(t, "/srv/ws", cfg.Workspace.Root)
	assert.Equal(t, 30*time.Second, cfg.Workspace.AcquireTimeout)
	assert.Equal(t, 5, cfg.Workspace.Retain)
	assert.Equal(t, 0, *cfg.Fetch.RecloneAttempts)
	assert.Equal(t, 90*time.Second, cfg.Tools["vet"].Timeout)
	assert.Equal(t, "stdout", cfg.Tools["tests"].Stream)
	assert.Equal(t, []domain.ToolID{"vet"}, cfg.DefaultToolIDs())
	assert.NotContains(t, cfg.Tools, "lint")
	assert.Equal(t, "host=db port=5432 user=lint password=secret dbname=runs sslmode=disable", cfg.PostgresDSN())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeYAML(t, "server:\n  port: 9090\n")
	t.Setenv("PORT", "7070")
	t.Setenv("WORKSPACE_ROOT", "/data/ws")
	t.Setenv("MAX_CONCURRENT_WORKSPACES", "8")
	t.Setenv("MAX_QUEUE_DEPTH", "32")
	t.Setenv("TOOL_TIMEOUT", "45s")
	t.Setenv("VET_BINARY", "/usr/local/bin/vetcheck")
	t.Setenv("LINT_BINARY", "/opt/golangci-lint")
	t.Setenv("DATABASE_DSN", "u:p@tcp(db:3306)/runs")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/x")
	t.Setenv("SLACK_SIGNING_SECRET", "s3cret")
	t.Setenv("API_KEYS", "a, b,,")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/data/ws", cfg.Workspace.Root)
	assert.Equal(t, 8, cfg.Workspace.MaxConcurrent)
	assert.Equal(t, 32, cfg.Workspace.MaxQueue)
	assert.Equal(t, 45*time.Second, cfg.ToolTimeout)
	assert.Equal(t, "/usr/local/bin/vetcheck", cfg.Tools["vet"].Binary)
	assert.Equal(t, []string{"vet", "./..."}, cfg.Tools["vet"].Args)
	assert.Equal(t, "/opt/golangci-lint", cfg.Tools["lint"].Binary)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "u:p@tcp(db:3306)/runs", cfg.MySQLDSN())
	assert.Equal(t, "https://hooks.slack.com/services/x", cfg.Slack.WebhookURL)
	assert.Equal(t, "s3cret", cfg.Slack.SigningSecret)
	assert.Equal(t, []string{"a", "b"}, cfg.Server.APIKeys)
}

func TestBadEnvNumber(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_WORKSPACES", "many")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "MAX_CONCURRENT_WORKSPACES")
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown format":   "tools:\n  x:\n    binary: x\n    format: sarif\n",
		"no binary":        "tools:\n  x:\n    format: vet\n",
		"bad stream":       "tools:\n  x:\n    binary: x\n    stream: both\n",
		"missing default":  "tools:\n  x:\n    binary: x\ndefaultTools: [vet]\n",
		"negative queue":   "workspace:\n  maxQueue: -1\n",
		"negative reclone": "fetch:\n  recloneAttempts: -3\n",
		"bad driver":       "database:\n  driver: sqlite\n",
		"bad port":         "server:\n  port: 70000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeYAML(t, body))
			assert.Error(t, err)
		})
	}
}

func TestMalformedYAML(t *testing.T) {
	_, err := Load(writeYAML(t, "server: [unterminated"))
	assert.ErrorContains(t, err, "parse")
}
