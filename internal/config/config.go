package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// Tool is one launchable analysis tool.
type Tool struct {
	Binary  string        `yaml:"binary"`
	Args    []string      `yaml:"args"`
	Image   string        `yaml:"image"`
	Env     []string      `yaml:"env"`
	Stream  string        `yaml:"stream"`
	Format  string        `yaml:"format"`
	Timeout time.Duration `yaml:"timeout"`
}

type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		APIKeys      []string      `yaml:"apiKeys"`
		CORSOrigins  []string      `yaml:"corsOrigins"`
		RateLimit    struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rateLimit"`
		// AllowLocalRepos lets requests name file:// and absolute-path repositories.
		AllowLocalRepos bool `yaml:"allowLocalRepos"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Workspace struct {
		Root           string        `yaml:"root"`
		MaxConcurrent  int           `yaml:"maxConcurrent"`
		MaxQueue       int           `yaml:"maxQueue"`
		AcquireTimeout time.Duration `yaml:"acquireTimeout"`
		Retain         int           `yaml:"retain"`
	} `yaml:"workspace"`

	Fetch struct {
		Binary          string        `yaml:"binary"`
		RecloneAttempts *int          `yaml:"recloneAttempts"`
		Timeout         time.Duration `yaml:"timeout"`
	} `yaml:"fetch"`

	Docker struct {
		Binary string `yaml:"binary"`
	} `yaml:"docker"`

	Tools        map[string]Tool `yaml:"tools"`
	DefaultTools []string        `yaml:"defaultTools"`
	// Priority decides which tool keeps a finding several tools report.
	Priority    []string      `yaml:"priority"`
	ToolTimeout time.Duration `yaml:"toolTimeout"`

	Database struct {
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey  string `yaml:"apiKey"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"baseURL"`
	} `yaml:"openai"`

	Slack struct {
		WebhookURL    string `yaml:"webhookURL"`
		Channel       string `yaml:"channel"`
		Username      string `yaml:"username"`
		// SigningSecret enables the slash command endpoint.
		SigningSecret string `yaml:"signingSecret"`
		Command       string `yaml:"command"`
	} `yaml:"slack"`
}

// Load reads the YAML file at path (a missing file is fine), then .env,
// then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	// existing environment always wins over .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	if err := num("PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := num("MAX_CONCURRENT_WORKSPACES", &c.Workspace.MaxConcurrent); err != nil {
		return err
	}
	if err := num("MAX_QUEUE_DEPTH", &c.Workspace.MaxQueue); err != nil {
		return err
	}
	if v, ok := lookup("TOOL_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TOOL_TIMEOUT: %w", err)
		}
		c.ToolTimeout = d
	}
	str("WORKSPACE_ROOT", &c.Workspace.Root)
	str("LOG_LEVEL", &c.Log.Level)
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_DSN", &c.Database.DSN)
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("SLACK_WEBHOOK_URL", &c.Slack.WebhookURL)
	str("SLACK_SIGNING_SECRET", &c.Slack.SigningSecret)
	if v, ok := lookup("API_KEYS"); ok && v != "" {
		c.Server.APIKeys = splitList(v)
	}

	for key, tool := range map[string]string{"VET_BINARY": "vet", "LINT_BINARY": "lint"} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		if c.Tools == nil {
			c.Tools = defaultTools()
		}
		t, exists := c.Tools[tool]
		if !exists {
			t = defaultTools()[tool]
		}
		t.Binary = v
		c.Tools[tool] = t
	}
	return nil
}

func defaultTools() map[string]Tool {
	return map[string]Tool{
		"vet": {
			Binary: "go",
			Args:   []string{"vet", "./..."},
			Stream: string(domain.StreamStderr),
			Format: "vet",
		},
		"lint": {
			Binary: "golangci-lint",
			Args:   []string{"run", "--out-format", "json", "--issues-exit-code", "1", "./..."},
			Stream: string(domain.StreamStdout),
			Format: "golangci",
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// analysis requests are answered synchronously
		c.Server.WriteTimeout = 15 * time.Minute
	}
	if c.Server.RateLimit.RPS == 0 {
		c.Server.RateLimit.RPS = 5
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Workspace.Root == "" {
		c.Workspace.Root = filepath.Join(os.TempDir(), "automaton-lint")
	}
	if c.Workspace.MaxConcurrent == 0 {
		c.Workspace.MaxConcurrent = 4
	}
	if c.Workspace.MaxQueue == 0 {
		c.Workspace.MaxQueue = 16
	}
	if c.Workspace.AcquireTimeout == 0 {
		c.Workspace.AcquireTimeout = 2 * time.Minute
	}

	if c.Fetch.Binary == "" {
		c.Fetch.Binary = "git"
	}
	if c.Fetch.RecloneAttempts == nil {
		n := 2
		c.Fetch.RecloneAttempts = &n
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 5 * time.Minute
	}
	if c.Docker.Binary == "" {
		c.Docker.Binary = "docker"
	}

	if len(c.Tools) == 0 {
		c.Tools = defaultTools()
	}
	for id, t := range c.Tools {
		if t.Stream == "" {
			t.Stream = string(domain.StreamStdout)
		}
		if t.Format == "" {
			t.Format = "vet"
		}
		c.Tools[id] = t
	}
	if len(c.DefaultTools) == 0 {
		for _, id := range []string{"vet", "lint"} {
			if _, ok := c.Tools[id]; ok {
				c.DefaultTools = append(c.DefaultTools, id)
			}
		}
	}
	if len(c.Priority) == 0 {
		c.Priority = append([]string(nil), c.DefaultTools...)
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = 5 * time.Minute
	}

	if c.Database.Driver == "" && (c.Database.DSN != "" || c.Database.Host != "") {
		c.Database.Driver = "mysql"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.Minio.BucketName == "" {
		c.Minio.BucketName = "lint-runs"
	}
}

var formats = map[string]bool{"vet": true, "golangci": true, "golangci-lint": true, "gotest": true, "go-test": true}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Workspace.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("workspace.maxConcurrent must be at least 1"))
	}
	if c.Workspace.MaxQueue < 0 {
		errs = append(errs, fmt.Errorf("workspace.maxQueue must not be negative"))
	}
	if c.Workspace.Retain < 0 {
		errs = append(errs, fmt.Errorf("workspace.retain must not be negative"))
	}
	if c.Fetch.RecloneAttempts != nil && *c.Fetch.RecloneAttempts < 0 {
		errs = append(errs, fmt.Errorf("fetch.recloneAttempts must not be negative"))
	}
	for id, t := range c.Tools {
		if t.Binary == "" && t.Image == "" {
			errs = append(errs, fmt.Errorf("tools.%s: binary or image is required", id))
		}
		if !formats[strings.ToLower(t.Format)] {
			errs = append(errs, fmt.Errorf("tools.%s: unknown format %q", id, t.Format))
		}
		if t.Stream != string(domain.StreamStdout) && t.Stream != string(domain.StreamStderr) {
			errs = append(errs, fmt.Errorf("tools.%s: stream must be stdout or stderr", id))
		}
	}
	for _, id := range c.DefaultTools {
		if _, ok := c.Tools[id]; !ok {
			errs = append(errs, fmt.Errorf("defaultTools: %s is not configured", id))
		}
	}
	switch c.Database.Driver {
	case "", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q not supported", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// ToolSpecs converts the tool table into launch specs.
func (c *Config) ToolSpecs() map[domain.ToolID]domain.ToolSpec {
	out := make(map[domain.ToolID]domain.ToolSpec, len(c.Tools))
	for id, t := range c.Tools {
		out[domain.ToolID(id)] = domain.ToolSpec{
			ID:      domain.ToolID(id),
			Binary:  t.Binary,
			Args:    append([]string(nil), t.Args...),
			Image:   t.Image,
			Env:     append([]string(nil), t.Env...),
			Stream:  domain.Stream(t.Stream),
			Format:  t.Format,
			Timeout: t.Timeout,
		}
	}
	return out
}

func toolIDs(ids []string) []domain.ToolID {
	out := make([]domain.ToolID, len(ids))
	for i, id := range ids {
		out[i] = domain.ToolID(id)
	}
	return out
}

func (c *Config) DefaultToolIDs() []domain.ToolID { return toolIDs(c.DefaultTools) }

func (c *Config) PriorityIDs() []domain.ToolID { return toolIDs(c.Priority) }

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

func (c *Config) PostgresDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
