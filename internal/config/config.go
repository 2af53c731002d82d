package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is built once at process start (optional YAML file, then KBSYNC_*
// environment overrides, then defaults) and handed to each component
// constructor. Nothing reads the environment after startup.
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	SigningSecret string `yaml:"signing_secret"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`

	Notion   NotionConfig   `yaml:"notion"`
	Events   EventsConfig   `yaml:"events"`
	Approval ApprovalConfig `yaml:"approval"`
	Dify     DifyConfig     `yaml:"dify"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Import   ImportConfig   `yaml:"import"`
}

type NotionConfig struct {
	Token      string `yaml:"token"`
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"`
	DatabaseID string `yaml:"database_id"`
}

type EventsConfig struct {
	// Allow is the event-kind allow-list. Empty means every page event is
	// admitted.
	Allow []string `yaml:"allow"`
}

type ApprovalConfig struct {
	// Strategy selects the detector: "fresh-read" (default) or "delta".
	Strategy   string `yaml:"strategy"`
	FieldName  string `yaml:"field_name"`
	FieldID    string `yaml:"field_id"`
	TitleField string `yaml:"title_field"`
	BodyField  string `yaml:"body_field"`
}

type DifyConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	KnowledgeBaseID string `yaml:"knowledge_base_id"`
	MaxNameLength   int    `yaml:"max_name_length"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type ImportConfig struct {
	InputPath      string `yaml:"input_path"`
	DoneDSN        string `yaml:"done_dsn"`
	RateIntervalMs int    `yaml:"rate_interval_ms"`
}

// Load reads the optional YAML file at path, applies environment overrides,
// and fills defaults. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.ListenAddr, "KBSYNC_LISTEN_ADDR")
	overrideString(&c.SigningSecret, "KBSYNC_SIGNING_SECRET")
	overrideInt64(&c.MaxBodyBytes, "KBSYNC_MAX_BODY_BYTES")

	overrideString(&c.Notion.Token, "KBSYNC_NOTION_TOKEN")
	overrideString(&c.Notion.BaseURL, "KBSYNC_NOTION_BASE_URL")
	overrideString(&c.Notion.APIVersion, "KBSYNC_NOTION_API_VERSION")
	overrideString(&c.Notion.DatabaseID, "KBSYNC_NOTION_DB_ID")

	if raw := strings.TrimSpace(os.Getenv("KBSYNC_EVENTS_ALLOW")); raw != "" {
		c.Events.Allow = splitList(raw)
	}

	overrideString(&c.Approval.Strategy, "KBSYNC_APPROVAL_STRATEGY")
	overrideString(&c.Approval.FieldName, "KBSYNC_APPROVAL_FIELD")
	overrideString(&c.Approval.FieldID, "KBSYNC_APPROVAL_FIELD_ID")
	overrideString(&c.Approval.TitleField, "KBSYNC_TITLE_FIELD")
	overrideString(&c.Approval.BodyField, "KBSYNC_BODY_FIELD")

	overrideString(&c.Dify.BaseURL, "KBSYNC_DIFY_BASE_URL")
	overrideString(&c.Dify.APIKey, "KBSYNC_DIFY_API_KEY")
	overrideString(&c.Dify.KnowledgeBaseID, "KBSYNC_DIFY_KB_ID")
	overrideInt(&c.Dify.MaxNameLength, "KBSYNC_DIFY_MAX_NAME_LENGTH")

	overrideString(&c.OpenAI.APIKey, "KBSYNC_OPENAI_API_KEY")
	overrideString(&c.OpenAI.BaseURL, "KBSYNC_OPENAI_BASE_URL")
	overrideString(&c.OpenAI.Model, "KBSYNC_OPENAI_MODEL")

	overrideString(&c.Import.InputPath, "KBSYNC_IMPORT_INPUT")
	overrideString(&c.Import.DoneDSN, "KBSYNC_IMPORT_DONE_DSN")
	overrideInt(&c.Import.RateIntervalMs, "KBSYNC_IMPORT_RATE_INTERVAL_MS")
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if len(c.Events.Allow) == 0 {
		c.Events.Allow = []string{
			"page.created",
			"page.updated",
			"page.properties_updated",
			"page.content_updated",
		}
	}
	if c.Approval.Strategy == "" {
		c.Approval.Strategy = "fresh-read"
	}
	if c.Approval.FieldName == "" {
		c.Approval.FieldName = "承認"
	}
	if c.Approval.TitleField == "" {
		c.Approval.TitleField = "質問"
	}
	if c.Approval.BodyField == "" {
		c.Approval.BodyField = "回答"
	}
	if c.Dify.MaxNameLength <= 0 {
		c.Dify.MaxNameLength = 50
	}
	if c.Import.DoneDSN == "" {
		c.Import.DoneDSN = "file://.kbsync/done.json"
	}
	if c.Import.RateIntervalMs <= 0 {
		c.Import.RateIntervalMs = 1100
	}
}

// AllowSet returns the event allow-list as a lookup set.
func (e EventsConfig) AllowSet() map[string]bool {
	out := make(map[string]bool, len(e.Allow))
	for _, kind := range e.Allow {
		kind = strings.TrimSpace(kind)
		if kind != "" {
			out[kind] = true
		}
	}
	return out
}

func overrideString(dst *string, name string) {
	if raw := os.Getenv(name); raw != "" {
		*dst = raw
	}
}

func overrideInt(dst *int, name string) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return
	}
	*dst = value
}

func overrideInt64(dst *int64, name string) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}
	*dst = value
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
