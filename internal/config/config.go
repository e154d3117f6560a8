package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all spamstop configuration.
type Config struct {
	// Local Messages database
	Messages MessagesConfig `yaml:"messages"`

	// Opt-out set persistence
	OptOut OptOutConfig `yaml:"optout"`

	// Delivery through the external script
	Send SendConfig `yaml:"send"`

	// bulk-unsubscribe input
	Bulk BulkConfig `yaml:"bulk"`

	// unsubscribe-political classifier
	Political PoliticalConfig `yaml:"political"`

	// Embedding engine used by the classifier
	Embedding EmbeddingConfig `yaml:"embedding"`

	// unsubscribe --watch
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// MessagesConfig locates chat.db and bounds how many rows are scanned.
type MessagesConfig struct {
	DatabasePath string `yaml:"database_path"`
	Limit        int    `yaml:"limit"`
}

// OptOutConfig selects and configures the opt-out set backend.
type OptOutConfig struct {
	Backend       string `yaml:"backend"` // file, sqlite, redis
	FilePath      string `yaml:"file_path"`
	SQLitePath    string `yaml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
	FlushEvery    int    `yaml:"flush_every"` // successful sends between flushes, 0 = only at exit
}

// SendConfig configures the delivery script invocation.
type SendConfig struct {
	Script  string `yaml:"script"`
	Binary  string `yaml:"binary"`
	Message string `yaml:"message"`
	Delay   string `yaml:"delay"`
	Timeout string `yaml:"timeout"`
}

// BulkConfig configures bulk-unsubscribe.
type BulkConfig struct {
	NumbersFile string `yaml:"numbers_file"`
}

// PoliticalConfig configures the political message classifier.
type PoliticalConfig struct {
	TargetPhrase string   `yaml:"target_phrase"`
	BuzzWords    []string `yaml:"buzz_words"`
	Threshold    float64  `yaml:"threshold"`
	Limit        int      `yaml:"limit"`
	Concurrency  int      `yaml:"concurrency"`
}

// EmbeddingConfig configures the vector embedding engine.
// Supports Ollama (local) and GenAI (cloud) backends.
type EmbeddingConfig struct {
	// Provider: "ollama" or "genai"
	Provider string `yaml:"provider"`

	OllamaEndpoint string `yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // Default: "all-minilm"

	GenAIAPIKey  string `yaml:"genai_api_key"`
	GenAIModel   string `yaml:"genai_model"`    // Default: "gemini-embedding-001"
	GenAIBaseURL string `yaml:"genai_base_url"` // Optional endpoint override

	TaskType string `yaml:"task_type"` // Default: "SEMANTIC_SIMILARITY"
}

// WatchConfig configures the chat.db watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DefaultPath returns ~/.spamstop/config.yaml.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".spamstop", "config.yaml")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Messages: MessagesConfig{
			DatabasePath: "~/Library/Messages/chat.db",
			Limit:        100,
		},
		OptOut: OptOutConfig{
			Backend:    "file",
			FilePath:   "spam_list/opted_out_list.txt",
			SQLitePath: "spam_list/opted_out.db",
			RedisAddr:  "localhost:6379",
			RedisKey:   "spamstop:opted_out",
			FlushEvery: 100,
		},
		Send: SendConfig{
			Script:  "apple_scripts/sendMessage.scpt",
			Binary:  "osascript",
			Message: "STOP",
			Delay:   "100ms",
			Timeout: "30s",
		},
		Bulk: BulkConfig{
			NumbersFile: "spam_list/spam_numbers.txt",
		},
		Political: PoliticalConfig{
			TargetPhrase: "Text STOP to quit",
			BuzzWords:    []string{"Democrats", "congressman", "campaign"},
			Threshold:    0.6,
			Limit:        100,
			Concurrency:  4,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "all-minilm",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
		},
		Watch: WatchConfig{
			Debounce: "2s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    filepath.Join(homeDir(), ".spamstop", "logs"),
			Audit:  true,
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults (with environment overrides applied).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Provider stays empty unless the file names one, so an API key in the
	// environment can still select genai.
	defaultProvider := cfg.Embedding.Provider
	cfg.Embedding.Provider = ""

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = defaultProvider
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("SPAMSTOP_CHAT_DB"); path != "" {
		c.Messages.DatabasePath = path
	}
	if path := os.Getenv("SPAMSTOP_OPTOUT_FILE"); path != "" {
		c.OptOut.FilePath = path
	}
	if backend := os.Getenv("SPAMSTOP_OPTOUT_BACKEND"); backend != "" {
		c.OptOut.Backend = backend
	}
	if addr := os.Getenv("SPAMSTOP_REDIS_ADDR"); addr != "" {
		c.OptOut.RedisAddr = addr
	}
	if script := os.Getenv("SPAMSTOP_SCRIPT"); script != "" {
		c.Send.Script = script
	}

	// Embedding keys: GENAI_API_KEY wins over GEMINI_API_KEY
	key := os.Getenv("GENAI_API_KEY")
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "genai"
		}
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
			host = "http://" + host
		}
		c.Embedding.OllamaEndpoint = host
	}
}

// ValidBackends lists the supported opt-out set backends.
var ValidBackends = []string{"file", "sqlite", "redis"}

// ValidProviders lists the supported embedding providers.
var ValidProviders = []string{"ollama", "genai"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Messages.DatabasePath == "" {
		return fmt.Errorf("%w: messages.database_path is empty", ErrInvalid)
	}
	if c.Messages.Limit <= 0 {
		return fmt.Errorf("%w: messages.limit must be positive, got %d", ErrInvalid, c.Messages.Limit)
	}
	if !slices.Contains(ValidBackends, c.OptOut.Backend) {
		return fmt.Errorf("%w: optout.backend %q (valid: %v)", ErrInvalid, c.OptOut.Backend, ValidBackends)
	}
	if c.OptOut.Backend == "file" && c.OptOut.FilePath == "" {
		return fmt.Errorf("%w: optout.file_path is empty", ErrInvalid)
	}
	if c.OptOut.FlushEvery < 0 {
		return fmt.Errorf("%w: optout.flush_every must not be negative", ErrInvalid)
	}
	if strings.TrimSpace(c.Send.Message) == "" {
		return fmt.Errorf("%w: send.message is empty", ErrInvalid)
	}
	if c.Political.Threshold < -1 || c.Political.Threshold > 1 {
		return fmt.Errorf("%w: political.threshold must be within [-1, 1], got %v", ErrInvalid, c.Political.Threshold)
	}
	if !slices.Contains(ValidProviders, c.Embedding.Provider) {
		return fmt.Errorf("%w: embedding.provider %q (valid: %v)", ErrInvalid, c.Embedding.Provider, ValidProviders)
	}
	return nil
}

// GetSendDelay returns the pause between sends as a duration.
func (c *Config) GetSendDelay() time.Duration {
	d, err := time.ParseDuration(c.Send.Delay)
	if err != nil || d < 0 {
		return 100 * time.Millisecond
	}
	return d
}

// GetSendTimeout returns the per-invocation script timeout.
func (c *Config) GetSendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Send.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetWatchDebounce returns the quiet period before a watch rescan.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// ChatDBPath returns the chat.db path with ~ expanded.
func (c *Config) ChatDBPath() string {
	return ExpandHome(c.Messages.DatabasePath)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
