// Package config provides configuration loading and validation for the
// server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/levelup/internal/llm"
)

// Store backends.
const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreSQLite    = "sqlite"
	StoreMemory    = "memory"
)

// Auth modes.
const (
	AuthFirebase = "firebase"
	AuthJWT      = "jwt"
)

// Defaults.
const (
	DefaultPort               = 8080
	DefaultCollection         = "levelup"
	DefaultSQLitePath         = "levelup.db"
	DefaultStoreTimeout       = 10 * time.Second
	DefaultMaxConflictRetries = 5
	DefaultLogLevel           = "info"
)

// Duration is a time.Duration that reads from JSON as a Go duration string
// ("10s") or as whole seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds process configuration. It can be loaded from a JSON file and
// from the environment; environment values win.
type Config struct {
	Port int `json:"port,omitempty"`

	// Storage
	Store                    string   `json:"store,omitempty"` // firestore|postgres|sqlite|memory
	FirestoreProjectID       string   `json:"firestore_project_id,omitempty"`
	FirestoreAPIKey          string   `json:"firestore_api_key,omitempty"`
	FirestoreCredentialsFile string   `json:"firestore_credentials_file,omitempty"`
	FirestoreEmulatorHost    string   `json:"firestore_emulator_host,omitempty"`
	Collection               string   `json:"collection,omitempty"`
	DatabaseURL              string   `json:"database_url,omitempty"`
	SQLitePath               string   `json:"sqlite_path,omitempty"`
	StoreTimeout             Duration `json:"store_timeout,omitempty"`
	MaxConflictRetries       int      `json:"max_conflict_retries,omitempty"`

	// Reviewer
	LLMProvider     string `json:"llm_provider,omitempty"`
	GeminiAPIKey    string `json:"gemini_api_key,omitempty"`
	OpenAIAPIKey    string `json:"openai_api_key,omitempty"`
	AnthropicAPIKey string `json:"anthropic_api_key,omitempty"`
	GitHubToken     string `json:"github_token,omitempty"`

	// Identity
	AuthMode       string `json:"auth_mode,omitempty"` // firebase|jwt
	FirebaseAPIKey string `json:"firebase_api_key,omitempty"`
	AdminEmail     string `json:"admin_email,omitempty"`

	CurriculumFile string `json:"curriculum_file,omitempty"`
	LogLevel       string `json:"log_level,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:               DefaultPort,
		Store:              StoreFirestore,
		Collection:         DefaultCollection,
		SQLitePath:         DefaultSQLitePath,
		StoreTimeout:       Duration(DefaultStoreTimeout),
		MaxConflictRetries: DefaultMaxConflictRetries,
		LLMProvider:        string(llm.ProviderGemini),
		AuthMode:           AuthFirebase,
		LogLevel:           DefaultLogLevel,
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv reads configuration from environment variables. Unset variables
// leave their field zero so that MergeWithDefaults can fill them.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Store:                    strings.ToLower(os.Getenv("STORE")),
		FirestoreProjectID:       os.Getenv("FIRESTORE_PROJECT_ID"),
		FirestoreAPIKey:          os.Getenv("FIRESTORE_API_KEY"),
		FirestoreCredentialsFile: os.Getenv("FIRESTORE_CREDENTIALS_FILE"),
		FirestoreEmulatorHost:    os.Getenv("FIRESTORE_EMULATOR_HOST"),
		Collection:               os.Getenv("FIRESTORE_COLLECTION"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		SQLitePath:               os.Getenv("SQLITE_PATH"),
		LLMProvider:              strings.ToLower(os.Getenv("LLM_PROVIDER")),
		GeminiAPIKey:             os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:             os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:          os.Getenv("ANTHROPIC_API_KEY"),
		GitHubToken:              os.Getenv("GITHUB_TOKEN"),
		AuthMode:                 strings.ToLower(os.Getenv("AUTH_MODE")),
		FirebaseAPIKey:           os.Getenv("FIREBASE_API_KEY"),
		AdminEmail:               os.Getenv("ADMIN_EMAIL"),
		CurriculumFile:           os.Getenv("CURRICULUM_FILE"),
		LogLevel:                 strings.ToLower(os.Getenv("LOG_LEVEL")),
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %v", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid STORE_TIMEOUT: %v", err)
		}
		cfg.StoreTimeout = Duration(d)
	}
	if v := os.Getenv("MAX_CONFLICT_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_CONFLICT_RETRIES: %v", err)
		}
		cfg.MaxConflictRetries = n
	}

	return cfg, nil
}

// Load reads the environment, merges the optional JSON file under it, fills
// the built-in defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	merged := *cfg
	if path != "" {
		file, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		merged = merged.MergeWithDefaults(*file)
	}
	merged = merged.MergeWithDefaults(Defaults())

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// Validate checks that the configuration has valid values. API keys are not
// required here; commands that need them ask through LLMAPIKey.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}

	switch c.Store {
	case StoreFirestore:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("config error: firestore store requires FIRESTORE_PROJECT_ID")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config error: postgres store requires DATABASE_URL")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config error: sqlite store requires SQLITE_PATH")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config error: unknown store %q (want firestore, postgres, sqlite or memory)", c.Store)
	}

	if _, err := llm.ParseProvider(c.LLMProvider); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	switch c.AuthMode {
	case AuthFirebase, AuthJWT:
	default:
		return fmt.Errorf("config error: unknown auth mode %q (want firebase or jwt)", c.AuthMode)
	}

	if c.StoreTimeout < 0 {
		return fmt.Errorf("config error: 'store_timeout' must be non-negative")
	}
	if c.MaxConflictRetries < 0 {
		return fmt.Errorf("config error: 'max_conflict_retries' must be non-negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config error: unknown log level %q", c.LogLevel)
	}

	if c.CurriculumFile != "" {
		if _, err := os.Stat(c.CurriculumFile); os.IsNotExist(err) {
			return fmt.Errorf("config error: curriculum file not found: %s", c.CurriculumFile)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&result.Store, defaults.Store)
	fill(&result.FirestoreProjectID, defaults.FirestoreProjectID)
	fill(&result.FirestoreAPIKey, defaults.FirestoreAPIKey)
	fill(&result.FirestoreCredentialsFile, defaults.FirestoreCredentialsFile)
	fill(&result.FirestoreEmulatorHost, defaults.FirestoreEmulatorHost)
	fill(&result.Collection, defaults.Collection)
	fill(&result.DatabaseURL, defaults.DatabaseURL)
	fill(&result.SQLitePath, defaults.SQLitePath)
	fill(&result.LLMProvider, defaults.LLMProvider)
	fill(&result.GeminiAPIKey, defaults.GeminiAPIKey)
	fill(&result.OpenAIAPIKey, defaults.OpenAIAPIKey)
	fill(&result.AnthropicAPIKey, defaults.AnthropicAPIKey)
	fill(&result.GitHubToken, defaults.GitHubToken)
	fill(&result.AuthMode, defaults.AuthMode)
	fill(&result.FirebaseAPIKey, defaults.FirebaseAPIKey)
	fill(&result.AdminEmail, defaults.AdminEmail)
	fill(&result.CurriculumFile, defaults.CurriculumFile)
	fill(&result.LogLevel, defaults.LogLevel)

	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.StoreTimeout == 0 {
		result.StoreTimeout = defaults.StoreTimeout
	}
	// Zero retries is a legitimate setting but indistinguishable from unset.
	if result.MaxConflictRetries == 0 {
		result.MaxConflictRetries = defaults.MaxConflictRetries
	}

	return result
}

// Provider returns the configured LLM provider.
func (c *Config) Provider() llm.Provider {
	p, _ := llm.ParseProvider(c.LLMProvider)
	return p
}

// LLMAPIKey returns the API key for the configured provider.
func (c *Config) LLMAPIKey() (string, error) {
	p := c.Provider()
	var key, env string
	switch p {
	case llm.ProviderOpenAI:
		key, env = c.OpenAIAPIKey, "OPENAI_API_KEY"
	case llm.ProviderAnthropic:
		key, env = c.AnthropicAPIKey, "ANTHROPIC_API_KEY"
	default:
		key, env = c.GeminiAPIKey, "GEMINI_API_KEY"
	}
	if key == "" {
		return "", fmt.Errorf("%s is required for the %s provider", env, p)
	}
	return key, nil
}

// Timeout returns StoreTimeout as a time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.StoreTimeout)
}
