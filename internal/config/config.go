package config

import "time"

// DefaultAPIURL is the backend used when none is configured.
const DefaultAPIURL = "http://localhost:8787"

// Config holds all application configuration.
type Config struct {
	Store         Store         `mapstructure:"store"`
	Backend       Backend       `mapstructure:"backend"`
	Scraper       Scraper       `mapstructure:"scraper"`
	Watch         Watch         `mapstructure:"watch"`
	Elasticsearch Elasticsearch `mapstructure:"elasticsearch"`
	Storage       Storage       `mapstructure:"storage"`
	MCP           MCP           `mapstructure:"mcp"`
}

// Store holds the local key-value database location.
type Store struct {
	Path string `mapstructure:"path"`
}

// Backend holds the chat backend connection settings. APIURL and APIKey
// seed the persisted settings on first run only.
type Backend struct {
	APIURL      string        `mapstructure:"api_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// Scraper holds page loading configuration.
type Scraper struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	UserAgent  string        `mapstructure:"user_agent"`
	Render     bool          `mapstructure:"render"`
	ControlURL string        `mapstructure:"control_url"`
	Markdown   bool          `mapstructure:"markdown"`
}

// Watch holds mutation watcher configuration.
type Watch struct {
	Debounce        time.Duration `mapstructure:"debounce"`
	MinMutatedNodes int           `mapstructure:"min_mutated_nodes"`
}

// Elasticsearch holds the optional page index configuration.
type Elasticsearch struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// Storage holds S3/MinIO export configuration.
type Storage struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// MCP holds MCP server configuration.
type MCP struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Store: Store{
			Path: "", // resolved to $HOME/.elf/elf.db by the CLI
		},
		Backend: Backend{
			APIURL:      DefaultAPIURL,
			Timeout:     2 * time.Minute,
			MaxAttempts: 3,
			Backoff:     time.Second,
		},
		Scraper: Scraper{
			Timeout:   30 * time.Second,
			UserAgent: "elf/1.0",
		},
		Watch: Watch{
			Debounce:        2 * time.Second,
			MinMutatedNodes: 5,
		},
		Elasticsearch: Elasticsearch{
			Enabled:   false,
			Addresses: []string{"http://localhost:9200"},
			Index:     "elf-pages",
		},
		Storage: Storage{
			Endpoint:        "localhost:9002",
			Bucket:          "elf-exports",
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			UseSSL:          false,
		},
		MCP: MCP{
			Name:    "elf",
			Version: "1.0.0",
		},
	}
}
