package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mfenderov/elf/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	plain   bool
	cfg     config.Config
)

// GetConfig returns the loaded configuration.
func GetConfig() config.Config {
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "elf",
	Short: "Elf: chat with the page you are reading",
	Long: `Elf loads a page, extracts its readable content and lets you ask an
AI assistant about it. Conversations are kept per page and survive restarts.

Commands:
  chat     Open a page and chat about it
  extract  Extract a page and print the stored record
  pages    List, show or forget stored extractions
  state    Show or toggle automatic extraction
  config   Show or change the backend URL and API key
  export   Export a page's conversation
  reset    Forget everything
  search   Search stored extractions (Elasticsearch)
  serve    Start the MCP server
  watch    Re-extract a local file whenever it changes`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "print answers without Markdown rendering")
}

func initLogger() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func initConfig() {
	cfg = config.Defaults()

	home, _ := os.UserHomeDir()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		if home != "" {
			viper.AddConfigPath(filepath.Join(home, ".elf"))
		}
		viper.AddConfigPath(".")
	}

	// ELF_BACKEND_API_URL -> backend.api_url
	viper.SetEnvPrefix("ELF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.BindEnv("store.path", "ELF_STORE_PATH")
	viper.BindEnv("backend.api_url", "ELF_BACKEND_API_URL")
	viper.BindEnv("backend.api_key", "ELF_BACKEND_API_KEY")
	viper.BindEnv("backend.timeout", "ELF_BACKEND_TIMEOUT")
	viper.BindEnv("backend.max_attempts", "ELF_BACKEND_MAX_ATTEMPTS")
	viper.BindEnv("backend.backoff", "ELF_BACKEND_BACKOFF")
	viper.BindEnv("scraper.timeout", "ELF_SCRAPER_TIMEOUT")
	viper.BindEnv("scraper.user_agent", "ELF_SCRAPER_USER_AGENT")
	viper.BindEnv("scraper.render", "ELF_SCRAPER_RENDER")
	viper.BindEnv("scraper.control_url", "ELF_SCRAPER_CONTROL_URL")
	viper.BindEnv("scraper.markdown", "ELF_SCRAPER_MARKDOWN")
	viper.BindEnv("watch.debounce", "ELF_WATCH_DEBOUNCE")
	viper.BindEnv("watch.min_mutated_nodes", "ELF_WATCH_MIN_MUTATED_NODES")
	viper.BindEnv("elasticsearch.enabled", "ELF_ELASTICSEARCH_ENABLED")
	viper.BindEnv("elasticsearch.addresses", "ELF_ELASTICSEARCH_ADDRESSES")
	viper.BindEnv("elasticsearch.index", "ELF_ELASTICSEARCH_INDEX")
	viper.BindEnv("elasticsearch.username", "ELF_ELASTICSEARCH_USERNAME")
	viper.BindEnv("elasticsearch.password", "ELF_ELASTICSEARCH_PASSWORD")
	viper.BindEnv("storage.endpoint", "ELF_STORAGE_ENDPOINT")
	viper.BindEnv("storage.bucket", "ELF_STORAGE_BUCKET")
	viper.BindEnv("storage.access_key_id", "ELF_STORAGE_ACCESS_KEY_ID")
	viper.BindEnv("storage.secret_access_key", "ELF_STORAGE_SECRET_ACCESS_KEY")
	viper.BindEnv("storage.use_ssl", "ELF_STORAGE_USE_SSL")
	viper.BindEnv("mcp.name", "ELF_MCP_NAME")
	viper.BindEnv("mcp.version", "ELF_MCP_VERSION")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("config file error", "error", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Warn("failed to parse config", "error", err)
	}

	if addrs := os.Getenv("ELF_ELASTICSEARCH_ADDRESSES"); addrs != "" {
		cfg.Elasticsearch.Addresses = strings.Split(addrs, ",")
	}

	if cfg.Store.Path == "" {
		if home == "" {
			home = "."
		}
		cfg.Store.Path = filepath.Join(home, ".elf", "elf.db")
	}
}
