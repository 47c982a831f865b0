package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// envKeyReplacer maps nested keys to env names: search.max_limit -> ISQ_SEARCH_MAX_LIMIT.
var envKeyReplacer = strings.NewReplacer(".", "_")

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "isq"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage isq configuration.

Running bare 'isq config' is the same as 'isq config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# isq configuration
# See: isq config show (for effective values and sources)

# SQLite database path (default: ~/.config/isq/isq.db)
# db_path: {{ .DBPath }}

store:
  # Store the engine reads from: "sqlite" or "postgres"
  driver: "{{ .StoreDriver }}"

postgres:
  # Connection string used when store.driver is postgres
  dsn: "{{ .PostgresDSN }}"

index:
  # Search index backend: "sqlite" or "typesense"
  backend: "{{ .IndexBackend }}"
  # SQLite index path (default: ~/.config/isq/index.db)
  # path: {{ .IndexPath }}

typesense:
  url: "{{ .TypesenseURL }}"
  collection: "{{ .TypesenseCollection }}"
  # api_key is best kept in ISQ_TYPESENSE_API_KEY

search:
  # Upper bound for page size and for unpaged single-component searches
  max_limit: {{ .MaxLimit }}
  default_page_size: {{ .DefaultPageSize }}
  # Values returned per facet before selected values are appended
  facet_size: {{ .FacetSize }}
  # Deadline for the backend queries of one search
  timeout: {{ .Timeout }}

# HTTP port of 'isq serve'
port: {{ .Port }}

log:
  level: "{{ .LogLevel }}"
  # "text" or "json"
  format: "{{ .LogFormat }}"

otel:
  # OTLP/HTTP collector; tracing and log export are off when empty
  endpoint: "{{ .OTelEndpoint }}"
  service_name: "{{ .OTelServiceName }}"
`

type configTemplateData struct {
	DBPath              string
	StoreDriver         string
	PostgresDSN         string
	IndexBackend        string
	IndexPath           string
	TypesenseURL        string
	TypesenseCollection string
	MaxLimit            int
	DefaultPageSize     int
	FacetSize           int
	Timeout             string
	Port                int
	LogLevel            string
	LogFormat           string
	OTelEndpoint        string
	OTelServiceName     string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DBPath:              viper.GetString("db_path"),
		StoreDriver:         viper.GetString("store.driver"),
		PostgresDSN:         viper.GetString("postgres.dsn"),
		IndexBackend:        viper.GetString("index.backend"),
		IndexPath:           viper.GetString("index.path"),
		TypesenseURL:        viper.GetString("typesense.url"),
		TypesenseCollection: viper.GetString("typesense.collection"),
		MaxLimit:            viper.GetInt("search.max_limit"),
		DefaultPageSize:     viper.GetInt("search.default_page_size"),
		FacetSize:           viper.GetInt("search.facet_size"),
		Timeout:             viper.GetDuration("search.timeout").String(),
		Port:                viper.GetInt("port"),
		LogLevel:            viper.GetString("log.level"),
		LogFormat:           viper.GetString("log.format"),
		OTelEndpoint:        viper.GetString("otel.endpoint"),
		OTelServiceName:     viper.GetString("otel.service_name"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "ISQ_STATE_DIR"},
	{Key: "db_path", EnvVar: "ISQ_DB_PATH"},
	{Key: "store.driver", EnvVar: "ISQ_STORE_DRIVER"},
	{Key: "postgres.dsn", EnvVar: "ISQ_POSTGRES_DSN"},
	{Key: "index.backend", EnvVar: "ISQ_INDEX_BACKEND"},
	{Key: "index.path", EnvVar: "ISQ_INDEX_PATH"},
	{Key: "typesense.url", EnvVar: "ISQ_TYPESENSE_URL"},
	{Key: "typesense.api_key", EnvVar: "ISQ_TYPESENSE_API_KEY"},
	{Key: "typesense.collection", EnvVar: "ISQ_TYPESENSE_COLLECTION"},
	{Key: "search.max_limit", EnvVar: "ISQ_SEARCH_MAX_LIMIT"},
	{Key: "search.default_page_size", EnvVar: "ISQ_SEARCH_DEFAULT_PAGE_SIZE"},
	{Key: "search.facet_size", EnvVar: "ISQ_SEARCH_FACET_SIZE"},
	{Key: "search.timeout", EnvVar: "ISQ_SEARCH_TIMEOUT"},
	{Key: "port", EnvVar: "ISQ_PORT"},
	{Key: "log.level", EnvVar: "ISQ_LOG_LEVEL"},
	{Key: "log.format", EnvVar: "ISQ_LOG_FORMAT"},
	{Key: "otel.endpoint", EnvVar: "ISQ_OTEL_ENDPOINT"},
	{Key: "otel.headers", EnvVar: "ISQ_OTEL_HEADERS"},
	{Key: "otel.service_name", EnvVar: "ISQ_OTEL_SERVICE_NAME"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if isSecret(k.Key) && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// isSecret reports whether the value of key must not be printed.
func isSecret(key string) bool {
	return key == "typesense.api_key" || key == "postgres.dsn" || key == "otel.headers"
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'isq config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
