package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sentiment-ranker/comment-ranker/internal/scheduler"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Sink kinds
const (
	SinkFile   = "file"
	SinkAzure  = "azblob"
	SinkSQLite = "sqlite"
)

const (
	defaultBaseURL        = "https://api.deepseek.com"
	defaultModel          = "deepseek-chat"
	defaultTemperature    = 0.3
	defaultDelay          = 500 * time.Millisecond
	defaultMaxRetries     = 2
	defaultRequestTimeout = 60 * time.Second
	defaultTopN           = 5
	defaultOutputFormat   = "xlsx"
	defaultPort           = "8080"
	defaultTopic          = "foundation (粉底液) suitability for dry and combination-dry skin (干皮/混干皮)"
)

// Config holds all configuration for the application
type Config struct {
	// Input and output
	Input        string
	Output       string
	OutputDir    string
	OutputFormat string // "xlsx" or "csv"
	Sink         string

	// Extraction service
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float64
	MaxRetries       int
	RequestTimeout   time.Duration
	StructuredOutput bool

	// Batch behaviour
	Topic                  string
	Delay                  time.Duration
	KeepPartialOnAuthError bool
	TopN                   int
	Aliases                map[string]string
	ReplyMarkers           []string

	// Azure Storage configuration
	StorageAccount   string
	StorageContainer string

	// SQLite sink
	SQLitePath string

	// Scheduled mode
	Schedule string
	Port     string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string

	Debug     bool
	LogFormat string
}

// DefaultAliases maps common product nicknames to their canonical names
var DefaultAliases = map[string]string{
	"菁纯":            "兰蔻菁纯",
	"兰蔻菁纯":          "兰蔻菁纯",
	"沁水":            "雅诗兰黛沁水",
	"雅诗兰黛沁水":        "雅诗兰黛沁水",
	"dw沁水":          "雅诗兰黛沁水",
	"dw":            "雅诗兰黛DW",
	"double wear":   "雅诗兰黛DW",
	"雅诗兰黛dw":        "雅诗兰黛DW",
	"虫草":            "芭比波朗虫草",
	"bobbi brown虫草": "芭比波朗虫草",
	"bb虫草":          "芭比波朗虫草",
	"超方瓶":           "Nars超方瓶",
	"nars超方瓶":       "Nars超方瓶",
	"蓝标":            "阿玛尼蓝标",
	"阿玛尼蓝标":         "阿玛尼蓝标",
	"大师":            "阿玛尼蓝标",
	"阿玛尼大师":         "阿玛尼蓝标",
	"果冻":            "香奈儿果冻",
	"香奈儿果冻":         "香奈儿果冻",
	"持妆":            "兰蔻持妆",
	"兰蔻持妆":          "兰蔻持妆",
	"红地球":           "红地球",
	"red earth":     "红地球",
	"zelens":        "Zelens",
	"植村秀":           "植村秀小方瓶",
	"植村秀小方瓶":        "植村秀小方瓶",
}

// DefaultReplyMarkers identify replies when no threading columns exist
var DefaultReplyMarkers = []string{"@", "回复"}

type option struct {
	key  string
	envs []string
}

// Environment fallbacks, first non-empty variable wins.
var options = []option{
	{"input", []string{"RANKER_INPUT"}},
	{"output", []string{"RANKER_OUTPUT"}},
	{"output_dir", []string{"RANKER_OUTPUT_DIR"}},
	{"output_format", []string{"RANKER_OUTPUT_FORMAT"}},
	{"sink", []string{"RANKER_SINK"}},
	{"api_key", []string{"RANKER_API_KEY", "DEEPSEEK_API_KEY", "OPENAI_API_KEY", "OPENAI_HK_API_KEY"}},
	{"base_url", []string{"RANKER_BASE_URL", "OPENAI_BASE_URL", "OPENAI_HK_BASE_URL", "DEEPSEEK_BASE_URL"}},
	{"model", []string{"RANKER_MODEL", "OPENAI_MODEL"}},
	{"temperature", []string{"RANKER_TEMPERATURE"}},
	{"max_retries", []string{"RANKER_MAX_RETRIES"}},
	{"request_timeout", []string{"RANKER_REQUEST_TIMEOUT"}},
	{"structured_output", []string{"RANKER_STRUCTURED_OUTPUT"}},
	{"delay", []string{"RANKER_DELAY"}},
	{"keep_partial_on_auth_error", []string{"RANKER_KEEP_PARTIAL_ON_AUTH_ERROR"}},
	{"top_n", []string{"RANKER_TOP_N"}},
	{"topic", []string{"RANKER_TOPIC"}},
	{"reply_markers", []string{"RANKER_REPLY_MARKERS"}},
	{"azure_storage_account", []string{"AZURE_STORAGE_ACCOUNT"}},
	{"azure_storage_container", []string{"AZURE_STORAGE_CONTAINER"}},
	{"sqlite_path", []string{"RANKER_SQLITE_PATH"}},
	{"schedule", []string{"RANKER_SCHEDULE"}},
	{"port", []string{"PORT"}},
	{"teams_webhook_url", []string{"TEAMS_WEBHOOK_URL"}},
	{"notification_email", []string{"NOTIFICATION_EMAIL"}},
	{"smtp_host", []string{"SMTP_HOST"}},
	{"smtp_port", []string{"SMTP_PORT"}},
	{"smtp_username", []string{"SMTP_USERNAME"}},
	{"smtp_password", []string{"SMTP_PASSWORD"}},
	{"debug", []string{"DEBUG"}},
	{"log_format", []string{"LOG_FORMAT"}},
}

// NewFlagSet declares the command-line surface. Flag names use dashes and map onto
// the underscore config keys.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("input", "i", "", "input table (.xlsx or .csv)")
	fs.StringP("output", "o", "", "output name (default <input>_analysis_result)")
	fs.String("output-dir", "", "directory for the file sink (default: next to the input)")
	fs.String("output-format", defaultOutputFormat, "xlsx or csv")
	fs.String("sink", SinkFile, "file, azblob or sqlite")
	fs.String("api-key", "", "extraction service credential")
	fs.String("base-url", defaultBaseURL, "extraction service base URL")
	fs.String("model", defaultModel, "model identifier")
	fs.Float64("temperature", defaultTemperature, "sampling temperature")
	fs.Int("max-retries", defaultMaxRetries, "transport-level retries inside the SDK")
	fs.Duration("request-timeout", defaultRequestTimeout, "per-request timeout")
	fs.Bool("structured-output", false, "send a JSON schema response_format")
	fs.Duration("delay", defaultDelay, "minimum delay between extraction calls")
	fs.Bool("keep-partial-on-auth-error", false, "return facts collected before an auth failure")
	fs.Int("top-n", defaultTopN, "products that get a feature summary")
	fs.String("topic", defaultTopic, "what the extraction judges sentiment about")
	fs.String("sqlite-path", "", "database file for the sqlite sink")
	fs.String("schedule", "", "cron spec for repeated runs (empty runs once)")
	fs.String("config", "", "optional config file (default ./ranker.yaml)")
	fs.Bool("debug", false, "debug logging")
	return fs
}

// Load loads configuration from flags, environment variables, an optional config file
// and defaults, in that order of precedence.
func Load(fs *pflag.FlagSet) (*Config, error) {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	v := viper.New()
	setDefaults(v)

	for _, opt := range options {
		args := append([]string{opt.key}, opt.envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", opt.key, err)
		}
	}

	if fs != nil {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" {
				return
			}
			_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
	}

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	cfg := fromViper(v)
	if cfg.Input == "" && fs != nil && fs.NArg() > 0 {
		cfg.Input = fs.Arg(0)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_format", defaultOutputFormat)
	v.SetDefault("sink", SinkFile)
	v.SetDefault("base_url", defaultBaseURL)
	v.SetDefault("model", defaultModel)
	v.SetDefault("temperature", defaultTemperature)
	v.SetDefault("max_retries", defaultMaxRetries)
	v.SetDefault("request_timeout", defaultRequestTimeout)
	v.SetDefault("delay", defaultDelay)
	v.SetDefault("top_n", defaultTopN)
	v.SetDefault("topic", defaultTopic)
	v.SetDefault("aliases", DefaultAliases)
	v.SetDefault("reply_markers", DefaultReplyMarkers)
	v.SetDefault("azure_storage_container", "rankings")
	v.SetDefault("port", defaultPort)
	v.SetDefault("smtp_port", 587)
	v.SetDefault("log_format", "text")
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	explicit := ""
	if fs != nil {
		explicit, _ = fs.GetString("config")
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("ranker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && explicit == "" {
			logrus.Debug("No ranker.yaml found, using flags, environment and defaults")
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	logrus.Infof("Loaded config file %s", v.ConfigFileUsed())
	return nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Input:        v.GetString("input"),
		Output:       v.GetString("output"),
		OutputDir:    v.GetString("output_dir"),
		OutputFormat: strings.ToLower(v.GetString("output_format")),
		Sink:         strings.ToLower(v.GetString("sink")),

		APIKey:           strings.TrimSpace(v.GetString("api_key")),
		BaseURL:          v.GetString("base_url"),
		Model:            v.GetString("model"),
		Temperature:      v.GetFloat64("temperature"),
		MaxRetries:       v.GetInt("max_retries"),
		RequestTimeout:   v.GetDuration("request_timeout"),
		StructuredOutput: v.GetBool("structured_output"),

		Topic:                  v.GetString("topic"),
		Delay:                  v.GetDuration("delay"),
		KeepPartialOnAuthError: v.GetBool("keep_partial_on_auth_error"),
		TopN:                   v.GetInt("top_n"),
		Aliases:                v.GetStringMapString("aliases"),
		ReplyMarkers:           splitList(v.GetStringSlice("reply_markers")),

		StorageAccount:   v.GetString("azure_storage_account"),
		StorageContainer: v.GetString("azure_storage_container"),
		SQLitePath:       v.GetString("sqlite_path"),

		Schedule: v.GetString("schedule"),
		Port:     v.GetString("port"),

		TeamsWebhookURL:   v.GetString("teams_webhook_url"),
		NotificationEmail: v.GetString("notification_email"),
		SMTPHost:          v.GetString("smtp_host"),
		SMTPPort:          v.GetInt("smtp_port"),
		SMTPUsername:      v.GetString("smtp_username"),
		SMTPPassword:      v.GetString("smtp_password"),

		Debug:     v.GetBool("debug"),
		LogFormat: strings.ToLower(v.GetString("log_format")),
	}
}

// Validate reports the first unusable setting. A missing credential is fatal at startup.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("no API key configured (set RANKER_API_KEY, DEEPSEEK_API_KEY, OPENAI_API_KEY or OPENAI_HK_API_KEY)")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL must not be empty")
	}
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %v", c.Temperature)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be >= 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}
	if c.TopN < 0 {
		return fmt.Errorf("top-n must be >= 0")
	}
	if c.OutputFormat != "xlsx" && c.OutputFormat != "csv" {
		return fmt.Errorf("output format must be 'xlsx' or 'csv'")
	}

	switch c.Sink {
	case SinkFile:
	case SinkAzure:
		if c.StorageAccount == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT is required for the azblob sink")
		}
	case SinkSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite sink")
		}
	default:
		return fmt.Errorf("unknown sink %q", c.Sink)
	}

	if c.Schedule != "" {
		if err := scheduler.Validate(c.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
		}
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// splitList accepts both list values and comma separated strings.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
