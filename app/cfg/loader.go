package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// SAM.gov API
	APIKey         string        `long:"sam-api-key" env:"SAM_API_KEY" description:"SAM.gov API key"`
	APIBaseURL     string        `long:"sam-base-url" env:"SAMWATCH_BASE_URL" default:"https://api.sam.gov/opportunities/v2" description:"Opportunities API base URL"`
	SearchLimit    int           `long:"search-limit" env:"SAMWATCH_SEARCH_LIMIT" default:"100" description:"Page size for search requests (max 1000)"`
	HourlyCap      int           `long:"hourly-cap" env:"SAMWATCH_HOURLY_CAP" default:"1000" description:"Hourly request budget"`
	DailyCap       int           `long:"daily-cap" env:"SAMWATCH_DAILY_CAP" description:"Daily request budget (0 disables)"`
	HTTPTimeout    time.Duration `long:"http-timeout" env:"SAMWATCH_HTTP_TIMEOUT" default:"30s" description:"HTTP client timeout"`
	RequestsPerSec float64       `long:"requests-per-second" env:"SAMWATCH_REQUESTS_PER_SECOND" default:"2" description:"Outbound request pacing (0 disables)"`

	// Storage
	DataDir    string `long:"data-dir" env:"SAMWATCH_DATA_DIR" default:"./data" description:"Directory for the database and downloaded files"`
	SQLitePath string `long:"sqlite-path" env:"SAMWATCH_SQLITE_PATH" description:"SQLite database path (default: <data-dir>/samwatch.db)"`
	FilesDir   string `long:"files-dir" env:"SAMWATCH_FILES_DIR" description:"Attachment directory (default: <data-dir>/files)"`
	RulesDir   string `long:"rules-dir" env:"SAMWATCH_RULES_DIR" default:"./rules" description:"Directory containing rule definition files"`

	// Sweep schedule
	HotFrequency   time.Duration `long:"hot-frequency" env:"SAMWATCH_HOT_FREQUENCY" default:"15m" description:"Interval between hot sweeps"`
	WarmFrequency  time.Duration `long:"warm-frequency" env:"SAMWATCH_WARM_FREQUENCY" default:"60m" description:"Interval between warm sweeps"`
	ColdFrequency  time.Duration `long:"cold-frequency" env:"SAMWATCH_COLD_FREQUENCY" default:"12h" description:"Interval between cold sweeps"`
	AlertFrequency time.Duration `long:"alert-frequency" env:"SAMWATCH_ALERT_FREQUENCY" default:"5m" description:"Interval between rule evaluations"`
	WarmDays       int           `long:"warm-days" env:"SAMWATCH_WARM_DAYS" default:"7" description:"Days covered by a warm sweep"`
	BackfillDays   int           `long:"backfill-days" env:"SAMWATCH_BACKFILL_DAYS" default:"30" description:"Window size for backfill planning"`

	// HTTP surface
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://samwatch.example.com)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// SMTP defaults
	SMTPServer   string `long:"smtp-server" env:"SMTP_SERVER" description:"Default SMTP server for email alerts"`
	SMTPPort     int    `long:"smtp-port" env:"SMTP_PORT" default:"587" description:"Default SMTP port"`
	SMTPUsername string `long:"smtp-username" env:"SMTP_USERNAME" description:"Default SMTP username"`
	SMTPPassword string `long:"smtp-password" env:"SMTP_PASSWORD" description:"Default SMTP password"`
	SMTPSender   string `long:"smtp-sender" env:"SMTP_SENDER" description:"Default sender address"`
	SMTPUseTLS   bool   `long:"smtp-tls" env:"SMTP_USE_TLS" description:"Use STARTTLS for SMTP"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"SAMWatch/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// NewParser returns a go-flags parser over the global options. Commands added
// to it run after the configuration has been finalized, so they can call Get.
func NewParser() *flags.Parser {
	loadDotEnv()

	raw := &rawCfg{}
	parser := flags.NewParser(raw, flags.Default)
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		if _, err := finalize(raw); err != nil {
			return err
		}
		if command == nil {
			return nil
		}
		return command.Execute(args)
	}
	return parser
}

// Parse loads the configuration from args and the environment without commands.
func Parse(args []string) (*Cfg, error) {
	loadDotEnv()

	var raw rawCfg
	parser := flags.NewParser(&raw, flags.Default&^flags.PrintErrors)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return finalize(&raw)
}

func finalize(raw *rawCfg) (*Cfg, error) {
	if raw.SearchLimit <= 0 {
		return nil, fmt.Errorf("search limit must be positive")
	}
	if raw.HourlyCap <= 0 {
		return nil, fmt.Errorf("hourly cap must be positive")
	}
	if raw.BackfillDays < 1 || raw.BackfillDays > 365 {
		return nil, fmt.Errorf("backfill days must be between 1 and 365")
	}

	cfg := &Cfg{
		APIKey:         raw.APIKey,
		APIBaseURL:     raw.APIBaseURL,
		SearchLimit:    min(raw.SearchLimit, 1000),
		HourlyCap:      raw.HourlyCap,
		DailyCap:       raw.DailyCap,
		HTTPTimeout:    raw.HTTPTimeout,
		RequestsPerSec: raw.RequestsPerSec,
		DataDir:        raw.DataDir,
		SQLitePath:     cmp.Or(raw.SQLitePath, filepath.Join(raw.DataDir, "samwatch.db")),
		FilesDir:       cmp.Or(raw.FilesDir, filepath.Join(raw.DataDir, "files")),
		RulesDir:       raw.RulesDir,
		HotFrequency:   raw.HotFrequency,
		WarmFrequency:  raw.WarmFrequency,
		ColdFrequency:  raw.ColdFrequency,
		AlertFrequency: raw.AlertFrequency,
		WarmDays:       raw.WarmDays,
		BackfillDays:   raw.BackfillDays,
		Port:           raw.Port,
		BaseUrl:        raw.BaseUrl,
		APIAccessKey:   raw.APIAccessKey,
		SMTPServer:     raw.SMTPServer,
		SMTPPort:       raw.SMTPPort,
		SMTPUsername:   raw.SMTPUsername,
		SMTPPassword:   raw.SMTPPassword,
		SMTPSender:     raw.SMTPSender,
		SMTPUseTLS:     raw.SMTPUseTLS,
		UserAgent:      raw.UserAgent,
		Timezone:       raw.Timezone,
		Debug:          raw.Debug,
		Version:        GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Parse() first")
	}
	return globalCfg
}

// EnsureDirectories creates the data, files and database directories.
func (c *Cfg) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.FilesDir, filepath.Dir(c.SQLitePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// RequireAPIKey fails when no SAM.gov API key is configured.
func (c *Cfg) RequireAPIKey() error {
	if c.APIKey == "" {
		return fmt.Errorf("SAM_API_KEY is required for this command")
	}
	return nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
