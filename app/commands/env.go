package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lysyi3m/samwatch/app/alerts"
	"github.com/lysyi3m/samwatch/app/cfg"
	"github.com/lysyi3m/samwatch/app/database"
	"github.com/lysyi3m/samwatch/app/ingest"
	"github.com/lysyi3m/samwatch/app/ratelimit"
	"github.com/lysyi3m/samwatch/app/samapi"
)

// stdout receives command output. Logs go through slog.
var stdout io.Writer = os.Stdout

// environment holds the components shared by every command.
type environment struct {
	cfg           *cfg.Cfg
	db            *database.DB
	opportunities *database.OpportunityRepository
	runs          *database.RunRepository
	rules         *database.RuleRepository
	matches       *database.MatchRepository
	client        *samapi.Client
}

// openEnvironment opens the database and, when withClient is set, builds a
// rate-limited SAM.gov client. withClient requires an API key.
func openEnvironment(withClient bool) (*environment, error) {
	c := cfg.Get()
	setupLogging(c.Debug)

	if withClient {
		if err := c.RequireAPIKey(); err != nil {
			return nil, err
		}
	}

	if err := c.EnsureDirectories(); err != nil {
		return nil, err
	}

	db, err := database.Open(c.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	env := &environment{
		cfg:           c,
		db:            db,
		opportunities: database.NewOpportunityRepository(db),
		runs:          database.NewRunRepository(db),
		rules:         database.NewRuleRepository(db),
		matches:       database.NewMatchRepository(db),
	}

	if withClient {
		limiter := ratelimit.New(c.HourlyCap, c.DailyCap)
		env.client = samapi.New(samapi.Config{
			BaseURL:        c.APIBaseURL,
			APIKey:         c.APIKey,
			UserAgent:      c.UserAgent,
			SearchLimit:    c.SearchLimit,
			Timeout:        c.HTTPTimeout,
			RequestsPerSec: c.RequestsPerSec,
		}, limiter)
	}

	return env, nil
}

func (e *environment) Close() {
	if err := e.db.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

func (e *environment) pipeline() *ingest.Pipeline {
	return ingest.NewPipeline(e.client, e.opportunities, e.runs, e.cfg.FilesDir)
}

func (e *environment) engine(notifier alerts.Notifier) *alerts.Engine {
	if notifier == nil {
		notifier = alerts.NewDispatcher(
			alerts.WithConsole(stdout),
			alerts.WithUserAgent(e.cfg.UserAgent),
		)
	}
	return alerts.NewEngine(e.db, e.rules, e.matches, e.opportunities, notifier,
		alerts.WithSMTPDefaults(alerts.SMTPDefaults{
			Server:   e.cfg.SMTPServer,
			Port:     e.cfg.SMTPPort,
			UseTLS:   e.cfg.SMTPUseTLS,
			Username: e.cfg.SMTPUsername,
			Password: e.cfg.SMTPPassword,
			Sender:   e.cfg.SMTPSender,
		}))
}

// syncRules loads the rule catalog and writes it to the database.
func (e *environment) syncRules(ctx context.Context, prune bool) (alerts.SyncResult, error) {
	catalog := alerts.NewRuleCatalog(e.cfg.RulesDir)
	if err := catalog.Load(); err != nil {
		return alerts.SyncResult{}, fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("Loaded rule catalog", "dir", e.cfg.RulesDir, "rules", catalog.Count())

	result, err := catalog.Sync(ctx, e.rules, nowUTC(), prune)
	if err != nil {
		return result, fmt.Errorf("failed to sync rules: %w", err)
	}
	return result, nil
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
