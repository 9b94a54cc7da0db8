package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/samwatch/app/database"
)

// RuleConfig is a rule file. The rule name is the file name without .yml.
type RuleConfig struct {
	Name        string        `yaml:"-"`
	Description string        `yaml:"description"`
	Kind        string        `yaml:"kind"`
	Active      *bool         `yaml:"active"`
	Terms       []Term        `yaml:"terms"`
	SQL         string        `yaml:"sql"`
	Alerts      []AlertConfig `yaml:"alerts"`
}

func (rc *RuleConfig) IsActive() bool {
	return rc.Active == nil || *rc.Active
}

// AlertConfig describes one destination. Target, when set, is stored as is;
// otherwise it is built from the method specific fields.
type AlertConfig struct {
	Method     string            `yaml:"method"`
	Target     string            `yaml:"target"`
	URL        string            `yaml:"url"`
	Headers    map[string]string `yaml:"headers"`
	Recipients []string          `yaml:"recipients"`
	Subject    string            `yaml:"subject"`
	SMTPServer string            `yaml:"smtp_server"`
	SMTPPort   int               `yaml:"smtp_port"`
	UseTLS     *bool             `yaml:"use_tls"`
	Username   string            `yaml:"username"`
	Password   string            `yaml:"password"`
	Sender     string            `yaml:"sender"`
}

type SyncResult struct {
	Synced      int
	Deactivated int64
}

type RuleCatalog struct {
	rulesDir string
	cache    map[string]*RuleConfig
	mu       sync.RWMutex
}

func NewRuleCatalog(rulesDir string) *RuleCatalog {
	return &RuleCatalog{
		rulesDir: rulesDir,
		cache:    make(map[string]*RuleConfig),
	}
}

// Load reads every *.yml file of the rules directory. A missing directory
// yields an empty catalog.
func (rc *RuleCatalog) Load() error {
	if rc.rulesDir == "" {
		return nil
	}
	if _, err := os.Stat(rc.rulesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(rc.rulesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find rule files: %w", err)
	}

	loaded := make(map[string]*RuleConfig, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := parseRuleFile(file)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}
		config.Name = name

		if err := validateRule(config); err != nil {
			return fmt.Errorf("invalid rule %s: %w", file, err)
		}

		loaded[name] = config
		slog.Debug("Rule loaded", "rule", name, "kind", config.Kind, "active", config.IsActive(), "alerts", len(config.Alerts))
	}

	rc.mu.Lock()
	rc.cache = loaded
	rc.mu.Unlock()
	return nil
}

func (rc *RuleCatalog) GetRule(name string) (*RuleConfig, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	config, ok := rc.cache[name]
	if !ok {
		return nil, fmt.Errorf("rule '%s' not found", name)
	}
	return config, nil
}

// Names returns the loaded rule names in sorted order.
func (rc *RuleCatalog) Names() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	names := make([]string, 0, len(rc.cache))
	for name := range rc.cache {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (rc *RuleCatalog) Count() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.cache)
}

// Sync writes every loaded rule and its destinations to the store. With prune
// set, stored rules missing from the catalog are deactivated.
func (rc *RuleCatalog) Sync(ctx context.Context, store database.RuleStore, now time.Time, prune bool) (SyncResult, error) {
	var result SyncResult

	for _, name := range rc.Names() {
		config, err := rc.GetRule(name)
		if err != nil {
			return result, err
		}

		rule, alerts, err := config.toRecords()
		if err != nil {
			return result, fmt.Errorf("failed to convert rule %s: %w", name, err)
		}

		ruleID, err := store.UpsertRule(ctx, rule, now)
		if err != nil {
			return result, err
		}
		if err := store.ReplaceAlerts(ctx, ruleID, alerts, now); err != nil {
			return result, err
		}
		result.Synced++
	}

	if prune {
		n, err := store.DeactivateRulesExcept(ctx, rc.Names(), now)
		if err != nil {
			return result, err
		}
		result.Deactivated = n
	}

	slog.Info("Rules synced", "synced", result.Synced, "deactivated", result.Deactivated)
	return result, nil
}

func (config *RuleConfig) toRecords() (database.Rule, []database.Alert, error) {
	rule := database.Rule{
		Name:        config.Name,
		Description: config.Description,
		Kind:        config.Kind,
		IsActive:    config.IsActive(),
	}

	switch config.Kind {
	case KindSQL:
		rule.Definition = strings.TrimSpace(config.SQL)
	case KindJSON:
		terms := config.Terms
		if terms == nil {
			terms = []Term{}
		}
		definition, err := json.Marshal(JSONRule{Terms: terms})
		if err != nil {
			return rule, nil, err
		}
		rule.Definition = string(definition)
	}

	alerts := make([]database.Alert, 0, len(config.Alerts))
	for _, a := range config.Alerts {
		target, err := a.target()
		if err != nil {
			return rule, nil, err
		}
		alerts = append(alerts, database.Alert{
			DeliveryMethod: strings.ToLower(a.Method),
			Target:         target,
		})
	}
	return rule, alerts, nil
}

func (a AlertConfig) target() (string, error) {
	if a.Target != "" {
		return a.Target, nil
	}

	switch strings.ToLower(a.Method) {
	case MethodWebhook:
		if len(a.Headers) == 0 {
			return a.URL, nil
		}
		b, err := json.Marshal(webhookTarget{URL: a.URL, Headers: a.Headers})
		return string(b), err

	case MethodEmail:
		recipients, err := json.Marshal(a.Recipients)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(emailTarget{
			Server:     a.SMTPServer,
			Port:       a.SMTPPort,
			UseTLS:     a.UseTLS,
			Username:   a.Username,
			Password:   a.Password,
			Sender:     a.Sender,
			Recipients: recipients,
			Subject:    a.Subject,
		})
		return string(b), err

	default:
		return "", nil
	}
}

func parseRuleFile(file string) (*RuleConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config RuleConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.Kind = strings.ToLower(strings.TrimSpace(config.Kind))
	if config.Kind == "" {
		config.Kind = KindJSON
	}
	return &config, nil
}

func validateRule(config *RuleConfig) error {
	if config == nil {
		return fmt.Errorf("rule config is nil")
	}
	if config.Name == "" {
		return fmt.Errorf("rule name is required")
	}

	switch config.Kind {
	case KindSQL:
		if strings.TrimSpace(config.SQL) == "" {
			return fmt.Errorf("sql is required for sql rules")
		}
	case KindJSON:
		for i, term := range config.Terms {
			if term.Field != "" && !database.OpportunityColumns[term.Field] {
				return fmt.Errorf("invalid term field at index %d: %s", i, term.Field)
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, config.Kind)
	}

	validMethods := map[string]bool{
		MethodCLI:     true,
		MethodConsole: true,
		MethodWebhook: true,
		MethodEmail:   true,
	}
	for i, a := range config.Alerts {
		method := strings.ToLower(a.Method)
		if !validMethods[method] {
			return fmt.Errorf("invalid alert method at index %d: %s", i, a.Method)
		}
		if method == MethodWebhook && a.Target == "" && a.URL == "" {
			return fmt.Errorf("alert at index %d must have a url", i)
		}
	}

	return nil
}
