package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/lysyi3m/samwatch/app/ingest"
	"github.com/lysyi3m/samwatch/app/samapi"
)

// Register adds every SAMWatch command to parser.
func Register(parser *flags.Parser) error {
	commands := []struct {
		name  string
		short string
		long  string
		data  any
	}{
		{"serve", "Run the scheduler and HTTP server", "Runs hot, warm and cold sweeps plus rule evaluation on their intervals and serves the HTTP API.", &ServeCommand{}},
		{"run", "Execute ingestion sweeps", "Runs the selected sweeps once and exits.", &RunCommand{}},
		{"backfill", "Plan backfill windows for historical sweeps", "Prints the cold sweep windows covering a date range, optionally running them.", &BackfillCommand{}},
		{"query", "Run raw SQL against the database", "Executes a statement and prints the rows as JSON.", &QueryCommand{}},
		{"status", "Print a quick status summary", "", &StatusCommand{}},
		{"refresh", "Refresh opportunities from the API", "Re-ingests one notice, or every notice modified in the last hours.", &RefreshCommand{}},
		{"alerts", "Evaluate all rules and notify new matches", "", &AlertsCommand{}},
		{"rules", "Manage the rule catalog", "", &RulesCommand{}},
		{"matches", "List stored matches of a rule", "", &MatchesCommand{}},
	}

	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			return fmt.Errorf("failed to register command %s: %w", c.name, err)
		}
	}
	return nil
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func parseDate(value string) (time.Time, error) {
	t, err := time.Parse(samapi.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return t, nil
}

func printRun(result ingest.RunResult) {
	window := ""
	if result.WindowStart != "" {
		window = fmt.Sprintf(" %s..%s", result.WindowStart, result.WindowEnd)
	}
	m := result.Metrics
	fmt.Fprintf(stdout, "%s run %d%s: %d processed, %d created, %d updated, %d failed, %d attachments\n",
		result.Kind, result.RunID, window, m.Processed, m.Created, m.Updated, m.Failed, m.AttachmentsDownloaded)
}
