package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/jszwec/csvutil"

	"github.com/lysyi3m/samwatch/app/alerts"
	"github.com/lysyi3m/samwatch/app/database"
)

type MatchesCommand struct {
	Limit  int    `long:"limit" default:"50" description:"Maximum number of matches"`
	Format string `long:"format" default:"table" choice:"table" choice:"csv" choice:"json" description:"Output format"`

	Args struct {
		Rule string `positional-arg-name:"rule" description:"Rule id or name"`
	} `positional-args:"yes" required:"yes"`
}

// matchRow is one exported match.
type matchRow struct {
	RuleID         int64          `csv:"rule_id" json:"rule_id"`
	NoticeID       string         `csv:"notice_id" json:"notice_id"`
	Title          string         `csv:"title" json:"title"`
	Agency         string         `csv:"agency" json:"agency"`
	PostedAt       string         `csv:"posted_at" json:"posted_at"`
	URL            string         `csv:"url" json:"url"`
	FirstMatchedAt string         `csv:"first_matched_at" json:"first_matched_at"`
	MatchedAt      string         `csv:"matched_at" json:"matched_at"`
	PayloadJSON    string         `csv:"payload" json:"-"`
	Payload        map[string]any `csv:"-" json:"payload,omitempty"`
}

func (c *MatchesCommand) Execute(args []string) error {
	env, err := openEnvironment(false)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := commandContext()
	defer cancel()

	rule, err := findRule(ctx, env.rules, c.Args.Rule)
	if err != nil {
		return err
	}

	matches, err := env.matches.ListMatches(ctx, rule.ID, c.Limit)
	if err != nil {
		return err
	}

	rows := make([]matchRow, 0, len(matches))
	for _, m := range matches {
		row := matchRow{
			RuleID:         m.RuleID,
			NoticeID:       m.NoticeID,
			Title:          m.Title,
			Agency:         m.Agency,
			PostedAt:       m.PostedAt,
			URL:            alerts.ViewURL(m.NoticeID),
			FirstMatchedAt: database.FormatTime(m.FirstMatchedAt),
			MatchedAt:      database.FormatTime(m.MatchedAt),
			Payload:        m.Payload,
		}
		if len(m.Payload) > 0 {
			if b, err := json.Marshal(m.Payload); err == nil {
				row.PayloadJSON = string(b)
			}
		}
		rows = append(rows, row)
	}

	switch c.Format {
	case "csv":
		out, err := csvutil.Marshal(rows)
		if err != nil {
			return fmt.Errorf("failed to encode csv: %w", err)
		}
		_, err = stdout.Write(out)
		return err
	case "json":
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode matches: %w", err)
		}
		fmt.Fprintln(stdout, string(out))
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Rule %s: %d match(es)\n", rule.Name, len(rows))
	fmt.Fprintln(tw, "NOTICE\tTITLE\tAGENCY\tPOSTED\tMATCHED")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.NoticeID, row.Title, row.Agency, row.PostedAt, row.MatchedAt)
	}
	return tw.Flush()
}

func findRule(ctx context.Context, store database.RuleStore, ref string) (*database.Rule, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		rule, err := store.GetRule(ctx, id)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return rule, nil
		}
	}

	rules, err := store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if rule.Name == ref {
			return &rule, nil
		}
	}
	return nil, fmt.Errorf("rule not found: %s", ref)
}
