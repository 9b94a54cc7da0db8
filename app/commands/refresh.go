package commands

import (
	"errors"
	"fmt"

	"github.com/lysyi3m/samwatch/app/ingest"
)

type RefreshCommand struct {
	Hours int `long:"hours" description:"Refresh every notice modified in the last hours instead of a single notice"`

	Args struct {
		NoticeID string `positional-arg-name:"notice_id" description:"Notice ID to refresh"`
	} `positional-args:"yes"`
}

func (c *RefreshCommand) Execute(args []string) error {
	if c.Args.NoticeID == "" && c.Hours == 0 {
		return errors.New("pass a notice id or --hours")
	}

	env, err := openEnvironment(true)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := commandContext()
	defer cancel()

	refresher := ingest.NewRefresher(env.pipeline())

	if c.Hours > 0 {
		result, err := refresher.RefreshRecent(ctx, c.Hours)
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
		printRun(result)
		return nil
	}

	outcome, found, err := refresher.RefreshOpportunity(ctx, c.Args.NoticeID)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(stdout, "No data returned for notice %s\n", c.Args.NoticeID)
		return nil
	}

	state := "unchanged"
	switch {
	case outcome.Created:
		state = "created"
	case outcome.Updated:
		state = "updated"
	}
	fmt.Fprintf(stdout, "Refreshed %s (%s, %d attachments downloaded)\n", c.Args.NoticeID, state, outcome.AttachmentsDownloaded)
	return nil
}
