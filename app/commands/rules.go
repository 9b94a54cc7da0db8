package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

type RulesCommand struct {
	Sync RulesSyncCommand `command:"sync" description:"Load rule files and write them to the database"`
	List RulesListCommand `command:"list" description:"List stored rules and their destinations"`
}

type RulesSyncCommand struct {
	Prune bool `long:"prune" description:"Deactivate stored rules that no longer have a file"`
}

func (c *RulesSyncCommand) Execute(args []string) error {
	env, err := openEnvironment(false)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := commandContext()
	defer cancel()

	result, err := env.syncRules(ctx, c.Prune)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Synced %d rules, deactivated %d\n", result.Synced, result.Deactivated)
	return nil
}

type RulesListCommand struct{}

func (c *RulesListCommand) Execute(args []string) error {
	env, err := openEnvironment(false)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := commandContext()
	defer cancel()

	rules, err := env.rules.ListRules(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tACTIVE\tDESTINATIONS")
	for _, rule := range rules {
		destinations, err := env.rules.ListAlerts(ctx, rule.ID)
		if err != nil {
			return err
		}
		methods := make([]string, 0, len(destinations))
		for _, d := range destinations {
			methods = append(methods, d.DeliveryMethod)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", rule.ID, rule.Name, rule.Kind, rule.IsActive, strings.Join(methods, ","))
	}
	return tw.Flush()
}
