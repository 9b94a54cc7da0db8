package commands

import (
	"encoding/json"
	"fmt"
	"strings"
)

type QueryCommand struct {
	Args struct {
		SQL []string `positional-arg-name:"sql" description:"SQL statement to run"`
	} `positional-args:"yes" required:"yes"`
}

func (c *QueryCommand) Execute(args []string) error {
	env, err := openEnvironment(false)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := commandContext()
	defer cancel()

	rows, err := env.db.QueryMaps(ctx, strings.Join(c.Args.SQL, " "))
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}
