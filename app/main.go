package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/lysyi3m/samwatch/app/cfg"
	"github.com/lysyi3m/samwatch/app/commands"
)

func main() {
	parser := cfg.NewParser()
	if err := commands.Register(parser); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}
