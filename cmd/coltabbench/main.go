// Command coltabbench times the operations of a coltab store: row-at-a-time
// and bulk writes, predicate queries on plain and compressed tables, column
// reads, growable array appends and expression evaluation.
//
// Settings come from defaults, an optional YAML file (--config), COLTABBENCH_*
// environment variables and flags, in increasing priority.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "coltabbench: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.newLogger()
	if err := run(cfg, logger); err != nil {
		logger.Error("coltabbench failed", "err", err)
		os.Exit(1)
	}
}
