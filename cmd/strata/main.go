// Command strata drives a persistence manager from the command line.
// It loads <app-id>.schema.yaml from the schema directory and keeps
// records in <app-id>.db under the data directory.
package main

import (
	"errors"
	"os"

	"github.com/jrife/strata/persistence"
	"go.uber.org/zap"
)

func main() {
	a := newApp(os.Stdout)
	err := a.execute(os.Args[1:])

	if errors.Is(err, persistence.ErrStartup) {
		a.logger.Fatal("could not start", zap.Error(err))
	}

	if err != nil {
		os.Exit(1)
	}
}
