// Command phlexi-push listens to and sends on the PhlexiLeads push channel.
package main

import (
	"context"
	"os"

	"github.com/phlexileads/pushchannel/debug"
	"github.com/phlexileads/pushchannel/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		debug.Logger().Error("fatal error", "err", err)
		os.Exit(1)
	}
}
