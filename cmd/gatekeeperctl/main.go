// Command gatekeeperctl is the operator CLI for a gatekeeper counter store.
//
// Usage:
//
//	gatekeeperctl --config gatekeeper.yaml migrate
//	gatekeeperctl policies
//	gatekeeperctl inspect password_reset alice@example.com
//	gatekeeperctl reset user_login 203.0.113.9
//	gatekeeperctl prune --older-than 720h
package main

import (
	"io"
	"os"

	"github.com/alecthomas/kong"
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("gatekeeperctl"),
		kong.Description("Inspect and maintain gatekeeper rate limit counters."),
		kong.UsageOnError(),
		kong.BindTo(os.Stdout, (*io.Writer)(nil)),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
