package main

import (
	"log/slog"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/anchorstream/cmd/anchorstream/commands"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("anchorstream"),
		kong.Description("Stream server-driven UI state to named page anchors."),
		kong.Vars{"version": version.String()},
		kong.UsageOnError(),
	)

	global := &commands.Global{Logger: slog.Default()}
	if err := parser.Run(global, cli); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}
