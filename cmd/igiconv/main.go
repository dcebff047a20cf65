// Command igiconv converts compiled IGI scripts (QVM) back to QSC source.
package main

import (
	"os"

	"github.com/fatih/color"

	"igiconv/cmd/igiconv/commands"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	root := commands.NewRootCmd(commands.BuildInfo{Version: version, BuildTime: buildTime})
	if err := root.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
