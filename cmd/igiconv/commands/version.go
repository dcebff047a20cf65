package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "igiconv version %s (%s/%s)\n", a.info.Version, runtime.GOOS, runtime.GOARCH)
			if a.info.BuildTime != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", a.info.BuildTime)
			}
			return nil
		},
	}
}
