// Package commands provides the CLI commands for igiconv.
package commands

import (
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"igiconv/internal/logging"
)

// BuildInfo is stamped by the linker.
type BuildInfo struct {
	Version   string
	BuildTime string
}

// app holds state shared by all commands of one invocation.
type app struct {
	info      BuildInfo
	logLevel  string
	logFormat string
	log       *zap.Logger
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

// NewRootCmd builds the igiconv command tree.
func NewRootCmd(info BuildInfo) *cobra.Command {
	a := &app{info: info, log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "igiconv",
		Short: "igiconv - IGI compiled script decompiler",
		Long: `igiconv converts compiled IGI mission scripts (.qvm) back into QSC source.

Commands:
  qvm decompile    Decompile one .qvm file
  qvm disasm       Print the disassembly of one .qvm file
  qvm graph        Render the control flow graph of one .qvm file
  qvm convert-all  Decompile every .qvm file in the configured game directory
  config init      Create a configuration file
  config check     Validate a configuration file
  version          Print version information

Use "igiconv [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd, a.logLevel, a.logFormat)
			if err != nil {
				return err
			}
			a.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "console", "Log encoding (console or json)")

	root.AddCommand(newQVMCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newVersionCmd(a))
	return root
}

func newLogger(cmd *cobra.Command, level, format string) (*zap.Logger, error) {
	return logging.New(logging.Options{Level: level, Format: format, Out: cmd.ErrOrStderr()})
}

func created(w io.Writer, path string) {
	green.Fprintf(w, "Created %s\n", path)
}

func warnf(w io.Writer, format string, args ...any) {
	yellow.Fprintf(w, format+"\n", args...)
}

func failf(w io.Writer, format string, args ...any) {
	red.Fprintf(w, format+"\n", args...)
}
