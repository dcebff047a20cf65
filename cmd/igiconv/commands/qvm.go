package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zboralski/lattice"
	lrender "github.com/zboralski/lattice/render"
	"go.uber.org/zap"

	"igiconv/internal/batch"
	"igiconv/internal/callgraph"
	"igiconv/internal/config"
	"igiconv/internal/decompile"
	"igiconv/internal/disasm"
	"igiconv/internal/output"
	"igiconv/internal/qvmfmt"
	"igiconv/internal/render"
)

func newQVMCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qvm",
		Short: "Commands for compiled scripts (.qvm)",
	}
	cmd.AddCommand(newDecompileCmd(a))
	cmd.AddCommand(newDisasmCmd(a))
	cmd.AddCommand(newGraphCmd(a))
	cmd.AddCommand(newConvertAllCmd(a))
	return cmd
}

func newDecompileCmd(a *app) *cobra.Command {
	var strict, force bool
	cmd := &cobra.Command{
		Use:   "decompile <src.qvm> [dst.qsc]",
		Short: "Decompile one .qvm file to QSC source",
		Long: `Decompiles a single compiled script. The output defaults to the input
path with a .qsc extension. Diagnostics are printed as warnings; with
--strict any diagnostic fails the conversion and nothing is written.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			dst := strings.TrimSuffix(src, filepath.Ext(src)) + ".qsc"
			if len(args) == 2 {
				dst = args[1]
			}
			if !force {
				if _, err := os.Stat(dst); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", dst)
				}
			}

			data, err := os.ReadFile(src)
			if err != nil {
				return fmt.Errorf("read %s: %w", src, err)
			}
			opts := qvmfmt.Options{}
			if strict {
				opts.Mode = qvmfmt.ModeStrict
			}
			res, err := decompile.Decompile(filepath.Base(src), data, opts)
			if err != nil {
				return err
			}
			for _, d := range res.Diags.Items() {
				warnf(cmd.ErrOrStderr(), "warning: %s", d)
			}
			a.log.Info("decompiled", zap.String("script", src),
				zap.Int("blocks", len(res.CFG.Blocks)),
				zap.Int("diags", res.Diags.Len()))

			if err := output.WriteQSC(dst, res.Text); err != nil {
				return err
			}
			created(cmd.OutOrStdout(), filepath.ToSlash(dst))
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on any diagnostic instead of emitting placeholders")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing output file")
	return cmd
}

func newDisasmCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "disasm <src.qvm>",
		Short: "Print the disassembly of one .qvm file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			m, insts, err := decompile.Disassemble(filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			a.log.Debug("disassembled", zap.String("script", args[0]),
				zap.Int("insts", len(insts)),
				zap.Int("symbols", len(m.Symbols)),
				zap.Int("strings", len(m.Strings)))

			var text string
			if p, err := disasm.Layout(insts); err != nil {
				a.log.Warn("call layout failed, listing linearly", zap.Error(err))
				text = disasm.Format(insts, m)
			} else {
				text = disasm.FormatProgram(p, m)
			}
			if out == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), text)
				return err
			}
			if err := output.WriteListing(out, text); err != nil {
				return err
			}
			created(cmd.OutOrStdout(), filepath.ToSlash(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the listing to a file instead of stdout")
	return cmd
}

func newGraphCmd(a *app) *cobra.Command {
	var out string
	var useLattice bool
	cmd := &cobra.Command{
		Use:   "graph <src.qvm>",
		Short: "Render the control flow graph of one .qvm file as DOT",
		Long: `Renders the top-level control flow graph. The default view lists each
block's instructions and draws loops as clusters; --lattice renders the
call-site summary view instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			name := filepath.Base(args[0])
			res, err := decompile.Decompile(name, data, qvmfmt.Options{})
			if err != nil {
				return err
			}

			var dot string
			if useLattice {
				lcfg, _ := callgraph.BuildFuncCFG(res.CFG, res.Module, true)
				dot = lrender.DOTCFG(&lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}, name)
			} else {
				dot = render.CFGDOT(res.CFG, res.Module, render.NASA)
			}
			a.log.Debug("graph rendered", zap.String("script", args[0]),
				zap.Int("blocks", len(res.CFG.Blocks)),
				zap.Int("loops", len(res.CFG.Loops)))

			if out == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), dot)
				return err
			}
			if err := output.WriteDOT(out, dot); err != nil {
				return err
			}
			created(cmd.OutOrStdout(), filepath.ToSlash(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the graph to a file instead of stdout")
	cmd.Flags().BoolVar(&useLattice, "lattice", false, "Render the call-site summary view")
	return cmd
}

func newConvertAllCmd(a *app) *cobra.Command {
	var (
		cfgPath  string
		workers  int
		graph    bool
		noCache  bool
		failFast bool
		strict   bool
	)
	cmd := &cobra.Command{
		Use:   "convert-all",
		Short: "Decompile every .qvm file in the configured game directory",
		Long: `Decompiles every .qvm file under game_dir into work_dir/decoded, keeping
the directory layout. Also writes work_dir/scripts/encode-all-qvm.qsc, which
recompiles the decoded scripts, and a JSON report in work_dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Check(); err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if graph {
				cfg.Graph = true
			}
			if noCache {
				cfg.Cache = false
			}
			if strict {
				cfg.Mode = qvmfmt.ModeStrict.String()
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// The config file picks the logger unless flags override it.
			log := a.log
			if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("log-format") {
				if log, err = newLogger(cmd, cfg.Log.Level, cfg.Log.Format); err != nil {
					return err
				}
				defer func() { _ = log.Sync() }()
			}

			opts := batch.FromConfig(cfg)
			opts.FailFast = failFast
			opts.Log = log
			opts.OnCreated = func(path string) { created(cmd.OutOrStdout(), filepath.ToSlash(path)) }

			green.Fprintf(cmd.OutOrStdout(), "Converting .qvm files from %s to %s\n",
				filepath.ToSlash(cfg.GameDir), filepath.ToSlash(cfg.DecodedDir()))
			rep, err := batch.Run(cmd.Context(), opts)
			if rep == nil {
				return err
			}
			if rep.Script != "" {
				warnf(cmd.OutOrStdout(), "QSC script saved: %s", filepath.ToSlash(rep.Script))
			}
			if rep.CallGraph != "" {
				warnf(cmd.OutOrStdout(), "Call graph saved: %s", filepath.ToSlash(rep.CallGraph))
			}
			summary := fmt.Sprintf("%d converted, %d cached, %d failed, %d with warnings",
				rep.Converted, rep.Cached, rep.Failed, rep.Degraded)
			if rep.Failed > 0 {
				failf(cmd.OutOrStdout(), "%s", summary)
				for _, it := range rep.Items {
					if it.Status == batch.StatusFailed {
						failf(cmd.ErrOrStderr(), "  %s: %s", it.Input, it.Error)
					}
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), summary)
			}
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("interrupted: %w", err)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "Config file path (.yaml, .yml or .toml)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of modules decompiled concurrently (default from config)")
	cmd.Flags().BoolVar(&graph, "graph", false, "Also write CFG and call graph DOT files")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Reconvert inputs even if unchanged")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop at the first module that fails")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail modules with any diagnostic")
	return cmd
}
