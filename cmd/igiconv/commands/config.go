package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"igiconv/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the igiconv configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(a))
	cmd.AddCommand(newConfigCheckCmd(a))
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var path string
	var yes bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Long: `Guides you through setting up igiconv: where the game is installed and
where decoded scripts go. With --yes the defaults are written without
prompting, overwriting an existing file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if existing, err := config.Load(path); err == nil {
				cfg = existing
			}

			if !yes {
				if err := promptConfig(cfg, path); err != nil {
					if errors.Is(err, errAborted) {
						warnf(cmd.OutOrStdout(), "Aborted, %s not written", path)
						return nil
					}
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			a.log.Info("config saved", zap.String("path", path), zap.String("game_dir", cfg.GameDir))
			created(cmd.OutOrStdout(), filepath.ToSlash(path))
			if err := cfg.Check(); err != nil {
				warnf(cmd.OutOrStdout(), "warning: %v", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", config.DefaultPath, "Config file path (.yaml, .yml or .toml)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Write defaults without prompting")
	return cmd
}

var errAborted = errors.New("aborted")

func promptConfig(cfg *config.Config, path string) error {
	if _, err := os.Stat(path); err == nil {
		overwrite := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("%s already exists", path)).
					Description("Overwrite it?").
					Affirmative("Yes, overwrite").
					Negative("No, keep it").
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("interactive prompt failed: %w", err)
		}
		if !overwrite {
			return errAborted
		}
	}

	workers := strconv.Itoa(cfg.Workers)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Game directory").
				Description("The directory holding igi.exe").
				Placeholder(cfg.GameDir).
				Value(&cfg.GameDir).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("game directory is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Work directory").
				Description("Decoded scripts, recompile scripts and reports go here").
				Placeholder(cfg.WorkDir).
				Value(&cfg.WorkDir),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Decompilation mode").
				Options(
					huh.NewOption("Best effort (placeholders and labels where needed)", "best-effort"),
					huh.NewOption("Strict (fail on any diagnostic)", "strict"),
				).
				Value(&cfg.Mode),
			huh.NewInput().
				Title("Workers").
				Description("Modules decompiled concurrently").
				Value(&workers).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return errors.New("must be a positive number")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Write control flow and call graphs?").
				Value(&cfg.Graph),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errAborted
		}
		return fmt.Errorf("interactive prompt failed: %w", err)
	}
	cfg.Workers, _ = strconv.Atoi(workers)
	return nil
}

func newConfigCheckCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file and the directories it names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Check(); err != nil {
				failf(cmd.OutOrStdout(), "Configuration file is not valid.")
				return err
			}
			a.log.Debug("config checked", zap.String("path", path))
			green.Fprintf(cmd.OutOrStdout(), "Configuration is valid: game_dir=%s work_dir=%s\n",
				filepath.ToSlash(cfg.GameDir), filepath.ToSlash(cfg.WorkDir))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", config.DefaultPath, "Config file path (.yaml, .yml or .toml)")
	return cmd
}
