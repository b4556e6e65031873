package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/geminiusage/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	var (
		initFile    bool
		sessionsDir string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath
			if path == "" {
				path = config.ConfigPath()
			}

			if initFile {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists", path)
				}
				if err := config.SaveTo(path, a.cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}

			if dir := strings.TrimSpace(sessionsDir); dir != "" {
				if err := config.SaveSessionsDirTo(path, dir); err != nil {
					return err
				}
				cfg, err := config.LoadFrom(path)
				if err != nil {
					return err
				}
				a.cfg = cfg
				fmt.Fprintf(cmd.OutOrStdout(), "sessions_dir set to %s\n", cfg.SessionsDir)
			}

			if initFile || sessionsDir != "" {
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.cfg)
		},
	}

	cmd.Flags().BoolVar(&initFile, "init", false, "write the current settings to the settings file")
	cmd.Flags().StringVar(&sessionsDir, "set-sessions-dir", "", "persist a sessions directory override")
	return cmd
}
