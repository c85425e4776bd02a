package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MEKXH/gatekeep/internal/config"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize gatekeep configuration and workspace",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configPath := config.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "Config already exists: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()
	for _, dir := range []string{
		config.ConfigDir(),
		cfg.WorkspacePath(),
		filepath.Join(cfg.WorkspacePath(), "state"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintln(out, "Gatekeep initialized!")
	fmt.Fprintf(out, "Config: %s\n", configPath)
	fmt.Fprintf(out, "Workspace: %s\n", cfg.WorkspacePath())
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "1. Edit %s to add a provider key and gateway token\n", configPath)
	fmt.Fprintln(out, "2. Run 'gatekeep run' to start the gateway")
	return nil
}
