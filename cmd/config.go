package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/echoprint/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage EchoPrint configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in $EDITOR. A missing file is first written
with the built-in defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}

		configPath := cfgFile
		if configPath == "" {
			configPath = config.DefaultFile()
		}

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			out, err := yaml.Marshal(config.Default())
			if err != nil {
				return fmt.Errorf("error marshaling config: %w", err)
			}
			if err := os.WriteFile(configPath, out, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", configPath, err)
			}
		}

		fmt.Printf("Opening %s with %s...\n", configPath, editor)
		c := exec.Command(editor, configPath)
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("editor failed: %w", err)
		}

		if _, err := config.Load(configPath, true); err != nil {
			return fmt.Errorf("edited configuration is invalid: %w", err)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
}
