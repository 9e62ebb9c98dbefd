package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/echoprint/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "echoprint",
	Short: "Record, tag and replay voice notes",
	Long: `EchoPrint records audio notes from the microphone, tags each saved
recording with where it was made, and lets you play, favorite, photograph
and delete recordings from the command line or a small web interface.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		explicit := cfgFile != ""
		path := cfgFile
		if path == "" {
			path = config.DefaultFile()
		}

		var err error
		cfg, err = config.Load(path, explicit)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.Debug("Configuration loaded", "file", path, "root", cfg.Storage.Root)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/echoprint.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=capture tool output")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(favoritesCmd)
	rootCmd.AddCommand(favCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(photoCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
}
