package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/echoprint/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio capture sources",
	Long: `List the capture sources of the configured audio backend. Any of them can
be set as audio.source in the configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		requested, err := audio.ParseBackend(cfg.Audio.Backend)
		if err != nil {
			return err
		}
		backend, err := audio.ResolveBackend(requested)
		if err != nil {
			return err
		}

		fmt.Printf("🎙  Audio Sources (%s, %s)\n", backend, runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		sources, err := audio.Sources(cmd.Context(), backend)
		if err != nil {
			return fmt.Errorf("failed to list %s sources: %w", backend, err)
		}
		if len(sources) == 0 {
			fmt.Printf("The %s backend records from the default source.\n", backend)
			return nil
		}

		fmt.Printf("📋 SOURCES (%d found):\n", len(sources))
		for i, source := range sources {
			marker := " "
			if source == cfg.Audio.Source {
				marker = "*"
			}
			fmt.Printf(" %s%d. %s\n", marker, i+1, source)
		}

		if available := audio.GetAvailableBackends(); len(available) > 1 {
			fmt.Printf("\n💡 Other installed backends: %v (set audio.backend)\n", available)
		}
		return nil
	},
}
