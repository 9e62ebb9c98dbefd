package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/echoprint/internal/audio"
	"github.com/audiolibrelab/echoprint/internal/session"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a new audio note",
	Long: `Record from the configured microphone until Enter or Ctrl+C is pressed.
The take is then played back while you decide whether to keep it and what
to call it. Saved recordings are tagged with the current location in the
background.

With the default settings the location comes from an IP lookup at
location.ip_lookup_url (ip-api.com, plain HTTP on its free tier), which sends
your public IP address to that service. Set location.static or
location.enabled=false to avoid it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg)
		defer a.close()

		// Capture tool output only at -v 2
		var logWriter io.Writer
		if verboseLevel >= 2 {
			logWriter = os.Stderr
		}
		mic := audio.NewExecRecorder(cfg, logWriter).WithCapturePath(a.vault.CapturePath)
		defer mic.Cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prompter := newTerminalPrompter(os.Stdin, os.Stdout)
		deps := session.Deps{
			Microphone: mic,
			Vault:      a.vault,
			Catalog:    a.catalog,
			Player:     a.player,
			Prompter:   prompter,
			Haptics:    audio.NewBell(os.Stdout),
		}

		worker := a.newEnricher()
		if worker != nil {
			worker.Start(context.Background())
			deps.Enricher = worker
			defer drain(worker.Shutdown)
		}

		s := session.New(deps)
		if err := s.Start(ctx); err != nil {
			if errors.Is(err, session.ErrPermissionDenied) {
				return fmt.Errorf("microphone unavailable: check the audio backend and source (see 'echoprint sources')")
			}
			return err
		}

		fmt.Println("Recording... press Enter or Ctrl+C to stop")
		// Any line, end of input or a signal ends the capture
		prompter.readLine(ctx)
		stop()

		// Ctrl+C is no longer trapped while the save dialog runs
		result, err := s.Stop(context.Background())
		if err != nil {
			return err
		}
		slog.Debug("Recording session finished", "outcome", result.Outcome)
		return nil
	},
}

// drain gives background location lookups the configured time to finish.
func drain(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Enrich.DrainTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("Some recordings were saved without a location", "error", err)
	}
}
