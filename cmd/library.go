package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/echoprint/internal/catalog"
	"github.com/audiolibrelab/echoprint/internal/photo"
	"github.com/audiolibrelab/echoprint/internal/playback"
	"github.com/audiolibrelab/echoprint/internal/service"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all recordings, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg)
		defer a.close()

		recs, err := a.library.List(cmd.Context())
		if err != nil {
			return err
		}
		printRecordings(recs)
		return nil
	},
}

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "List favorite recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg)
		defer a.close()

		recs, err := a.library.Favorites(cmd.Context())
		if err != nil {
			return err
		}
		printRecordings(recs)
		return nil
	},
}

var favCmd = &cobra.Command{
	Use:   "fav <id>",
	Short: "Toggle the favorite flag of a recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a := newApp(cfg)
		defer a.close()

		fav, err := a.library.ToggleFavorite(cmd.Context(), id)
		if err != nil {
			return err
		}
		if fav {
			fmt.Printf("★ Recording %d added to favorites\n", id)
		} else {
			fmt.Printf("☆ Recording %d removed from favorites\n", id)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a recording and its audio file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a := newApp(cfg)
		defer a.close()

		n, err := a.library.Delete(cmd.Context(), id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("recording %d: %w", id, catalog.ErrNotFound)
		}
		fmt.Printf("Recording %d deleted\n", id)
		return nil
	},
}

var mapCmd = &cobra.Command{
	Use:   "map <id>",
	Short: "Print a map link for where a recording was made",
	Long: `Print a map link for the recording's location. Recordings without a
location are tagged with the current location first, which may look up your
public IP address (see 'echoprint record --help').`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a := newApp(cfg)
		defer a.close()

		url, err := a.library.Locate(cmd.Context(), id)
		if errors.Is(err, service.ErrLocationUnavailable) {
			return errors.New("unable to get current location")
		}
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	},
}

var photoCmd = &cobra.Command{
	Use:   "photo <id>",
	Short: "Attach a photo to a recording",
	Long: `Attach a photo to a recording, either from an image file (--file) or by
taking a picture with the configured webcam (--camera).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		camera, _ := cmd.Flags().GetBool("camera")
		if (file == "") == !camera {
			return errors.New("specify exactly one of --file or --camera")
		}

		a := newApp(cfg)
		defer a.close()

		source := &photo.Source{}
		mode := service.PickPhoto
		if camera {
			source.Camera = photo.NewWebcamCapture(cfg.Photo.VideoDevice)
			mode = service.TakePhoto
		} else {
			source.Picker = photo.NewFilePicker(afero.NewOsFs(), file)
		}

		path, err := a.library.AttachPhoto(cmd.Context(), id, source, mode)
		if errors.Is(err, service.ErrPermissionDenied) {
			return errors.New("camera and storage permissions are required")
		}
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Println("No photo attached")
			return nil
		}
		fmt.Printf("Photo attached: %s\n", path)
		return nil
	},
}

var playCmd = &cobra.Command{
	Use:   "play <id>",
	Short: "Play a recording",
	Long:  `Play a recording with a progress bar. Press Ctrl+C to stop.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a := newApp(cfg)
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bar := newProgressBar(os.Stdout)
		rec, err := a.library.Get(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("▶ %s\n", rec.Title)

		if _, _, err := a.library.Play(ctx, id, bar); err != nil {
			if errors.Is(err, playback.ErrFileNotFound) {
				return errors.New("file not found")
			}
			return err
		}

		select {
		case <-bar.Done():
		case <-ctx.Done():
			a.library.Stop(id, bar)
		}
		return nil
	},
}

func printRecordings(recs []catalog.Recording) {
	if len(recs) == 0 {
		fmt.Println("No recordings")
		return
	}
	for _, rec := range recs {
		star := " "
		if rec.Favorite {
			star = "★"
		}
		place := rec.PlaceName
		if place == "" && rec.HasLocation() {
			place = fmt.Sprintf("%.4f, %.4f", rec.Latitude, rec.Longitude)
		}
		photoMark := ""
		if rec.PhotoPath != "" {
			photoMark = " [photo]"
		}
		fmt.Printf("%4d %s %-30s %s  %s%s\n", rec.ID, star, rec.Title, formatTime(rec.CreatedAt), place, photoMark)
	}
}

func init() {
	photoCmd.Flags().String("file", "", "image file to attach")
	photoCmd.Flags().Bool("camera", false, "take a picture with the webcam")
}
