package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/audiolibrelab/echoprint/internal/config"
	"github.com/audiolibrelab/echoprint/internal/service"
	"github.com/audiolibrelab/echoprint/internal/vault"
)

const (
	ViewAll       = "all"
	ViewFavorites = "favorites"
)

const shutdownTimeout = 5 * time.Second

// Server exposes the recording lists over HTTP. Each list view is its own
// playback surface sharing the single playback controller.
type Server struct {
	svc      service.Service
	blobs    *vault.Vault
	cfg      config.ServerConfig
	log      *slog.Logger
	validate *validator.Validate
	views    map[string]*View
}

func New(svc service.Service, blobs *vault.Vault, cfg config.ServerConfig) *Server {
	return &Server{
		svc:      svc,
		blobs:    blobs,
		cfg:      cfg,
		log:      slog.Default().With(slog.String("component", "server")),
		validate: validator.New(),
		views: map[string]*View{
			ViewAll:       NewView(ViewAll),
			ViewFavorites: NewView(ViewFavorites),
		},
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/recordings", s.handleList)
		r.Get("/favorites", s.handleFavorites)
		r.Get("/playback", s.handlePlayback)

		r.Route("/recordings/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Put("/favorite", s.handleFavorite)
			r.Post("/play", s.handlePlay)
			r.Post("/stop", s.handleStop)
			r.Get("/photo", s.handlePhoto)
			r.Post("/photo", s.handleUploadPhoto)
			r.Post("/locate", s.handleLocate)
		})
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("Starting EchoPrint web server",
		"addr", addr,
		"local_url", fmt.Sprintf("http://%s:%d", getLocalIP(), s.cfg.Port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("Shutting down web server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Debug("request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func getLocalIP() string {
	// Dialing UDP sends nothing; it only selects the outbound interface
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
