package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/audiolibrelab/echoprint/internal/catalog"
	"github.com/audiolibrelab/echoprint/internal/playback"
	"github.com/audiolibrelab/echoprint/internal/service"
)

// Uploaded photos larger than this are rejected.
const maxPhotoSize = 32 << 20

func (s *Server) requestLog(r *http.Request, op string) *slog.Logger {
	return s.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}

// failErr maps service errors onto HTTP statuses.
func (s *Server) failErr(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		s.fail(w, r, http.StatusNotFound, "recording not found")
	case errors.Is(err, playback.ErrFileNotFound):
		s.fail(w, r, http.StatusNotFound, "File not found.")
	case errors.Is(err, service.ErrNoPhoto):
		s.fail(w, r, http.StatusNotFound, "recording has no photo")
	case errors.Is(err, service.ErrLocationUnavailable):
		s.fail(w, r, http.StatusUnprocessableEntity, "Unable to get current location.")
	case errors.Is(err, service.ErrNotImage):
		s.fail(w, r, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrPermissionDenied):
		s.fail(w, r, http.StatusForbidden, "permission denied")
	default:
		log.Error("request failed", slog.String("error", err.Error()))
		s.fail(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) recordingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(w, r, http.StatusBadRequest, "invalid recording id")
		return 0, false
	}
	return id, true
}

// view resolves the ?view= query parameter, defaulting to the full list.
func (s *Server) view(w http.ResponseWriter, r *http.Request) (*View, bool) {
	name := r.URL.Query().Get("view")
	if name == "" {
		name = ViewAll
	}
	if err := s.validate.Var(name, "oneof=all favorites"); err != nil {
		s.fail(w, r, http.StatusBadRequest, "view must be one of: all favorites")
		return nil, false
	}
	return s.views[name], true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r, "server.handleList")

	recs, err := s.svc.List(r.Context())
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}
	render.JSON(w, r, newRecordingList(recs, s.views[ViewAll]))
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r, "server.handleFavorites")

	recs, err := s.svc.Favorites(r.Context())
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}
	render.JSON(w, r, newRecordingList(recs, s.views[ViewFavorites]))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r, "server.handleGet")

	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	rec, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}
	render.JSON(w, r, newRecordingResponse(*rec, s.views[ViewAll]))
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r, "server.handleFavorite")

	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}

	var req FavoriteRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		if errors.Is(err, io.EOF) {
			s.fail(w, r, http.StatusBadRequest, "empty request")
			return
		}
		log.Error("failed to decode request body", slog.String("error", err.Error()))
		s.fail(w, r, http.StatusBadRequest, "failed to decode request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ValidationError(verrs, middleware.GetReqID(r.Context())))
			return
		}
		s.fail(w, r, http.StatusBadRequest, "invalid request")
		return
	}

	n, err := s.svc.SetFavorite(r.Context(), id, *req.Favorite)
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}
	if n == 0 {
		s.failErr(w, r, log, catalog.ErrNotFound)
		return
	}

	rec, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}
	log.Info("favorite updated", slog.Int64("id", id), slog.Bool("favorite", rec.Favorite))
	render.JSON(w, r, newRecordingResponse(*rec, s.views[ViewAll]))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r, "server.handleDelete")

	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	n, err := s.svc.Delete(r.Context(), id)
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}
	if n == 0 {
		s.failErr(w, r, log, catalog.ErrNotFound)
		return
	}
	render.NoContent(w, r)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r, "server.handlePlay")

	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	view, ok := s.view(w, r)
	if !ok {
		return
	}

	_, playing, err := s.svc.Play(r.Context(), id, view)
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}
	render.JSON(w, r, PlayResponse{ID: id, Playing: playing, Button: view.Label(id)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	view, ok := s.view(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, StopResponse{ID: id, Stopped: s.svc.Stop(id, view)})
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	resp := PlaybackResponse{Views: make(map[string]ViewState, len(s.views))}
	for name, v := range s.views {
		resp.Views[name] = v.State()
	}
	if snap, ok := s.svc.Playback(); ok {
		resp.Active = true
		resp.ID = snap.ID
		resp.Position = snap.Position.Seconds()
		resp.Duration = snap.Duration.Seconds()
		resp.Ratio = snap.Ratio
	}
	render.JSON(w, r, resp)
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r, "server.handlePhoto")

	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	path, err := s.svc.PhotoPath(r.Context(), id)
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}

	f, err := s.blobs.Open(path)
	if err != nil {
		s.failErr(w, r, log, service.ErrNoPhoto)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.failErr(w, r, log, err)
		return
	}

	w.Header().Set("Content-Type", mt.String())
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r, "server.handleUploadPhoto")

	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		s.fail(w, r, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	_, header, err := r.FormFile("photo")
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "no photo provided")
		return
	}

	path, err := s.svc.AttachPhoto(r.Context(), id, uploadSource{header: header}, service.PickPhoto)
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}

	log.Info("photo uploaded", slog.Int64("id", id), slog.Int64("size", header.Size))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, PhotoResponse{ID: id, Path: path, URL: "/api/recordings/" + strconv.FormatInt(id, 10) + "/photo"})
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r, "server.handleLocate")

	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}
	url, err := s.svc.Locate(r.Context(), id)
	if err != nil {
		s.failErr(w, r, log, err)
		return
	}
	render.JSON(w, r, LocateResponse{URL: url})
}

// uploadSource hands a multipart upload to the photo import as a picked file.
type uploadSource struct {
	header *multipart.FileHeader
}

func (uploadSource) RequestPermission(context.Context) (bool, error) { return true, nil }

func (uploadSource) Capture(context.Context) (*service.PhotoFile, error) { return nil, nil }

func (u uploadSource) Pick(context.Context) (*service.PhotoFile, error) {
	header := u.header
	return &service.PhotoFile{
		Name: header.Filename,
		Open: func() (io.ReadCloser, error) { return header.Open() },
	}, nil
}
