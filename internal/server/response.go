package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/audiolibrelab/echoprint/internal/catalog"
	"github.com/audiolibrelab/echoprint/internal/service"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ValidationError turns validator failures into a single message.
func ValidationError(errs validator.ValidationErrors, requestID string) ErrorResponse {
	var msgs []string
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of %s", err.Field(), err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return ErrorResponse{Error: strings.Join(msgs, ", "), RequestID: requestID}
}

// RecordingResponse is a catalog row as seen by a list view.
type RecordingResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Favorite  bool      `json:"favorite"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	PlaceName string    `json:"place_name,omitempty"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	MapURL    string    `json:"map_url,omitempty"`
	Button    string    `json:"button"`
}

func newRecordingResponse(rec catalog.Recording, view *View) RecordingResponse {
	resp := RecordingResponse{
		ID:        rec.ID,
		Title:     rec.Title,
		CreatedAt: rec.CreatedAt,
		Favorite:  rec.Favorite,
		PlaceName: rec.PlaceName,
		Button:    view.Label(rec.ID),
	}
	if rec.HasLocation() {
		lat, lng := rec.Latitude, rec.Longitude
		resp.Latitude = &lat
		resp.Longitude = &lng
		resp.MapURL = service.MapURL(lat, lng)
	}
	if rec.PhotoPath != "" {
		resp.PhotoURL = fmt.Sprintf("/api/recordings/%d/photo", rec.ID)
	}
	return resp
}

func newRecordingList(recs []catalog.Recording, view *View) []RecordingResponse {
	out := make([]RecordingResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newRecordingResponse(rec, view))
	}
	return out
}

type FavoriteRequest struct {
	Favorite *bool `json:"favorite" validate:"required"`
}

type PlayResponse struct {
	ID      int64  `json:"id"`
	Playing bool   `json:"playing"`
	Button  string `json:"button"`
}

type StopResponse struct {
	ID      int64 `json:"id"`
	Stopped bool  `json:"stopped"`
}

// PlaybackResponse reports the shared session and each view's button state.
type PlaybackResponse struct {
	Active   bool                 `json:"active"`
	ID       int64                `json:"id,omitempty"`
	Position float64              `json:"position_seconds"`
	Duration float64              `json:"duration_seconds"`
	Ratio    float64              `json:"ratio"`
	Views    map[string]ViewState `json:"views"`
}

type LocateResponse struct {
	URL string `json:"url"`
}

type PhotoResponse struct {
	ID   int64  `json:"id"`
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}
