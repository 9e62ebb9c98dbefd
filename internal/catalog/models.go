// Package catalog provides the SQLite-backed catalog of saved recordings.
package catalog

import (
	"database/sql"
	"math"
	"time"
)

// Recording is one catalog row.
type Recording struct {
	ID        int64     `json:"id"`
	FilePath  string    `json:"file_path"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	PhotoPath string    `json:"photo_path,omitempty"`
	Favorite  bool      `json:"favorite"`

	// NaN when unset. Both are set or neither is.
	Latitude  float64 `json:"-"`
	Longitude float64 `json:"-"`
	PlaceName string  `json:"place_name,omitempty"`
}

// NewRecording returns an unfavorited recording with no location.
func NewRecording(title, filePath string, createdAt time.Time) Recording {
	return Recording{
		Title:     title,
		FilePath:  filePath,
		CreatedAt: createdAt,
		Latitude:  math.NaN(),
		Longitude: math.NaN(),
	}
}

// HasLocation reports whether both coordinates are set.
func (r Recording) HasLocation() bool {
	return isCoordinate(r.Latitude) && isCoordinate(r.Longitude)
}

// row mirrors the recordings table for sqlx scanning.
type row struct {
	ID        int64           `db:"id"`
	FilePath  string          `db:"file_path"`
	Title     string          `db:"title"`
	CreatedAt int64           `db:"created_at"`
	PhotoPath sql.NullString  `db:"photo_path"`
	Favorite  bool            `db:"is_favorite"`
	Latitude  sql.NullFloat64 `db:"latitude"`
	Longitude sql.NullFloat64 `db:"longitude"`
	PlaceName sql.NullString  `db:"place_name"`
}

func (r row) toRecording() Recording {
	rec := Recording{
		ID:        r.ID,
		FilePath:  r.FilePath,
		Title:     r.Title,
		CreatedAt: time.UnixMilli(r.CreatedAt),
		Favorite:  r.Favorite,
		Latitude:  math.NaN(),
		Longitude: math.NaN(),
	}
	if r.PhotoPath.Valid {
		rec.PhotoPath = r.PhotoPath.String
	}
	if r.Latitude.Valid && r.Longitude.Valid {
		rec.Latitude = r.Latitude.Float64
		rec.Longitude = r.Longitude.Float64
	}
	if r.PlaceName.Valid {
		rec.PlaceName = r.PlaceName.String
	}
	return rec
}

func fromRecording(rec Recording) row {
	lat, lng := coordinates(rec.Latitude, rec.Longitude)
	return row{
		ID:        rec.ID,
		FilePath:  rec.FilePath,
		Title:     rec.Title,
		CreatedAt: rec.CreatedAt.UnixMilli(),
		PhotoPath: nullString(rec.PhotoPath),
		Favorite:  rec.Favorite,
		Latitude:  lat,
		Longitude: lng,
		PlaceName: nullString(rec.PlaceName),
	}
}

// coordinates maps a lat/lng pair to nullable columns, never half-set.
func coordinates(lat, lng float64) (sql.NullFloat64, sql.NullFloat64) {
	if !isCoordinate(lat) || !isCoordinate(lng) {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: lat, Valid: true}, sql.NullFloat64{Float64: lng, Valid: true}
}

func isCoordinate(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
